package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "neuroface-id/internal/errors"
	"neuroface-id/internal/logger"
	"neuroface-id/pkg/models"
)

const maxResponseBytes = 4 << 20

// HTTPClientOptions configures the local-service client
type HTTPClientOptions struct {
	Endpoint string
	// Timeout applies to each attempt, not to the whole call
	Timeout time.Duration
	Retry   RetryPolicy
}

// HTTPClient posts images to a local /api/analyze endpoint
type HTTPClient struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	retry    RetryPolicy
}

// analyzeRequest is the JSON body sent to the local service
type analyzeRequest struct {
	Image     string `json:"image"`
	MIMEType  string `json:"mimeType"`
	ModelArch string `json:"modelArch"`
}

// statusError is a non-success HTTP response
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.message)
}

func (e *statusError) retryable() bool {
	switch e.status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// malformedError is a success response whose body could not be parsed
type malformedError struct{ err error }

func (e *malformedError) Error() string { return e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

// requestError is a request that could not be built; retrying cannot help
type requestError struct{ err error }

func (e *requestError) Error() string { return "invalid request: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:           10,
		MaxIdleConnsPerHost:    2,
		IdleConnTimeout:        30 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ExpectContinueTimeout:  1 * time.Second,
		MaxResponseHeaderBytes: 4096,
	}

	return &HTTPClient{
		endpoint: opts.Endpoint,
		timeout:  opts.Timeout,
		retry:    opts.Retry,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
}

func (c *HTTPClient) Name() string { return "local" }

// Analyze performs one logical round trip, retrying once on transient
// transport failures and gateway statuses.
func (c *HTTPClient) Analyze(ctx context.Context, img *models.CapturedImage, arch models.Architecture) (*models.AnalysisResult, error) {
	if img == nil || len(img.Bytes) == 0 {
		return nil, apperrors.NewValidationError("No image to analyze", nil)
	}

	body, err := json.Marshal(analyzeRequest{
		Image:     base64.StdEncoding.EncodeToString(img.Bytes),
		MIMEType:  img.MIMEType,
		ModelArch: arch.String(),
	})
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to encode analysis request", err)
	}

	var result *models.AnalysisResult
	start := time.Now()
	err = withRetry(ctx, c.retry, "analyze.local", c.retryable, func(attempt int) error {
		r, err := c.do(ctx, body)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	log := logger.WithComponent("analysis").WithFields(logrus.Fields{
		"backend":    c.Name(),
		"model_arch": arch,
		"duration":   time.Since(start),
	})
	if err != nil {
		log.WithError(err).Warn("Local analysis failed")
		return nil, c.translate(ctx, err)
	}
	log.Debug("Local analysis succeeded")
	return result, nil
}

func (c *HTTPClient) do(ctx context.Context, body []byte) (*models.AnalysisResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &requestError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "NeuroFace-ID/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{status: resp.StatusCode, message: decodeError(data, resp.StatusCode)}
	}

	result, err := decodeResult(data)
	if err != nil {
		return nil, &malformedError{err: err}
	}
	return result, nil
}

func (c *HTTPClient) retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	var me *malformedError
	if errors.As(err, &me) {
		return false
	}
	var re *requestError
	if errors.As(err, &re) {
		return false
	}
	// Anything else is a transport failure
	return true
}

// translate maps the last attempt's failure to a user-facing AnalysisError
func (c *HTTPClient) translate(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.NewAnalysisError("Analysis was cancelled.", ctxErr)
	}

	var se *statusError
	if errors.As(err, &se) {
		return apperrors.NewAnalysisError(se.message, err)
	}
	var me *malformedError
	if errors.As(err, &me) {
		return apperrors.NewAnalysisError("Invalid response from analysis service.", err)
	}
	var re *requestError
	if errors.As(err, &re) {
		return apperrors.NewAnalysisError("Invalid analysis service endpoint.", err)
	}
	if isTransientError(err) {
		return apperrors.NewAnalysisError("Analysis request timed out.", err)
	}
	return apperrors.NewAnalysisError("Unable to connect to the analysis service.", err)
}

package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	apperrors "neuroface-id/internal/errors"
	"neuroface-id/internal/logger"
	"neuroface-id/pkg/models"
)

// GeminiFailureMessage is the only text users see when the generative service fails
const GeminiFailureMessage = "Failed to analyze image. Please try again."

// contentGenerator is the part of *genai.GenerativeModel the client calls
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiOptions configures the generative-service client
type GeminiOptions struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Retry   RetryPolicy
}

// GeminiClient asks a multimodal model to simulate a classification for the
// selected architecture and return it as constrained JSON.
type GeminiClient struct {
	client  *genai.Client
	model   contentGenerator
	timeout time.Duration
	retry   RetryPolicy
}

func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(opts.Model)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = responseSchema()

	g := newGeminiClient(model, opts.Timeout, opts.Retry)
	g.client = client
	return g, nil
}

func newGeminiClient(model contentGenerator, timeout time.Duration, retry RetryPolicy) *GeminiClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiClient{model: model, timeout: timeout, retry: retry}
}

// responseSchema constrains the model to the fixed field set
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"predictedClass":       {Type: genai.TypeString},
			"confidence":           {Type: genai.TypeString},
			"features":             {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"architecturalInsight": {Type: genai.TypeString},
		},
	}
}

func buildPrompt(arch models.Architecture) string {
	return fmt.Sprintf(`Act as a computer vision research system powered by the %[1]s architecture.
Analyze the provided image.

Return a JSON response with the following fields:
1. predictedClass: The single most likely object class label.
2. confidence: A simulated confidence score (e.g., "99.2%%") typical for %[1]s.
3. features: An array of 3-5 key visual features detected.
4. architecturalInsight: A brief specific comment on how the %[1]s architecture (e.g., attention maps for ViT, residual blocks for ResNet, compound scaling for EfficientNet) would process this specific image features.`, arch)
}

func (c *GeminiClient) Name() string { return "gemini" }

func (c *GeminiClient) Analyze(ctx context.Context, img *models.CapturedImage, arch models.Architecture) (*models.AnalysisResult, error) {
	if img == nil || len(img.Bytes) == 0 {
		return nil, apperrors.NewValidationError("No image to analyze", nil)
	}

	parts := []genai.Part{
		genai.Blob{MIMEType: img.MIMEType, Data: img.Bytes},
		genai.Text(buildPrompt(arch)),
	}

	var text string
	start := time.Now()
	err := withRetry(ctx, c.retry, "analyze.gemini", isRetryableGeminiError, func(attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.model.GenerateContent(attemptCtx, parts...)
		if err != nil {
			return err
		}
		text, err = responseText(resp)
		return err
	})

	log := logger.WithComponent("analysis").WithFields(logrus.Fields{
		"backend":    c.Name(),
		"model_arch": arch,
		"duration":   time.Since(start),
	})
	if err != nil {
		log.WithError(err).Error("Gemini analysis failed")
		return nil, apperrors.NewAnalysisError(GeminiFailureMessage, err)
	}

	result, err := decodeResult([]byte(text))
	if err != nil {
		log.WithError(err).Error("Gemini returned unparseable JSON")
		return nil, apperrors.NewAnalysisError(GeminiFailureMessage, err)
	}
	result.RawAnalysis = text
	log.Debug("Gemini analysis succeeded")
	return result, nil
}

// Close releases the underlying connection
func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("no response from gemini")
	}
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", errors.New("no response from gemini")
	}
	return sb.String(), nil
}

func isRetryableGeminiError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return isTransientError(err)
}

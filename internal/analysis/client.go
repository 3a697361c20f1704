// Package analysis submits a captured image to an external analysis service
// and normalizes whatever it answers into models.AnalysisResult.
package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"neuroface-id/internal/logger"
	"neuroface-id/pkg/models"
)

// Client is one integration shape of the analysis service
type Client interface {
	Analyze(ctx context.Context, img *models.CapturedImage, arch models.Architecture) (*models.AnalysisResult, error)
	Name() string
}

// RetryPolicy bounds retries of transient failures. MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Backoff: 500 * time.Millisecond, MaxBackoff: 4 * time.Second}
}

// withRetry runs fn until it succeeds, fails permanently or attempts run out.
// retryable decides which errors are worth another attempt.
func withRetry(ctx context.Context, policy RetryPolicy, operation string, retryable func(error) bool, fn func(attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.Backoff
	log := logger.WithComponent("analysis").WithField("operation", operation)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if next := backoff * 2; policy.MaxBackoff <= 0 || next <= policy.MaxBackoff {
				backoff = next
			}
		}

		err = fn(attempt)
		if err == nil {
			if attempt > 0 {
				log.WithField("attempt", attempt+1).Info("Analysis request succeeded after retry")
			}
			return nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt == attempts-1 {
			return err
		}
		log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Warn("Transient analysis failure, retrying")
	}
	return err
}

// isTransientError reports timeouts and temporary network failures
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}

package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for refresh retries.
var (
	refreshRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "force_refresh_retries_total",
		Help: "Total number of token refresh retry attempts",
	})

	refreshRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "force_refresh_retry_backoff_seconds",
		Help:    "Backoff duration before token refresh retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	refreshRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "force_refresh_retry_exhausted_total",
		Help: "Total number of times token refresh retries were exhausted",
	})
)

// ErrRetryExhausted is returned when all refresh attempts failed transiently.
var ErrRetryExhausted = errors.New("refresh attempts exhausted")

// RetryConfig holds the backoff settings for transient refresh failures.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first one).
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default refresh retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Temporary is implemented by refresher errors that are worth retrying,
// such as network failures or 5xx answers from the token endpoint.
type Temporary interface {
	Temporary() bool
}

// shouldRetry reports whether err marks itself as temporary.
func shouldRetry(err error) bool {
	var t Temporary
	return errors.As(err, &t) && t.Temporary()
}

// retryWithBackoff runs fn until it succeeds, fails permanently, or the
// attempts run out. Waits are jittered by ±20% and respect ctx.
func retryWithBackoff(ctx context.Context, config RetryConfig, logger zerolog.Logger, fn func() error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Token refresh succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return lastErr
		}

		if attempt >= config.MaxAttempts {
			break
		}

		refreshRetriesTotal.Inc()

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		refreshRetryBackoffSeconds.Observe(jitter.Seconds())

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying token refresh after backoff")

		select {
		case <-ctx.Done():
			return fmt.Errorf("refresh backoff: %w", ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	refreshRetryExhaustedTotal.Inc()
	logger.Warn().
		Int("max_attempts", config.MaxAttempts).
		Msg("Token refresh attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, config.MaxAttempts, lastErr)
}

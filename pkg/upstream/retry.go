package upstream

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
)

// RetryConfig controls the Upstream Client's per-call backoff. Shaped after the
// RetryConfig this codebase already uses for database calls, generalized here
// from SQL errors to transport/timeout errors.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryConfig is base 1s, factor 2, 5 attempts, capped
// at 60s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// delay returns the backoff before attempt N (1-indexed).
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter {
		d = d * (0.5 + rand.Float64()*0.5)
	}
	return time.Duration(d)
}

// IsRetryableError reports whether err represents a transient failure worth
// retrying: a *synerr.SyncError already categorized CategoryTransport/
// CategoryTimeout (the path a 5xx response or a classify()'d transport
// failure takes), network errors, timeouts, and a set of well-known
// transient message substrings returned by the upstream's HTTP layer.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if synerr.CategoryOf(err).Retriable() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many connections",
		"connection lost",
		"closed the connection unexpectedly",
		"broken pipe",
		"i/o timeout",
		"network is unreachable",
		"no route to host",
		"eof",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// withRetry invokes fn, retrying up to cfg.MaxAttempts times while the error
// returned is retryable per shouldRetry and ctx has not been cancelled.
func withRetry(ctx context.Context, cfg RetryConfig, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) || attempt == cfg.MaxAttempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.delay(attempt)):
		}
	}
	return lastErr
}

// Package upstream implements a thin stateful session over the upstream
// CAD/quoting catalog's HTTP API: login, path navigation, project/phase
// selection, child listing, and blob/thumbnail retrieval.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
	"github.com/scrollit/logikal-sync/pkg/telemetry"
)

// Credentials authenticates a new Session.
type Credentials struct {
	Username string
	Password string
}

// Entry is one child returned by a list_* operation.
type Entry struct {
	UpstreamID string
	Name       string
	Path       string
	ChangedAt  *time.Time
}

// ThumbnailOptions parameterizes fetch_thumbnail.
type ThumbnailOptions struct {
	Size   string
	Format string
}

// Client builds authenticated Sessions against one upstream base URL, sharing
// a rate limiter and circuit breaker across every Session it mints — the
// limiter and breaker are process-wide collaborators, not per-session state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	retry      RetryConfig
	logger     *logrus.Logger
}

// NewClient constructs a Client. rps is the global token-bucket rate limit
// timeout bounds every individual HTTP call.
func NewClient(baseURL string, rps float64, timeout time.Duration, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	cbSettings := gobreaker.Settings{
		Name:        "upstream-client",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		breaker:    gobreaker.NewCircuitBreaker[[]byte](cbSettings),
		retry:      DefaultRetryConfig(),
		logger:     logger,
	}
}

// Login authenticates and returns a fresh Session with empty cursor state.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	body, _ := json.Marshal(creds)
	if _, err := c.call(ctx, "", "POST", "/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &Session{
		client:    c,
		token:     out.Token,
		expiresAt: out.ExpiresAt,
	}, nil
}

// call performs one rate-limited, circuit-broken, retried HTTP round trip,
// decoding a JSON response body into out. Use callRaw instead for endpoints
// that return a binary payload (blobs, thumbnails).
func (c *Client) call(ctx context.Context, token, method, path string, body []byte, out interface{}) (int, error) {
	status, raw, err := c.roundTrip(ctx, token, method, path, body)
	if err != nil {
		return status, err
	}
	if out != nil && len(raw) > 0 {
		if jerr := json.Unmarshal(raw, out); jerr != nil {
			return status, synerr.New("upstream."+path, synerr.CategoryValidation, jerr)
		}
	}
	return status, nil
}

// callRaw performs the same rate-limited, circuit-broken, retried round trip
// as call, but returns the response body verbatim instead of JSON-decoding
// it — the shape a binary blob or image endpoint needs.
func (c *Client) callRaw(ctx context.Context, token, method, path string) ([]byte, error) {
	_, raw, err := c.roundTrip(ctx, token, method, path, nil)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// roundTrip performs one rate-limited, circuit-broken, retried HTTP round
// trip and categorizes failures by HTTP status and transport error shape. It
// is agnostic to the response body's content type.
func (c *Client) roundTrip(ctx context.Context, token, method, path string, body []byte) (int, []byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "upstream.call",
		attribute.String("http.method", method), attribute.String("upstream.path", path))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		err = synerr.New("upstream."+path, synerr.CategoryTimeout, err)
		telemetry.RecordError(span, err)
		return 0, nil, err
	}

	var status int
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return withRetryBytes(ctx, c.retry, func(ctx context.Context) ([]byte, int, error) {
			start := time.Now()
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
			if err != nil {
				return nil, 0, err
			}
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.WithFields(logrus.Fields{
					"op": path, "method": method, "duration_ms": time.Since(start).Milliseconds(),
				}).WithError(err).Warn("upstream call failed")
				return nil, 0, err
			}
			defer resp.Body.Close()
			respBody, _ := io.ReadAll(resp.Body)
			c.logger.WithFields(logrus.Fields{
				"op": path, "method": method, "status": resp.StatusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Debug("upstream call")
			return respBody, resp.StatusCode, nil
		}, &status)
	})
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		err = classify(path, status, err)
		telemetry.RecordError(span, err)
		return status, nil, err
	}
	if status == 0 {
		return status, nil, nil
	}
	if status >= 400 {
		err := classify(path, status, fmt.Errorf("upstream returned status %d", status))
		telemetry.RecordError(span, err)
		return status, nil, err
	}
	return status, raw, nil
}

// withRetryBytes retries fn while its error is retriable, reporting the HTTP
// status of the final attempt back through statusOut.
func withRetryBytes(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) ([]byte, int, error), statusOut *int) ([]byte, error) {
	var raw []byte
	err := withRetry(ctx, cfg, IsRetryableError, func(ctx context.Context) error {
		b, status, err := fn(ctx)
		raw = b
		*statusOut = status
		if err != nil {
			return err
		}
		if status >= 500 {
			return synerr.New("upstream.roundTrip", synerr.CategoryTransport,
				fmt.Errorf("server error: status %d", status))
		}
		return nil
	})
	return raw, err
}

// classify maps an HTTP status (or transport error) onto the error taxonomy of
// the request-level category taxonomy.
func classify(op string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized:
		return synerr.New(op, synerr.CategoryAuth, err)
	case status == http.StatusNotFound:
		return synerr.New(op, synerr.CategoryNotFound, err)
	case status >= 500:
		return synerr.New(op, synerr.CategoryTransport, err)
	case status >= 400:
		return synerr.New(op, synerr.CategoryValidation, err)
	case IsRetryableError(err):
		return synerr.New(op, synerr.CategoryTransport, err)
	default:
		return synerr.New(op, synerr.CategorySystem, err)
	}
}

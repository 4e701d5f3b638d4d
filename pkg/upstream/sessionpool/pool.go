// Package sessionpool bounds concurrent upstream Sessions, loaning them to the
// Cascade Orchestrator for the duration of one session-scoped operation chain
// and re-authenticating corrupted sessions transparently.
package sessionpool

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/scrollit/logikal-sync/pkg/upstream"
)

// Pool is a bounded, fair pool of authenticated upstream Sessions. New uses
// the size its caller passes; the service configuration defaults it to 2.
type Pool struct {
	client *upstream.Client
	creds  upstream.Credentials
	logger *logrus.Logger

	mu      sync.Mutex
	free    chan *upstream.Session
	closed  bool
}

// New builds a Pool of size sessions, eagerly logging each one in.
func New(ctx context.Context, client *upstream.Client, creds upstream.Credentials, size int, logger *logrus.Logger) (*Pool, error) {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Pool{
		client: client,
		creds:  creds,
		logger: logger,
		free:   make(chan *upstream.Session, size),
	}
	for i := 0; i < size; i++ {
		sess, err := client.Login(ctx, creds)
		if err != nil {
			return nil, err
		}
		p.free <- sess
	}
	return p, nil
}

// Acquire blocks until a free session exists or ctx is cancelled. The
// returned Session carries no navigation-state guarantees; the caller must
// Navigate to its target before issuing queries.
func (p *Pool) Acquire(ctx context.Context) (*upstream.Session, error) {
	select {
	case sess := <-p.free:
		return sess, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a healthy session to the pool. A session that reported
// session_corrupt or a 401 must be passed to Invalidate instead.
func (p *Pool) Release(sess *upstream.Session) {
	if sess.Corrupt() {
		p.Invalidate(context.Background(), sess)
		return
	}
	p.free <- sess
}

// Invalidate discards a corrupted session and schedules a fresh login so the
// pool self-heals without shrinking.
func (p *Pool) Invalidate(ctx context.Context, sess *upstream.Session) {
	go func() {
		_ = sess.Logout(ctx)
		fresh, err := p.client.Login(ctx, p.creds)
		if err != nil {
			p.logger.WithError(err).Error("session pool: re-login after invalidation failed")
			// Retry once more, immediately, rather than losing a pool slot
			// permanently; the caller sees reduced concurrency until this
			// succeeds.
			fresh, err = p.client.Login(ctx, p.creds)
			if err != nil {
				p.logger.WithError(err).Error("session pool: re-login retry failed, pool slot degraded")
				return
			}
		}
		p.free <- fresh
	}()
}

// Close logs out every currently-idle session. In-flight loaned sessions are
// not reclaimed; callers should stop acquiring before calling Close.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case sess := <-p.free:
			_ = sess.Logout(ctx)
		default:
			return
		}
	}
}

// Available reports how many sessions currently sit idle in the pool, for
// readiness checks — it never blocks and never loans a session out.
func (p *Pool) Available() int {
	return len(p.free)
}

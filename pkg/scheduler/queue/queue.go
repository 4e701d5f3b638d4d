// Package queue implements the Scheduler's durable task queue as a reliable
// Redis list: LPUSH to enqueue, BRPOPLPUSH to dequeue-and-reserve atomically
// into a per-worker processing list, LREM to acknowledge. A job that is
// dequeued but never acknowledged (worker crash) survives in the processing
// list until Recover puts it back on the main queue — the at-least-once
// guarantee the Scheduler needs without a broker-specific delivery API,
// generalized from the original system's Celery+Redis broker pairing.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
)

// Job is one enqueued unit of work: sweep object type Kind once. Job values
// round-trip through JSON exactly (Go's struct field order is stable), so
// Ack/Nack can re-marshal a Job to find the matching processing-list entry
// without the caller having to carry the raw payload around.
type Job struct {
	Kind       string    `json:"kind"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempt    int       `json:"attempt"`
}

// Queue wraps a Redis list pair under the given key namespace.
type Queue struct {
	client     redis.UniversalClient
	queueKey   string
	workingKey string
}

func New(client redis.UniversalClient, namespace string) *Queue {
	return &Queue{
		client:     client,
		queueKey:   namespace + ":queue",
		workingKey: namespace + ":processing",
	}
}

// Enqueue pushes a new job for kind onto the queue.
func (q *Queue) Enqueue(ctx context.Context, kind string) error {
	return q.push(ctx, Job{Kind: kind, EnqueuedAt: time.Now()})
}

// Requeue pushes job back onto the queue with its attempt counter
// incremented, for the Scheduler's retry-on-failure path.
func (q *Queue) Requeue(ctx context.Context, job Job) error {
	job.Attempt++
	return q.push(ctx, job)
}

func (q *Queue) push(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return synerr.New("queue.push", synerr.CategorySystem, err)
	}
	if err := q.client.LPush(ctx, q.queueKey, payload).Err(); err != nil {
		return synerr.New("queue.push", synerr.CategoryTransport, err)
	}
	return nil
}

// Dequeue blocks up to timeout for a job, atomically moving it from the
// queue into the processing list. A nil Job with a nil error means the wait
// elapsed with nothing enqueued.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	payload, err := q.client.BRPopLPush(ctx, q.queueKey, q.workingKey, timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, synerr.New("queue.Dequeue", synerr.CategoryTransport, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// Corrupt payload: drop it from the processing list rather than
		// looping on it forever.
		q.client.LRem(ctx, q.workingKey, 1, payload)
		return nil, synerr.New("queue.Dequeue", synerr.CategorySystem, err)
	}
	return &job, nil
}

// Ack removes job from the processing list — it completed successfully.
func (q *Queue) Ack(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return synerr.New("queue.Ack", synerr.CategorySystem, err)
	}
	if err := q.client.LRem(ctx, q.workingKey, 1, payload).Err(); err != nil {
		return synerr.New("queue.Ack", synerr.CategoryTransport, err)
	}
	return nil
}

// Nack removes job from the processing list and, if it has retries left,
// pushes a requeued copy back onto the main queue.
func (q *Queue) Nack(ctx context.Context, job Job, maxRetries int) error {
	if err := q.Ack(ctx, job); err != nil {
		return err
	}
	if job.Attempt >= maxRetries {
		return nil
	}
	return q.Requeue(ctx, job)
}

// Recover moves every job still sitting in the processing list back onto the
// main queue. Call once at startup: anything left there belongs to a worker
// that died mid-job on a previous run.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.client.RPopLPush(ctx, q.workingKey, q.queueKey).Result()
		if err == redis.Nil {
			return n, nil
		}
		if err != nil {
			return n, synerr.New("queue.Recover", synerr.CategoryTransport, err)
		}
		n++
	}
}

// Depth reports the number of jobs currently waiting to be dequeued.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.queueKey).Result()
	if err != nil {
		return 0, synerr.New("queue.Depth", synerr.CategoryTransport, err)
	}
	return n, nil
}

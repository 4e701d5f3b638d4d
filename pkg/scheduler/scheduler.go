// Package scheduler owns the periodic tick that enqueues due-and-enabled
// object kinds, the worker loop that drains those jobs through the Cascade
// Orchestrator, and the health sweep that turns staleness-distribution
// breaches into AlertEvents. Grounded in the original system's Celery beat
// schedule (scheduler_service.py: hourly_smart_sync, cleanup_old_tasks) and
// alert_service.py's threshold checks, translated from a Celery worker pool
// into a single ticker-driven goroutine plus a Redis-backed job queue.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrollit/logikal-sync/pkg/alert"
	"github.com/scrollit/logikal-sync/pkg/metrics"
	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/scheduler/queue"
	"github.com/scrollit/logikal-sync/pkg/store"
	"github.com/scrollit/logikal-sync/pkg/sync/cascade"
	"github.com/scrollit/logikal-sync/pkg/syncconfig"
)

// staleAlertThresholds caps, per mirrored object type, how many stale rows
// (local_synced_at older than that type's configured staleness threshold)
// are tolerated before the health sweep raises a warning — translated from
// alert_service.py's check_stale_data_alerts hardcoded counts (24h/0 for
// projects, 12h/100 for phases, 6h/500 for elevations) onto this system's
// four mirrored kinds.
var staleAlertThresholds = map[string]int{
	syncconfig.TypeDirectory: 0,
	syncconfig.TypeProject:   0,
	syncconfig.TypePhase:     100,
	syncconfig.TypeElevation: 500,
}

var mirroredKinds = []string{
	syncconfig.TypeDirectory,
	syncconfig.TypeProject,
	syncconfig.TypePhase,
	syncconfig.TypeElevation,
}

// Scheduler ties the Sync Config Registry's due/enabled policy to the
// Cascade Orchestrator via a durable queue, and runs the standalone health
// sweep on its own cadence.
type Scheduler struct {
	Store        store.Store
	Registry     *syncconfig.Registry
	Orchestrator *cascade.Orchestrator
	Queue        *queue.Queue
	Notifier     alert.Notifier
	Logger       *logrus.Logger

	TickInterval        time.Duration
	HealthSweepInterval time.Duration
	DequeueTimeout      time.Duration
}

func New(s store.Store, registry *syncconfig.Registry, orch *cascade.Orchestrator, q *queue.Queue, notifier alert.Notifier, logger *logrus.Logger) *Scheduler {
	if notifier == nil {
		notifier = alert.NoopNotifier{}
	}
	return &Scheduler{
		Store:               s,
		Registry:            registry,
		Orchestrator:        orch,
		Queue:               q,
		Notifier:            notifier,
		Logger:              logger,
		TickInterval:        60 * time.Second,
		HealthSweepInterval: 10 * time.Minute,
		DequeueTimeout:      5 * time.Second,
	}
}

// Run blocks, driving the tick loop, the worker loop, and the health sweep
// loop concurrently until ctx is cancelled. Call from its own goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	if n, err := s.Queue.Recover(ctx); err != nil {
		s.Logger.WithError(err).Warn("queue recovery failed")
	} else if n > 0 {
		s.Logger.WithField("count", n).Info("recovered jobs left by a previous run")
	}

	errCh := make(chan error, 3)
	go func() { errCh <- s.tickLoop(ctx) }()
	go func() { errCh <- s.workLoop(ctx) }()
	go func() { errCh <- s.healthSweepLoop(ctx) }()

	for i := 0; i < 3; i++ {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

// tickLoop enqueues every enabled, due object kind once per TickInterval.
func (s *Scheduler) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick enqueues every enabled, due object kind once. Exported so a caller
// can force an out-of-band tick without waiting for tickLoop.
func (s *Scheduler) Tick(ctx context.Context) {
	if err := s.Registry.Reload(ctx); err != nil {
		s.Logger.WithError(err).Warn("sync config reload failed, using cached config")
	}
	now := time.Now()
	for _, kind := range mirroredKinds {
		cfg, ok := s.Registry.Get(kind)
		if !ok || !syncconfig.Due(cfg, now) {
			continue
		}
		if err := s.Queue.Enqueue(ctx, kind); err != nil {
			s.Logger.WithError(err).WithField("kind", kind).Warn("enqueue failed")
			continue
		}
		s.Logger.WithField("kind", kind).Debug("enqueued due kind")
	}
	if depth, err := s.Queue.Depth(ctx); err != nil {
		s.Logger.WithError(err).Warn("queue depth check failed")
	} else {
		metrics.QueueDepthGauge.Set(float64(depth))
	}
}

// workLoop drains the queue, running each job through the Cascade
// Orchestrator scoped to its kind.
func (s *Scheduler) workLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		job, err := s.Queue.Dequeue(ctx, s.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.Logger.WithError(err).Warn("dequeue failed")
			continue
		}
		if job == nil {
			continue
		}
		s.runJob(ctx, *job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job queue.Job) {
	now := time.Now()
	run, err := s.Orchestrator.RunScoped(ctx, job.Kind)
	succeeded := err == nil && run != nil && run.State == model.RunStateDone
	outcome := "failed"
	if succeeded {
		outcome = "done"
	}
	metrics.RecordSyncAttempt(job.Kind, outcome, time.Since(now))

	if touchErr := s.Store.TouchObjectSyncConfigAttempt(ctx, job.Kind, now, succeeded); touchErr != nil {
		s.Logger.WithError(touchErr).WithField("kind", job.Kind).Warn("failed to record sync attempt")
	}

	cfg, _ := s.Registry.Get(job.Kind)
	maxRetries := cfg.MaxRetries
	if err != nil {
		s.Logger.WithError(err).WithField("kind", job.Kind).Error("scoped sync run failed")
		s.raiseRunFailureAlert(ctx, job.Kind, err)
		if nackErr := s.Queue.Nack(ctx, job, maxRetries); nackErr != nil {
			s.Logger.WithError(nackErr).Warn("nack failed")
		}
		return
	}
	if !succeeded {
		s.raiseRunFailureAlert(ctx, job.Kind, fmt.Errorf("run %d ended in state %s", run.ID, run.State))
		if nackErr := s.Queue.Nack(ctx, job, maxRetries); nackErr != nil {
			s.Logger.WithError(nackErr).Warn("nack failed")
		}
		return
	}
	if ackErr := s.Queue.Ack(ctx, job); ackErr != nil {
		s.Logger.WithError(ackErr).Warn("ack failed")
	}
}

func (s *Scheduler) raiseRunFailureAlert(ctx context.Context, kind string, cause error) {
	ev := model.AlertEvent{
		Category:    "sync_run_failure",
		Severity:    model.AlertSeverityCritical,
		Message:     fmt.Sprintf("sync run for %s failed: %s", kind, cause.Error()),
		ObjectType:  &kind,
		WindowStart: time.Now(),
		WindowEnd:   time.Now(),
		Count:       1,
	}
	s.emit(ctx, ev)
}

// healthSweepLoop periodically scans each mirrored kind for rows staler than
// its configured threshold and raises a warning when the count exceeds the
// tolerance in staleAlertThresholds.
func (s *Scheduler) healthSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.HealthSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.HealthSweep(ctx)
		}
	}
}

// HealthSweep scans every mirrored kind for staleness-distribution breaches
// and raises an AlertEvent for each one found.
func (s *Scheduler) HealthSweep(ctx context.Context) {
	now := time.Now()
	for _, kind := range mirroredKinds {
		cfg, ok := s.Registry.Get(kind)
		if !ok {
			continue
		}
		ids, err := s.Store.ScanStale(ctx, store.Kind(kind), cfg.StalenessThreshold, now)
		if err != nil {
			s.Logger.WithError(err).WithField("kind", kind).Warn("health sweep scan failed")
			continue
		}
		metrics.StaleObjectsGauge.WithLabelValues(kind).Set(float64(len(ids)))
		tolerance := staleAlertThresholds[kind]
		if len(ids) <= tolerance {
			continue
		}
		k := kind
		ev := model.AlertEvent{
			Category:    "staleness",
			Severity:    model.AlertSeverityWarning,
			Message:     fmt.Sprintf("%d %s rows have not synced within their staleness threshold", len(ids), kind),
			ObjectType:  &k,
			WindowStart: now.Add(-cfg.StalenessThreshold),
			WindowEnd:   now,
			Count:       len(ids),
		}
		s.emit(ctx, ev)
	}
}

func (s *Scheduler) emit(ctx context.Context, ev model.AlertEvent) {
	if err := s.Store.RecordAlert(ctx, ev); err != nil {
		s.Logger.WithError(err).Warn("failed to record alert")
	}
	if err := s.Notifier.Notify(ctx, ev); err != nil {
		s.Logger.WithError(err).Warn("failed to deliver alert")
	}
	metrics.RecordAlert(ev.Category, string(ev.Severity))
}

// Package cascade drives the full Directory→Project→Phase→Elevation sweep:
// acquire a session per parent, navigate its cursors, invoke the matching
// Entity Syncer, and record one SyncAttempt per entity outcome. Sibling
// parents at the same level fan out across the session pool; levels
// themselves run strictly in dependency order.
package cascade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
	"github.com/scrollit/logikal-sync/pkg/metrics"
	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/store"
	"github.com/scrollit/logikal-sync/pkg/sync/entity"
	"github.com/scrollit/logikal-sync/pkg/syncconfig"
	"github.com/scrollit/logikal-sync/pkg/telemetry"
	"github.com/scrollit/logikal-sync/pkg/upstream/sessionpool"
)

// Orchestrator owns one full cascade run. It holds one Syncer per mirrored
// kind rather than a kind-keyed map, since each kind's parent bookkeeping
// (directory path vs. project/phase upstream id) differs enough that a
// uniform dispatch loop would need type assertions anyway.
type Orchestrator struct {
	Store       store.Store
	Pool        *sessionpool.Pool
	Registry    *syncconfig.Registry
	Directories *entity.DirectorySyncer
	Projects    *entity.ProjectSyncer
	Phases      *entity.PhaseSyncer
	Elevations  *entity.ElevationSyncer
	Concurrency int
	Logger      *logrus.Logger
}

// New builds an Orchestrator. concurrency bounds sibling fan-out per level
// and should match the session pool size.
func New(s store.Store, pool *sessionpool.Pool, registry *syncconfig.Registry,
	directories *entity.DirectorySyncer, projects *entity.ProjectSyncer,
	phases *entity.PhaseSyncer, elevations *entity.ElevationSyncer,
	concurrency int, logger *logrus.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = 2
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		Store: s, Pool: pool, Registry: registry,
		Directories: directories, Projects: projects, Phases: phases, Elevations: elevations,
		Concurrency: concurrency, Logger: logger,
	}
}

// mirroredRank orders the four entity kinds the Cascade Orchestrator itself
// walks; parts_parser and error_log_housekeeping are scheduled separately
// and never appear here.
var mirroredRank = map[string]int{
	syncconfig.TypeDirectory: 1,
	syncconfig.TypeProject:   2,
	syncconfig.TypePhase:     3,
	syncconfig.TypeElevation: 4,
}

// dirNode, projNode, and phaseNode carry exactly the navigation context the
// next level down needs to resume from a freshly-acquired session.
type dirNode struct {
	id       int64
	path     string
	excluded bool
}

type projNode struct {
	id         int64
	upstreamID string
	dirPath    string
}

type phaseNode struct {
	id                int64
	upstreamID        string
	dirPath           string
	projectUpstreamID string
}

// RunFull sweeps every mirrored kind.
func (o *Orchestrator) RunFull(ctx context.Context) (*model.SyncRun, error) {
	return o.run(ctx, syncconfig.TypeElevation)
}

// RunScoped sweeps every mirrored kind up to and including targetKind — the
// scheduler never enqueues a child kind without first ensuring its parents
// are current.
func (o *Orchestrator) RunScoped(ctx context.Context, targetKind string) (*model.SyncRun, error) {
	return o.run(ctx, targetKind)
}

func (o *Orchestrator) run(ctx context.Context, targetKind string) (*model.SyncRun, error) {
	ctx, span := telemetry.StartSpan(ctx, "cascade.run", attribute.String("kind", targetKind))
	defer span.End()

	depth, ok := mirroredRank[targetKind]
	if !ok {
		err := synerr.New("cascade.run", synerr.CategoryValidation,
			fmt.Errorf("unknown mirrored kind %q", targetKind))
		telemetry.RecordError(span, err)
		return nil, err
	}
	if _, err := o.dependencyOrder(); err != nil {
		return nil, synerr.New("cascade.run", synerr.CategorySystem, err)
	}

	run, err := o.Store.CreateSyncRun(ctx, targetKind)
	if err != nil {
		return nil, synerr.New("cascade.run", synerr.CategorySystem, err)
	}

	dirs, err := o.walkDirectories(ctx, run.ID)
	if err != nil {
		o.finish(ctx, run.ID, targetKind, model.RunStateFailed)
		return o.Store.GetSyncRun(ctx, run.ID)
	}
	if depth == mirroredRank[syncconfig.TypeDirectory] {
		o.finish(ctx, run.ID, targetKind, model.RunStateDone)
		return o.Store.GetSyncRun(ctx, run.ID)
	}

	projects, err := o.sweepProjects(ctx, run.ID, dirs)
	if err != nil {
		o.finish(ctx, run.ID, targetKind, model.RunStateFailed)
		return o.Store.GetSyncRun(ctx, run.ID)
	}
	if depth == mirroredRank[syncconfig.TypeProject] {
		o.finish(ctx, run.ID, targetKind, model.RunStateDone)
		return o.Store.GetSyncRun(ctx, run.ID)
	}

	phases, err := o.sweepPhases(ctx, run.ID, projects)
	if err != nil {
		o.finish(ctx, run.ID, targetKind, model.RunStateFailed)
		return o.Store.GetSyncRun(ctx, run.ID)
	}
	if depth == mirroredRank[syncconfig.TypePhase] {
		o.finish(ctx, run.ID, targetKind, model.RunStateDone)
		return o.Store.GetSyncRun(ctx, run.ID)
	}

	if err := o.sweepElevations(ctx, run.ID, phases); err != nil {
		o.finish(ctx, run.ID, targetKind, model.RunStateFailed)
		return o.Store.GetSyncRun(ctx, run.ID)
	}
	o.finish(ctx, run.ID, targetKind, model.RunStateDone)
	return o.Store.GetSyncRun(ctx, run.ID)
}

// dependencyOrder resolves the walk order from the Sync Config Registry,
// filtered to the four kinds this orchestrator actually walks (parts_parser
// and error_log_housekeeping are scheduled by their own workers). With no
// Registry wired, the fixed Directory→Project→Phase→Elevation order applies.
func (o *Orchestrator) dependencyOrder() ([]string, error) {
	fixed := []string{syncconfig.TypeDirectory, syncconfig.TypeProject, syncconfig.TypePhase, syncconfig.TypeElevation}
	if o.Registry == nil {
		return fixed, nil
	}
	order, err := o.Registry.Order()
	if err != nil {
		return nil, err
	}
	mirrored := make([]string, 0, len(fixed))
	for _, k := range order {
		if _, ok := mirroredRank[k]; ok {
			mirrored = append(mirrored, k)
		}
	}
	return mirrored, nil
}

func (o *Orchestrator) finish(ctx context.Context, runID int64, kind string, state model.RunState) {
	if err := o.Store.FinishSyncRun(ctx, runID, state); err != nil {
		o.Logger.WithError(err).WithField("run_id", runID).Error("cascade: failed to finalize sync run")
	}
	metrics.RecordSyncRun(kind, string(state))
}

// walkDirectories performs the Directory kind's own internal recursion: it
// is not a single list-diff-upsert pass but a breadth-first walk of the
// whole subdirectory tree, since Directory children are themselves valid
// Directory parents. An excluded directory's own row is kept but its
// subtree is never swept (exclusion propagation).
func (o *Orchestrator) walkDirectories(ctx context.Context, runID int64) ([]dirNode, error) {
	var all []dirNode
	var mu sync.Mutex
	frontier := []dirNode{{id: 0, path: "", excluded: false}}

	for len(frontier) > 0 {
		var nextFrontier []dirNode
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.Concurrency)

		for _, parent := range frontier {
			if parent.excluded {
				continue
			}
			parent := parent
			g.Go(func() error {
				children, fatal := o.sweepOneDirectory(gctx, runID, parent)
				if fatal != nil {
					return fatal
				}
				mu.Lock()
				all = append(all, children...)
				for _, c := range children {
					if !c.excluded {
						nextFrontier = append(nextFrontier, c)
					}
				}
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, synerr.New("cascade.walkDirectories", synerr.CategorySystem, err)
		}
		frontier = nextFrontier
	}
	return all, nil
}

// sweepOneDirectory reconciles the subdirectories of a single parent. Any
// failure here is recorded as a failed SyncAttempt and swallowed — per-parent
// failure never blocks siblings or the rest of the run — except for a
// session-pool acquisition failure, which the caller treats as fatal to the
// whole run (the orchestrator itself cannot proceed without a session).
func (o *Orchestrator) sweepOneDirectory(ctx context.Context, runID int64, parent dirNode) ([]dirNode, error) {
	ctx, span := telemetry.StartSpan(ctx, "cascade.sweepOneDirectory", attribute.String("path", parent.path))
	defer span.End()

	sess, err := o.Pool.Acquire(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer o.Pool.Release(sess)

	if err := sess.Navigate(ctx, parent.path); err != nil {
		o.recordParentFailure(ctx, runID, syncconfig.TypeDirectory, parent.id, err)
		telemetry.RecordError(span, err)
		return nil, nil
	}

	out, err := o.Directories.Sync(ctx, sess, parent.id, time.Now())
	if err != nil {
		o.recordParentFailure(ctx, runID, syncconfig.TypeDirectory, parent.id, err)
		telemetry.RecordError(span, err)
		return nil, nil
	}
	if out.ParentDeleted {
		o.tombstoneDirectory(ctx, parent.id)
		o.recordParentTombstoned(ctx, runID, syncconfig.TypeDirectory, parent.id)
		return nil, nil
	}

	o.recordOutcome(ctx, runID, syncconfig.TypeDirectory, parent.id, out)

	children := make([]dirNode, 0, len(out.Children))
	for _, c := range out.Children {
		children = append(children, dirNode{id: c.ID, path: c.Path, excluded: c.Excluded})
	}
	return children, nil
}

// sweepProjects reconciles the projects under every non-excluded directory
// discovered during the directory walk.
func (o *Orchestrator) sweepProjects(ctx context.Context, runID int64, dirs []dirNode) ([]projNode, error) {
	var all []projNode
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)

	for _, dir := range dirs {
		if dir.excluded {
			continue
		}
		dir := dir
		g.Go(func() error {
			spanCtx, span := telemetry.StartSpan(gctx, "cascade.sweepProjects.parent", attribute.Int64("directory_id", dir.id))
			defer span.End()

			sess, err := o.Pool.Acquire(spanCtx)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			defer o.Pool.Release(sess)

			if err := sess.Navigate(spanCtx, dir.path); err != nil {
				o.recordParentFailure(gctx, runID, syncconfig.TypeProject, dir.id, err)
				telemetry.RecordError(span, err)
				return nil
			}
			out, err := o.Projects.Sync(gctx, sess, dir.id, time.Now())
			if err != nil {
				o.recordParentFailure(gctx, runID, syncconfig.TypeProject, dir.id, err)
				return nil
			}
			if out.ParentDeleted {
				o.tombstoneDirectory(gctx, dir.id)
				o.recordParentTombstoned(gctx, runID, syncconfig.TypeProject, dir.id)
				return nil
			}
			o.recordOutcome(gctx, runID, syncconfig.TypeProject, dir.id, out)

			mu.Lock()
			for _, c := range out.Children {
				all = append(all, projNode{id: c.ID, upstreamID: c.UpstreamID, dirPath: dir.path})
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, synerr.New("cascade.sweepProjects", synerr.CategorySystem, err)
	}
	return all, nil
}

// sweepPhases reconciles the phases under every discovered project. Per the
// upstream navigation protocol, listing phases requires both the directory
// path and the project cursor to be re-established on whatever session is
// acquired for this parent.
func (o *Orchestrator) sweepPhases(ctx context.Context, runID int64, projects []projNode) ([]phaseNode, error) {
	var all []phaseNode
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)

	for _, proj := range projects {
		proj := proj
		g.Go(func() error {
			spanCtx, span := telemetry.StartSpan(gctx, "cascade.sweepPhases.parent", attribute.Int64("project_id", proj.id))
			defer span.End()

			sess, err := o.Pool.Acquire(spanCtx)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			defer o.Pool.Release(sess)

			if err := sess.Navigate(spanCtx, proj.dirPath); err != nil {
				o.recordParentFailure(gctx, runID, syncconfig.TypePhase, proj.id, err)
				telemetry.RecordError(span, err)
				return nil
			}
			if err := sess.SelectProject(gctx, proj.upstreamID); err != nil {
				if synerr.NotFound(err) {
					o.tombstoneProject(gctx, proj.id)
					o.recordParentTombstoned(gctx, runID, syncconfig.TypePhase, proj.id)
					return nil
				}
				o.recordParentFailure(gctx, runID, syncconfig.TypePhase, proj.id, err)
				return nil
			}

			out, err := o.Phases.Sync(gctx, sess, proj.id, time.Now())
			if err != nil {
				o.recordParentFailure(gctx, runID, syncconfig.TypePhase, proj.id, err)
				return nil
			}
			if out.ParentDeleted {
				o.tombstoneProject(gctx, proj.id)
				o.recordParentTombstoned(gctx, runID, syncconfig.TypePhase, proj.id)
				return nil
			}
			o.recordOutcome(gctx, runID, syncconfig.TypePhase, proj.id, out)

			mu.Lock()
			for _, c := range out.Children {
				all = append(all, phaseNode{
					id: c.ID, upstreamID: c.UpstreamID,
					dirPath: proj.dirPath, projectUpstreamID: proj.upstreamID,
				})
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, synerr.New("cascade.sweepPhases", synerr.CategorySystem, err)
	}
	return all, nil
}

// sweepElevations reconciles the elevations under every discovered phase,
// re-establishing all three session cursors before listing.
func (o *Orchestrator) sweepElevations(ctx context.Context, runID int64, phases []phaseNode) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)

	for _, ph := range phases {
		ph := ph
		g.Go(func() error {
			spanCtx, span := telemetry.StartSpan(gctx, "cascade.sweepElevations.parent", attribute.Int64("phase_id", ph.id))
			defer span.End()

			sess, err := o.Pool.Acquire(spanCtx)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			defer o.Pool.Release(sess)

			if err := sess.Navigate(spanCtx, ph.dirPath); err != nil {
				o.recordParentFailure(gctx, runID, syncconfig.TypeElevation, ph.id, err)
				telemetry.RecordError(span, err)
				return nil
			}
			if err := sess.SelectProject(gctx, ph.projectUpstreamID); err != nil {
				o.recordParentFailure(gctx, runID, syncconfig.TypeElevation, ph.id, err)
				return nil
			}
			if err := sess.SelectPhase(gctx, ph.upstreamID); err != nil {
				if synerr.NotFound(err) {
					o.tombstonePhase(gctx, ph.id)
					o.recordParentTombstoned(gctx, runID, syncconfig.TypeElevation, ph.id)
					return nil
				}
				o.recordParentFailure(gctx, runID, syncconfig.TypeElevation, ph.id, err)
				return nil
			}

			out, err := o.Elevations.Sync(gctx, sess, ph.id, time.Now())
			if err != nil {
				o.recordParentFailure(gctx, runID, syncconfig.TypeElevation, ph.id, err)
				return nil
			}
			if out.ParentDeleted {
				o.tombstonePhase(gctx, ph.id)
				o.recordParentTombstoned(gctx, runID, syncconfig.TypeElevation, ph.id)
				return nil
			}
			o.recordOutcome(gctx, runID, syncconfig.TypeElevation, ph.id, out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return synerr.New("cascade.sweepElevations", synerr.CategorySystem, err)
	}
	return nil
}

func (o *Orchestrator) tombstoneDirectory(ctx context.Context, id int64) {
	if id == 0 {
		return
	}
	if err := o.Store.DeleteDirectory(ctx, id); err != nil {
		o.Logger.WithError(err).WithField("directory_id", id).Error("cascade: failed to tombstone directory")
	}
}

func (o *Orchestrator) tombstoneProject(ctx context.Context, id int64) {
	if err := o.Store.DeleteProject(ctx, id); err != nil {
		o.Logger.WithError(err).WithField("project_id", id).Error("cascade: failed to tombstone project")
	}
}

func (o *Orchestrator) tombstonePhase(ctx context.Context, id int64) {
	if err := o.Store.DeletePhase(ctx, id); err != nil {
		o.Logger.WithError(err).WithField("phase_id", id).Error("cascade: failed to tombstone phase")
	}
}

// appendAttempt records one entity-level SyncAttempt. Failures to record are
// logged, not propagated — losing an audit row must never fail the sweep
// that produced it.
func (o *Orchestrator) appendAttempt(ctx context.Context, runID int64, kind string, parentID int64, outcome string, errMsg *string) {
	now := time.Now()
	attempt := model.SyncAttempt{
		RunID: runID, Kind: kind, ParentID: parentID,
		Outcome: outcome, Error: errMsg, StartedAt: now, EndedAt: &now,
	}
	if err := o.Store.AppendSyncAttempt(ctx, runID, attempt); err != nil {
		o.Logger.WithError(err).WithFields(logrus.Fields{"kind": kind, "parent_id": parentID}).
			Warn("cascade: failed to record sync attempt")
	}
	metrics.RecordSyncAttempt(kind, outcome, 0)
}

// recordOutcome expands one parent's tally into one SyncAttempt per entity
// outcome, so SyncRun's aggregate counters (derived by grouping attempts by
// outcome) reflect entity counts rather than parent-sweep counts.
func (o *Orchestrator) recordOutcome(ctx context.Context, runID int64, kind string, parentID int64, out entity.Outcome) {
	for i := 0; i < out.Created; i++ {
		o.appendAttempt(ctx, runID, kind, parentID, "created", nil)
	}
	for i := 0; i < out.Updated; i++ {
		o.appendAttempt(ctx, runID, kind, parentID, "updated", nil)
	}
	for i := 0; i < out.Unchanged; i++ {
		o.appendAttempt(ctx, runID, kind, parentID, "unchanged", nil)
	}
	for i := 0; i < out.Deleted; i++ {
		o.appendAttempt(ctx, runID, kind, parentID, "deleted", nil)
	}
	for _, e := range out.Errors {
		msg := e.Error()
		o.appendAttempt(ctx, runID, kind, parentID, "failed", &msg)
	}
}

func (o *Orchestrator) recordParentFailure(ctx context.Context, runID int64, kind string, parentID int64, err error) {
	msg := err.Error()
	o.appendAttempt(ctx, runID, kind, parentID, "failed", &msg)
}

func (o *Orchestrator) recordParentTombstoned(ctx context.Context, runID int64, kind string, parentID int64) {
	o.appendAttempt(ctx, runID, kind, parentID, "deleted", nil)
}

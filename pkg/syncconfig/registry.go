// Package syncconfig owns the per-entity-kind scheduling policy: interval,
// staleness threshold, priority, retry budget, and the dependency graph that
// determines the order the Cascade Orchestrator walks entity kinds in.
package syncconfig

import (
	"context"
	"fmt"
	"time"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
	"github.com/scrollit/logikal-sync/pkg/model"
)

// configStore is the slice of store.Store the Registry needs — narrow on
// purpose so tests can stand in a fake without implementing the whole
// persistence contract.
type configStore interface {
	ListObjectSyncConfigs(ctx context.Context) ([]model.ObjectSyncConfig, error)
	UpsertObjectSyncConfig(ctx context.Context, cfg model.ObjectSyncConfig) error
}

// Object type names. These match store.Kind for the four mirrored entities
// and extend it with the two worker queues the original system also tracked
// as schedulable objects.
const (
	TypeDirectory      = "directory"
	TypeProject        = "project"
	TypePhase          = "phase"
	TypeElevation      = "elevation"
	TypePartsParser    = "parts_parser"
	TypeErrorHousekeep = "error_log_housekeeping"
)

// Registry is a read-through cache over the object_sync_configs table, kept
// current by Reload and mutated through Upsert so every write goes through
// the acyclicity check.
type Registry struct {
	store configStore
	byType map[string]model.ObjectSyncConfig
}

// New constructs a Registry. Call Reload (or Seed, on first boot) before use.
// Any store.Store satisfies configStore, so callers pass their real Store.
func New(s configStore) *Registry {
	return &Registry{store: s, byType: make(map[string]model.ObjectSyncConfig)}
}

// Defaults mirrors the original system's default sync configuration seed —
// object_sync_config_service.py's create_default_configs — translated from
// minutes to the Duration fields this system stores.
func Defaults() []model.ObjectSyncConfig {
	return []model.ObjectSyncConfig{
		{
			ObjectType: TypeDirectory, DisplayName: "Directories",
			Interval: 60 * time.Minute, StalenessThreshold: 120 * time.Minute,
			Priority: 1, DependsOn: nil, Enabled: true,
			BatchSize: 50, MaxRetries: 3, RetryDelay: 5 * time.Minute,
		},
		{
			ObjectType: TypeProject, DisplayName: "Projects",
			Interval: 120 * time.Minute, StalenessThreshold: 240 * time.Minute,
			Priority: 2, DependsOn: []string{TypeDirectory}, Enabled: true,
			BatchSize: 100, MaxRetries: 3, RetryDelay: 5 * time.Minute,
		},
		{
			ObjectType: TypePhase, DisplayName: "Phases",
			Interval: 180 * time.Minute, StalenessThreshold: 360 * time.Minute,
			Priority: 3, DependsOn: []string{TypeProject}, Enabled: true,
			BatchSize: 100, MaxRetries: 3, RetryDelay: 5 * time.Minute,
		},
		{
			ObjectType: TypeElevation, DisplayName: "Elevations",
			Interval: 240 * time.Minute, StalenessThreshold: 480 * time.Minute,
			Priority: 4, DependsOn: []string{TypePhase}, Enabled: true,
			BatchSize: 50, MaxRetries: 5, RetryDelay: 10 * time.Minute,
		},
		{
			ObjectType: TypePartsParser, DisplayName: "Parts Parser Queue",
			Interval: 10 * time.Minute, StalenessThreshold: 30 * time.Minute,
			Priority: 6, DependsOn: []string{TypeElevation}, Enabled: true,
			BatchSize: 5, MaxRetries: 3, RetryDelay: 2 * time.Minute,
		},
		{
			ObjectType: TypeErrorHousekeep, DisplayName: "Parse Error Log Housekeeping",
			Interval: 60 * time.Minute, StalenessThreshold: 120 * time.Minute,
			Priority: 7, DependsOn: []string{TypePartsParser}, Enabled: true,
			BatchSize: 50, MaxRetries: 2, RetryDelay: 5 * time.Minute,
		},
	}
}

// Seed writes the default configs for any object_type not already present,
// leaving existing rows (and any operator customization) untouched.
func (r *Registry) Seed(ctx context.Context) error {
	existing, err := r.store.ListObjectSyncConfigs(ctx)
	if err != nil {
		return synerr.New("syncconfig.Seed", synerr.CategorySystem, err)
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.ObjectType] = true
	}
	for _, cfg := range Defaults() {
		if have[cfg.ObjectType] {
			continue
		}
		if err := r.store.UpsertObjectSyncConfig(ctx, cfg); err != nil {
			return synerr.New("syncconfig.Seed", synerr.CategorySystem, err)
		}
	}
	return r.Reload(ctx)
}

// Reload refreshes the in-memory cache from the store.
func (r *Registry) Reload(ctx context.Context) error {
	configs, err := r.store.ListObjectSyncConfigs(ctx)
	if err != nil {
		return synerr.New("syncconfig.Reload", synerr.CategorySystem, err)
	}
	byType := make(map[string]model.ObjectSyncConfig, len(configs))
	for _, c := range configs {
		byType[c.ObjectType] = c
	}
	r.byType = byType
	return nil
}

// Get returns the cached config for objectType, or false if unknown.
func (r *Registry) Get(objectType string) (model.ObjectSyncConfig, bool) {
	cfg, ok := r.byType[objectType]
	return cfg, ok
}

// All returns every cached config, in no particular order.
func (r *Registry) All() []model.ObjectSyncConfig {
	out := make([]model.ObjectSyncConfig, 0, len(r.byType))
	for _, cfg := range r.byType {
		out = append(out, cfg)
	}
	return out
}

// Upsert validates that writing cfg keeps the depends_on graph acyclic
// before persisting it and reloading the cache.
func (r *Registry) Upsert(ctx context.Context, cfg model.ObjectSyncConfig) error {
	candidate := make(map[string]model.ObjectSyncConfig, len(r.byType)+1)
	for k, v := range r.byType {
		candidate[k] = v
	}
	candidate[cfg.ObjectType] = cfg
	if err := checkAcyclic(candidate); err != nil {
		return synerr.New("syncconfig.Upsert", synerr.CategoryValidation, err)
	}
	if err := r.store.UpsertObjectSyncConfig(ctx, cfg); err != nil {
		return synerr.New("syncconfig.Upsert", synerr.CategorySystem, err)
	}
	return r.Reload(ctx)
}

// Order returns every cached config's object_type, enabled or not, in
// dependency order: a
// kind never precedes anything it depends_on. Ties break by Priority, then
// object_type, matching get_sync_order's stable sort in the original system.
func (r *Registry) Order() ([]string, error) {
	return topoSort(r.byType)
}

func checkAcyclic(configs map[string]model.ObjectSyncConfig) error {
	_, err := topoSort(configs)
	return err
}

// topoSort runs Kahn's algorithm over the depends_on graph, breaking ties by
// (priority, object_type) so the result is deterministic run to run.
func topoSort(configs map[string]model.ObjectSyncConfig) ([]string, error) {
	indegree := make(map[string]int, len(configs))
	dependents := make(map[string][]string, len(configs))
	for t := range configs {
		indegree[t] = 0
	}
	for t, cfg := range configs {
		for _, dep := range cfg.DependsOn {
			if _, ok := configs[dep]; !ok {
				return nil, fmt.Errorf("syncconfig: %q depends on unknown object_type %q", t, dep)
			}
			indegree[t]++
			dependents[dep] = append(dependents[dep], t)
		}
	}

	var ready []string
	for t, deg := range indegree {
		if deg == 0 {
			ready = append(ready, t)
		}
	}

	var order []string
	for len(ready) > 0 {
		next := pickLowest(ready, configs)
		ready = removeOne(ready, next)
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(configs) {
		return nil, fmt.Errorf("syncconfig: dependency graph has a cycle")
	}
	return order, nil
}

func pickLowest(candidates []string, configs map[string]model.ObjectSyncConfig) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		bc, cc := configs[best], configs[c]
		if cc.Priority < bc.Priority || (cc.Priority == bc.Priority && cc.ObjectType < bc.ObjectType) {
			best = c
		}
	}
	return best
}

func removeOne(list []string, target string) []string {
	out := make([]string, 0, len(list)-1)
	removed := false
	for _, v := range list {
		if !removed && v == target {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out
}

// Due reports whether cfg's interval has elapsed since LastSync as of now —
// the Scheduler's per-tick enqueue decision.
func Due(cfg model.ObjectSyncConfig, now time.Time) bool {
	if !cfg.Enabled {
		return false
	}
	if cfg.LastSync == nil {
		return true
	}
	return now.Sub(*cfg.LastSync) >= cfg.Interval
}

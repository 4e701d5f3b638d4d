package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/scrollit/logikal-sync/pkg/api"
	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/store"
	"github.com/scrollit/logikal-sync/pkg/syncconfig"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "api Suite")
}

// fakeStore implements the narrow slice of store.Store the HTTP handlers
// touch; every other method is a stub satisfying the interface.
type fakeStore struct {
	projects    map[int64]model.Project
	phases      map[int64][]model.Phase
	elevations  map[string][]model.Elevation // keyed by phase upstream id
	elevByID    map[int64]*model.Elevation
	configs     map[string]model.ObjectSyncConfig
	alerts      []model.AlertEvent
	runs        map[int64]*model.SyncRun
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:   map[int64]model.Project{},
		phases:     map[int64][]model.Phase{},
		elevations: map[string][]model.Elevation{},
		elevByID:   map[int64]*model.Elevation{},
		configs:    map[string]model.ObjectSyncConfig{},
		runs:       map[int64]*model.SyncRun{},
	}
}

func (f *fakeStore) ListObjectSyncConfigs(ctx context.Context) ([]model.ObjectSyncConfig, error) {
	out := make([]model.ObjectSyncConfig, 0, len(f.configs))
	for _, c := range f.configs {
		out = append(out, c)
	}
	return out, nil
}
func (f *fakeStore) UpsertObjectSyncConfig(ctx context.Context, cfg model.ObjectSyncConfig) error {
	f.configs[cfg.ObjectType] = cfg
	return nil
}
func (f *fakeStore) GetObjectSyncConfig(ctx context.Context, objectType string) (*model.ObjectSyncConfig, error) {
	c, ok := f.configs[objectType]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
func (f *fakeStore) TouchObjectSyncConfigAttempt(ctx context.Context, objectType string, at time.Time, succeeded bool) error {
	return nil
}

func (f *fakeStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	out := make([]model.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}
func (f *fakeStore) GetProjectComplete(ctx context.Context, id int64) (*model.Project, []model.Phase, []model.Elevation, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, nil, nil, nil
	}
	phases := f.phases[id]
	var elevations []model.Elevation
	for _, ph := range phases {
		elevations = append(elevations, f.elevations[ph.UpstreamID]...)
	}
	return &p, phases, elevations, nil
}
func (f *fakeStore) ListPhasesForProject(ctx context.Context, projectID int64) ([]model.Phase, error) {
	return f.phases[projectID], nil
}
func (f *fakeStore) ListElevationsForPhase(ctx context.Context, projectID int64, phaseUpstreamID string) ([]model.Elevation, error) {
	return f.elevations[phaseUpstreamID], nil
}

func (f *fakeStore) GetElevation(ctx context.Context, id int64) (*model.Elevation, error) {
	e, ok := f.elevByID[id]
	if !ok {
		return nil, nil
	}
	return e, nil
}
func (f *fakeStore) SetElevationImagePath(ctx context.Context, id int64, path string) error {
	if e, ok := f.elevByID[id]; ok {
		e.ImagePath = &path
	}
	return nil
}

func (f *fakeStore) RecordAlert(ctx context.Context, ev model.AlertEvent) error {
	f.alerts = append(f.alerts, ev)
	return nil
}
func (f *fakeStore) ListRecentAlerts(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	return f.alerts, nil
}

func (f *fakeStore) GetSyncRun(ctx context.Context, runID int64) (*model.SyncRun, error) {
	return f.runs[runID], nil
}
func (f *fakeStore) CreateSyncRun(ctx context.Context, kind string) (*model.SyncRun, error) {
	return nil, nil
}
func (f *fakeStore) AppendSyncAttempt(ctx context.Context, runID int64, attempt model.SyncAttempt) error {
	return nil
}
func (f *fakeStore) FinishSyncRun(ctx context.Context, runID int64, state model.RunState) error {
	return nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
func (f *fakeStore) LocalSyncedAtByUpstreamID(ctx context.Context, kind store.Kind, parentID int64, upstreamIDs []string) (map[string]store.ExistingChild, error) {
	return nil, nil
}
func (f *fakeStore) BatchUpsertDirectories(ctx context.Context, parentID int64, rows []store.DirectoryRow, stale map[string]bool, now time.Time) (map[string]store.DirectoryUpsertResult, error) {
	return nil, nil
}
func (f *fakeStore) BatchUpsertProjects(ctx context.Context, parentID int64, rows []store.ProjectRow, stale map[string]bool, now time.Time) (map[string]store.ProjectUpsertResult, error) {
	return nil, nil
}
func (f *fakeStore) BatchUpsertPhases(ctx context.Context, parentID int64, rows []store.PhaseRow, stale map[string]bool, now time.Time) (map[string]store.PhaseUpsertResult, error) {
	return nil, nil
}
func (f *fakeStore) BatchUpsertElevations(ctx context.Context, parentID int64, rows []store.ElevationRow, stale map[string]bool, now time.Time) (map[string]store.ElevationUpsertResult, error) {
	return nil, nil
}
func (f *fakeStore) MarkToRemove(ctx context.Context, kind store.Kind, parentID int64) error { return nil }
func (f *fakeStore) ClearToRemove(ctx context.Context, kind store.Kind, parentID int64) (int, error) {
	return 0, nil
}
func (f *fakeStore) FindChildren(ctx context.Context, kind store.Kind, parentID int64) ([]int64, error) {
	return nil, nil
}
func (f *fakeStore) FindPhaseByNaturalKey(ctx context.Context, projectID int64, upstreamID string) (*model.Phase, error) {
	return nil, nil
}
func (f *fakeStore) ScanStale(ctx context.Context, kind store.Kind, threshold time.Duration, now time.Time) ([]int64, error) {
	return nil, nil
}
func (f *fakeStore) DeleteDirectory(ctx context.Context, id int64) error  { return nil }
func (f *fakeStore) DeleteProject(ctx context.Context, id int64) error   { return nil }
func (f *fakeStore) DeletePhase(ctx context.Context, id int64) error     { return nil }
func (f *fakeStore) DeleteElevation(ctx context.Context, id int64) error { return nil }
func (f *fakeStore) SetElevationParseResult(ctx context.Context, id int64, result store.ElevationParseResult) error {
	return nil
}
func (f *fakeStore) SetElevationParseFailed(ctx context.Context, id int64, errMsg string) error {
	return nil
}
func (f *fakeStore) ListElevationsPendingParse(ctx context.Context, batchSize int, maxRetries int) ([]model.Elevation, error) {
	return nil, nil
}
func (f *fakeStore) SetElevationPartsBlob(ctx context.Context, id int64, path string, hash string) error {
	return nil
}
func (f *fakeStore) Close() {}

func newTestServer(fs *fakeStore) *api.Server {
	registry := syncconfig.New(fs)
	if err := registry.Reload(context.Background()); err != nil {
		panic(err)
	}
	return api.NewServer(fs, nil, nil, registry, nil, "", logrus.New())
}

var _ = Describe("handleListProjects", func() {
	It("returns every project with computed phase/elevation counts", func() {
		fs := newFakeStore()
		fs.projects[1] = model.Project{ID: 1, UpstreamID: "p1", Name: "Alpha"}
		fs.phases[1] = []model.Phase{{ID: 10, UpstreamID: "ph1", ProjectID: 1, Name: "Phase 1"}}
		fs.elevations["ph1"] = []model.Elevation{{ID: 100, UpstreamID: "e1", PhaseID: 10, Name: "East"}}

		req := httptest.NewRequest(http.MethodGet, "/projects", nil)
		w := httptest.NewRecorder()
		newTestServer(fs).NewRouter().ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		var got []map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &got)).To(Succeed())
		Expect(got).To(HaveLen(1))
		Expect(got[0]["phase_count"]).To(BeNumerically("==", 1))
		Expect(got[0]["elevation_count"]).To(BeNumerically("==", 1))
	})
})

var _ = Describe("handleGetProject", func() {
	It("returns 404 for an unknown project id", func() {
		fs := newFakeStore()
		req := httptest.NewRequest(http.MethodGet, "/projects/99", nil)
		w := httptest.NewRecorder()
		newTestServer(fs).NewRouter().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("sync config endpoints", func() {
	It("round-trips a config update through PUT then GET", func() {
		fs := newFakeStore()
		fs.configs[syncconfig.TypeProject] = model.ObjectSyncConfig{
			ObjectType: syncconfig.TypeProject, Interval: time.Hour, StalenessThreshold: 2 * time.Hour,
			BatchSize: 50, MaxRetries: 3, RetryDelay: 5 * time.Minute,
		}
		srv := newTestServer(fs)
		router := srv.NewRouter()

		body := strings.NewReader(`{"interval":"30m","staleness_threshold":"1h","priority":2,"enabled":true,"batch_size":25,"max_retries":5,"retry_delay":"2m"}`)
		putReq := httptest.NewRequest(http.MethodPut, "/sync/config/project", body)
		putW := httptest.NewRecorder()
		router.ServeHTTP(putW, putReq)
		Expect(putW.Code).To(Equal(http.StatusOK))

		getReq := httptest.NewRequest(http.MethodGet, "/sync/config/project", nil)
		getW := httptest.NewRecorder()
		router.ServeHTTP(getW, getReq)
		Expect(getW.Code).To(Equal(http.StatusOK))

		var cfg model.ObjectSyncConfig
		Expect(json.Unmarshal(getW.Body.Bytes(), &cfg)).To(Succeed())
		Expect(cfg.Interval).To(Equal(30 * time.Minute))
		Expect(cfg.BatchSize).To(Equal(25))
	})

	It("404s on an unknown kind", func() {
		fs := newFakeStore()
		req := httptest.NewRequest(http.MethodGet, "/sync/config/not-a-kind", nil)
		w := httptest.NewRecorder()
		newTestServer(fs).NewRouter().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("handleListAlerts", func() {
	It("returns recorded alerts", func() {
		fs := newFakeStore()
		fs.alerts = append(fs.alerts, model.AlertEvent{Category: "staleness", Message: "too many stale rows"})

		req := httptest.NewRequest(http.MethodGet, "/sync/alerts", nil)
		w := httptest.NewRecorder()
		newTestServer(fs).NewRouter().ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		var got []model.AlertEvent
		Expect(json.Unmarshal(w.Body.Bytes(), &got)).To(Succeed())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Category).To(Equal("staleness"))
	})
})

var _ = Describe("handleThumbnail", func() {
	It("streams the staged thumbnail bytes", func() {
		dir := GinkgoT().TempDir()
		imgPath := filepath.Join(dir, "elev.png")
		Expect(os.WriteFile(imgPath, []byte("png-bytes"), 0o644)).To(Succeed())

		fs := newFakeStore()
		fs.elevByID[5] = &model.Elevation{ID: 5, UpstreamID: "e5", ImagePath: &imgPath}

		req := httptest.NewRequest(http.MethodGet, "/elevations/5/thumbnail", nil)
		w := httptest.NewRecorder()
		newTestServer(fs).NewRouter().ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("png-bytes"))
	})

	It("404s when no thumbnail has been staged yet", func() {
		fs := newFakeStore()
		fs.elevByID[6] = &model.Elevation{ID: 6, UpstreamID: "e6"}

		req := httptest.NewRequest(http.MethodGet, "/elevations/6/thumbnail", nil)
		w := httptest.NewRecorder()
		newTestServer(fs).NewRouter().ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("handleHealthz and handleReadyz", func() {
	It("healthz always answers ok", func() {
		fs := newFakeStore()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()
		newTestServer(fs).NewRouter().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("readyz reports ready when the store answers", func() {
		fs := newFakeStore()
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()
		newTestServer(fs).NewRouter().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
	})
})

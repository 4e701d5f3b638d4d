// Package api exposes the downstream read surface ERP consumers query
// against the mirrored catalog, plus the sync-control and operational
// endpoints. No teacher router source survived retrieval, so handler shape
// follows go-chi/chi/v5's own idiomatic mounting convention directly.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/scrollit/logikal-sync/pkg/metrics"
	"github.com/scrollit/logikal-sync/pkg/scheduler"
	"github.com/scrollit/logikal-sync/pkg/store"
	"github.com/scrollit/logikal-sync/pkg/sync/cascade"
	"github.com/scrollit/logikal-sync/pkg/syncconfig"
	"github.com/scrollit/logikal-sync/pkg/upstream/sessionpool"
)

// Server holds every dependency the handlers need. It has no behavior of its
// own beyond NewRouter — all request handling lives in the method files
// alongside it (projects.go, sync.go, health.go).
type Server struct {
	Store        store.Store
	Orchestrator *cascade.Orchestrator
	Scheduler    *scheduler.Scheduler
	Registry     *syncconfig.Registry
	Pool         *sessionpool.Pool
	ImageRoot    string
	Logger       *logrus.Logger
	validate     *validator.Validate
}

func NewServer(s store.Store, orch *cascade.Orchestrator, sched *scheduler.Scheduler,
	registry *syncconfig.Registry, pool *sessionpool.Pool, imageRoot string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		Store: s, Orchestrator: orch, Scheduler: sched, Registry: registry,
		Pool: pool, ImageRoot: imageRoot, Logger: logger, validate: validator.New(),
	}
}

// NewRouter wires every endpoint in the downstream API table plus the
// ambient health/metrics/alert surface.
func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		MaxAge:           300,
		AllowCredentials: false,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", s.handleListProjects)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Get("/complete", s.handleGetProjectComplete)
			r.Get("/phases", s.handleListPhases)
			r.Get("/phases/{phaseUpstreamID}/elevations", s.handleListElevations)
		})
	})

	r.Get("/elevations/{elevationID}/thumbnail", s.handleThumbnail)

	r.Route("/sync", func(r chi.Router) {
		r.Post("/project/{projectID}", s.handleSyncProject)
		r.Post("/full", s.handleSyncFull)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/config/{kind}", s.handleGetConfig)
		r.Put("/config/{kind}", s.handlePutConfig)
		r.Get("/alerts", s.handleListAlerts)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		s.Logger.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   duration,
		}).Info("request")

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.RecordHTTPRequest(route, r.Method, strconv.Itoa(ww.Status()), duration)
	})
}

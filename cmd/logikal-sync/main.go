// Command logikal-sync runs the catalog mirror as a single process: the
// scheduler (tick/work/health-sweep loops), the parts-parser poll loop, the
// downstream HTTP API, and the metrics server, all sharing one store
// connection, one upstream session pool, and one sync config registry. No
// teacher main.go survived retrieval (see DESIGN.md), so process wiring
// follows the other_examples/ single-binary composition: load config, build
// dependencies bottom-up, start background loops, serve, shut down on
// signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/scrollit/logikal-sync/internal/config"
	"github.com/scrollit/logikal-sync/pkg/alert"
	"github.com/scrollit/logikal-sync/pkg/api"
	"github.com/scrollit/logikal-sync/pkg/metrics"
	"github.com/scrollit/logikal-sync/pkg/partsparser"
	"github.com/scrollit/logikal-sync/pkg/scheduler"
	"github.com/scrollit/logikal-sync/pkg/scheduler/queue"
	"github.com/scrollit/logikal-sync/pkg/store/postgres"
	"github.com/scrollit/logikal-sync/pkg/sync/cascade"
	"github.com/scrollit/logikal-sync/pkg/sync/entity"
	"github.com/scrollit/logikal-sync/pkg/syncconfig"
	"github.com/scrollit/logikal-sync/pkg/upstream"
	"github.com/scrollit/logikal-sync/pkg/upstream/sessionpool"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.WithError(err).Fatal("logikal-sync exited with error")
	}
}

func run(ctx context.Context, logger *logrus.Logger) error {
	cfg := config.DefaultConfig()
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	st, err := postgres.Open(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.RateLimitRPS, cfg.Upstream.CallTimeout, logger)
	creds := upstream.Credentials{Username: cfg.Upstream.Username, Password: cfg.Upstream.Password}
	pool, err := sessionpool.New(ctx, client, creds, cfg.Upstream.PoolSize, logger)
	if err != nil {
		return fmt.Errorf("session pool: %w", err)
	}
	defer pool.Close(context.Background())

	registry := syncconfig.New(st)
	if err := registry.Seed(ctx); err != nil {
		return fmt.Errorf("sync config seed: %w", err)
	}

	directories, projects, phases, elevations, err := buildSyncers(registry, st, cfg)
	if err != nil {
		return fmt.Errorf("entity syncers: %w", err)
	}

	orch := cascade.New(st, pool, registry, directories, projects, phases, elevations, cfg.Upstream.PoolSize, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Scheduler.QueueAddr,
		DB:   cfg.Scheduler.QueueDB,
	})
	defer redisClient.Close()
	q := queue.New(redisClient, "logikal-sync")

	var notifier alert.Notifier = alert.NoopNotifier{}
	if cfg.Alert.Enabled {
		notifier = alert.NewSlackNotifier(cfg.Alert.SlackWebhookURL, cfg.Alert.SlackChannel, logger)
	}

	sched := scheduler.New(st, registry, orch, q, notifier, logger)
	sched.TickInterval = cfg.Scheduler.TickInterval

	worker := partsparser.New(st, logger)

	apiServer := api.NewServer(st, orch, sched, registry, pool, cfg.ImageRoot, logger)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiServer.NewRouter()}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, logger)

	errCh := make(chan error, 4)
	go func() { errCh <- sched.Run(ctx) }()
	go func() { errCh <- partsParserLoop(ctx, worker, cfg.PartsParser.PollInterval, logger) }()
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("api server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
			return
		}
		errCh <- nil
	}()
	metricsSrv.StartAsync()

	select {
	case <-ctx.Done():
		logger.Info("logikal-sync shutting down")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("background loop failed, shutting down")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("api server shutdown error")
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("metrics server shutdown error")
	}

	logger.Info("logikal-sync stopped")
	return nil
}

// buildSyncers constructs the four entity syncers, one per mirrored kind,
// each carrying the staleness threshold its own sync config row declares.
func buildSyncers(registry *syncconfig.Registry, st *postgres.Store, cfg *config.Config) (
	*entity.DirectorySyncer, *entity.ProjectSyncer, *entity.PhaseSyncer, *entity.ElevationSyncer, error) {

	threshold := func(kind string) time.Duration {
		if c, ok := registry.Get(kind); ok {
			return c.StalenessThreshold
		}
		return time.Hour
	}

	directories := entity.NewDirectorySyncer(st, threshold(syncconfig.TypeDirectory))
	projects := entity.NewProjectSyncer(st, threshold(syncconfig.TypeProject))
	phases := entity.NewPhaseSyncer(st, threshold(syncconfig.TypePhase))
	elevations := entity.NewElevationSyncer(st, threshold(syncconfig.TypeElevation), cfg.PartsParser.BlobRoot, cfg.ImageRoot)
	return directories, projects, phases, elevations, nil
}

// partsParserLoop polls for elevations whose parts blob has landed but not
// yet been parsed, one batch per tick, modeled on the scheduler's own
// ticker-driven loops.
func partsParserLoop(ctx context.Context, w *partsparser.Worker, interval time.Duration, logger *logrus.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			parsed, skipped, failed, err := w.RunOnce(ctx)
			if err != nil {
				logger.WithError(err).Warn("parts parser run failed")
				continue
			}
			if parsed+skipped+failed > 0 {
				logger.WithFields(logrus.Fields{
					"parsed": parsed, "skipped": skipped, "failed": failed,
				}).Info("parts parser batch complete")
			}
		}
	}
}

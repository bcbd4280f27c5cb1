// Command refluxd is REFLUX's server entrypoint: it wires storage, the node
// dispatch bus, the DAG execution engine, the run logger, the retention
// service, and the HTTP surface, then serves until SIGINT/SIGTERM.
// Grounded on the teacher's cmd/appserver/main.go composition root: flags
// override config/env, Postgres migrations run unless disabled, and
// shutdown drains background workers before exit.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/reflux-run/reflux/internal/bus"
	"github.com/reflux-run/reflux/internal/bus/nodes"
	"github.com/reflux-run/reflux/internal/config"
	"github.com/reflux-run/reflux/internal/engine"
	"github.com/reflux-run/reflux/internal/httpapi"
	"github.com/reflux-run/reflux/internal/platform/database"
	"github.com/reflux-run/reflux/internal/platform/migrations"
	"github.com/reflux-run/reflux/internal/retention"
	"github.com/reflux-run/reflux/internal/runlog"
	"github.com/reflux-run/reflux/internal/storage"
	"github.com/reflux-run/reflux/internal/storage/memory"
	"github.com/reflux-run/reflux/internal/storage/postgres"
	"github.com/reflux-run/reflux/pkg/logger"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "retention" {
		runRetentionCommand(os.Args[2:])
		return
	}
	runServer()
}

func runServer() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config/env)")
	runMigrations := flag.Bool("migrate", true, "apply embedded database migrations on startup (ignored for in-memory store)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	log_ := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(rootCtx, cfg, *runMigrations, log_)
	defer closeStore()

	nodeBus := bus.New(cfg.DispatchTimeout)
	nodes.RegisterAll(nodeBus, nodes.Config{
		HTTPClient:  &http.Client{Timeout: cfg.DispatchTimeout},
		HTTPTimeout: cfg.DispatchTimeout,
		DatabaseDSN: cfg.DatabaseURL,
	})

	dispatcher, closeDispatcher := newDispatcher(rootCtx, cfg, nodeBus, log_)
	defer closeDispatcher()

	logWriter := runlog.New(store.RunLogs(), runlog.DefaultConfig(), logger.NewDefault("runlog"))
	if err := logWriter.Start(rootCtx); err != nil {
		log.Fatalf("start run logger: %v", err)
	}
	defer logWriter.Stop(context.Background())

	eng := engine.New(store, dispatcher, logWriter, logger.NewDefault("engine"))

	policy, err := retention.LoadPolicy(cfg.Retention)
	if err != nil {
		log.Fatalf("load retention policy: %v", err)
	}
	retentionSvc := retention.New(store, nil, policy, logger.NewDefault("retention"))
	scheduler := retention.NewScheduler(retentionSvc, retention.DailySchedule, logger.NewDefault("retention-scheduler"))
	if err := scheduler.Start(rootCtx); err != nil {
		log.Fatalf("start retention scheduler: %v", err)
	}
	defer scheduler.Stop(context.Background())

	router := httpapi.NewRouter(httpapi.Deps{
		Store:     store,
		Engine:    eng,
		Retention: retentionSvc,
		Log:       logger.NewDefault("httpapi"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log_.WithField("addr", cfg.HTTPAddr).Info("reflux listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-rootCtx.Done()
	log_.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log_.WithError(err).Warn("http server shutdown error")
	}
}

// runRetentionCommand implements `refluxd retention --daily`: runs the
// cron-scheduled cleanup loop as a standalone process, for deployments that
// prefer a dedicated retention worker over embedding the scheduler in the
// HTTP server process.
func runRetentionCommand(args []string) {
	fs := flag.NewFlagSet("retention", flag.ExitOnError)
	daily := fs.Bool("daily", false, "run the cron-scheduled daily cleanup loop instead of a one-shot cleanup")
	dryRun := fs.Bool("dry-run", false, "preview deletions without applying them (one-shot mode only)")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log_ := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(rootCtx, cfg, true, log_)
	defer closeStore()

	policy, err := retention.LoadPolicy(cfg.Retention)
	if err != nil {
		log.Fatalf("load retention policy: %v", err)
	}
	svc := retention.New(store, nil, policy, logger.NewDefault("retention"))

	if !*daily {
		runOneShotCleanup(rootCtx, svc, *dryRun, log_)
		return
	}

	scheduler := retention.NewScheduler(svc, retention.DailySchedule, logger.NewDefault("retention-scheduler"))
	if err := scheduler.Start(rootCtx); err != nil {
		log.Fatalf("start retention scheduler: %v", err)
	}
	log_.Info("retention scheduler running")
	<-rootCtx.Done()
	scheduler.Stop(context.Background())
}

func runOneShotCleanup(ctx context.Context, svc *retention.Service, dryRun bool, log_ *logger.Logger) {
	result, err := svc.Cleanup(ctx, retention.Request{DryRun: dryRun})
	if err != nil {
		log.Fatalf("cleanup: %v", err)
	}
	log_.WithField("deleted_total", result.Deleted.Total()).
		WithField("dry_run", dryRun).
		Info("retention cleanup complete")
}

// newDispatcher selects the node dispatch bus transport from cfg.Transporter
// (spec §4.2/§6): "memory" (or any non-redis value) keeps the in-process
// Bus, invoking handlers directly; "redis://host:port" wraps it in a
// bus.RedisBus, advertising every registered address and serving it over
// Redis lists so node workers can run as separate processes from the
// engine that dispatches to them.
func newDispatcher(ctx context.Context, cfg config.Config, nodeBus *bus.Bus, log_ *logger.Logger) (engine.Dispatcher, func()) {
	if !strings.HasPrefix(cfg.Transporter, "redis://") {
		return nodeBus, func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: strings.TrimPrefix(cfg.Transporter, "redis://")})
	remote := bus.NewRedis(nodeBus, rdb, "")
	if err := remote.StartWorkers(ctx); err != nil {
		log.Fatalf("start redis bus workers: %v", err)
	}
	log_.WithField("transporter", cfg.Transporter).Info("dispatch bus: redis-backed transport active")
	return remote, func() {
		remote.Close()
		_ = rdb.Close()
	}
}

func openStore(ctx context.Context, cfg config.Config, runMigrations bool, log_ *logger.Logger) (storage.Store, func()) {
	if cfg.DatabaseURL == "" {
		log_.Warn("DATABASE_URL not set; using in-memory store")
		return memory.New(), func() {}
	}

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	if runMigrations {
		if err := migrations.Apply(ctx, db); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
	}
	return postgres.New(db), func() { closeDB(db) }
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		log.Printf("close database: %v", err)
	}
}

// Command fleetgate-server runs the fleet rollout control plane: the tick
// engine, the schedule promoter, and the drift sweep, over a single SQLite
// store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fleetgate/fleetgate-server/internal/application"
	"github.com/fleetgate/fleetgate-server/internal/config"
	"github.com/fleetgate/fleetgate-server/internal/domain"
	"github.com/fleetgate/fleetgate-server/internal/infrastructure/goworkflows"
	"github.com/fleetgate/fleetgate-server/internal/infrastructure/httpprobe"
	"github.com/fleetgate/fleetgate-server/internal/infrastructure/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fleetgate-server:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "path to the YAML config file")
		dbPath     = pflag.String("db", "", "override database.path")
		logLevel   = pflag.String("log-level", "", "override log.level")
	)
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store := &sqlite.Store{DB: db}
	endpointRepo := &sqlite.EndpointRepo{DB: db}
	nodeRepo := &sqlite.NodeRepo{DB: db}
	eventRepo := &sqlite.DriftRepo{DB: db}

	orch := &domain.Orchestrator{
		Tx:        store,
		Endpoints: endpointRepo,
		Gate: &domain.HealthGateEvaluator{
			Prober: &httpprobe.Prober{ConnectTimeout: cfg.Probe.ConnectTimeout.Std()},
		},
		Log:       log.Named("orchestrator"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, closeDriver, err := buildDriver(ctx, cfg, orch, log)
	if err != nil {
		return err
	}
	defer closeDriver()

	rolloutSvc := &application.RolloutService{
		Tx:      store,
		Bundles: &sqlite.BundleRepo{DB: db},
		Events:  eventRepo,
		Driver:  driver,
		Log:     log.Named("rollouts"),
	}
	driftSvc := &application.DriftService{
		Detector: &domain.DriftDetector{
			Nodes:  nodeRepo,
			Events: eventRepo,
			Log:    log.Named("drift"),
		},
		Events: eventRepo,
		Nodes:  nodeRepo,
		Log:    log.Named("drift"),
	}
	promoter := &application.SchedulePromoter{
		Tx:      store,
		Rollout: rolloutSvc,
		Log:     log.Named("promoter"),
	}

	if _, err := rolloutSvc.ResumeTicking(ctx); err != nil {
		return fmt.Errorf("resume running rollouts: %w", err)
	}

	jobs := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err = jobs.AddFunc("@every "+cfg.Jobs.PromoteInterval.Std().String(), func() {
		if _, err := promoter.Run(ctx); err != nil {
			log.Error("schedule promotion", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule promoter job: %w", err)
	}
	_, err = jobs.AddFunc("@every "+cfg.Jobs.SweepInterval.Std().String(), func() {
		result, err := driftSvc.SweepAll(ctx)
		if err != nil {
			log.Error("drift sweep", zap.Error(err))
			return
		}
		if result.Detected > 0 || result.Resolved > 0 {
			log.Info("drift sweep",
				zap.Int("detected", result.Detected),
				zap.Int("resolved", result.Resolved))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep job: %w", err)
	}
	jobs.Start()
	defer func() { <-jobs.Stop().Done() }()

	log.Info("fleetgate-server started",
		zap.String("db", cfg.Database.Path),
		zap.String("tick_engine", string(cfg.Tick.Engine)))

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func buildLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// buildDriver wires the configured tick engine. The workflows engine keeps
// its own SQLite file next to the main store so the two schemas never mix.
func buildDriver(ctx context.Context, cfg config.Config, orch *domain.Orchestrator, log *zap.Logger) (domain.TickDriver, func(), error) {
	switch cfg.Tick.Engine {
	case config.EngineWorkflows:
		backend := wfsqlite.NewSqliteBackend(cfg.Database.Path + ".workflows")
		w := worker.New(backend, nil)
		driver := &goworkflows.Driver{
			Client:   client.New(backend),
			Ticker:   orch,
			Interval: cfg.Tick.Interval.Std(),
			Log:      log.Named("ticks"),
		}
		if err := driver.Register(w); err != nil {
			return nil, nil, err
		}
		if err := w.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("start workflow worker: %w", err)
		}
		return driver, func() { _ = w.WaitForCompletion() }, nil
	default:
		driver := &application.IntervalDriver{
			Ticker:   orch,
			Interval: cfg.Tick.Interval.Std(),
			Log:      log.Named("ticks"),
		}
		return driver, driver.Close, nil
	}
}

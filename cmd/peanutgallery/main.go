package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peanutgallery/catalog/internal/bus"
	corecfg "github.com/peanutgallery/catalog/internal/core/config"
	"github.com/peanutgallery/catalog/internal/core/storage/postgres"
	"github.com/peanutgallery/catalog/internal/gateway"
	"github.com/peanutgallery/catalog/internal/migrations"
	"github.com/peanutgallery/catalog/internal/population"
	"github.com/peanutgallery/catalog/internal/provider"
	"github.com/peanutgallery/catalog/internal/scheduler"
	"github.com/peanutgallery/catalog/internal/server"
	"github.com/peanutgallery/catalog/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "peanutgallery.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"store_backend", cfg.Store.Backend,
		"bus_backend", cfg.Bus.Backend,
		"workers", cfg.Worker.Count,
		"scheduler_enabled", cfg.Scheduler.Enabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg.Server.Addr(), cfg.Server.Mode)

	// 2. Initialize Database (PostgreSQL) when a backend needs it
	var b backends
	defer b.close()

	if cfg.NeedsDatabase() {
		db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		b.db = db

		// 2.1. Run Database Migrations
		if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
		srv.AddHealthCheck("database", server.HealthCheckFunc(db.PingContext))
	}

	// 3. Initialize Catalog Store
	if err := b.openStore(cfg, srv); err != nil {
		slog.Error("Failed to initialize catalog store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}

	// 4. Initialize Population Bus
	if err := b.openQueue(ctx, cfg, srv); err != nil {
		slog.Error("Failed to initialize population queue", "backend", cfg.Bus.Backend, "error", err)
		os.Exit(1)
	}
	topic := bus.NewTopic(cfg.Bus.PublishTimeout)
	topic.Subscribe(b.queue)

	// 5. Initialize Provider + Worker Pool
	fetcher := provider.NewTMDBClient(provider.Config{
		BaseURL:           cfg.Provider.BaseURL,
		AccessToken:       cfg.Provider.AccessToken,
		APIKey:            cfg.Provider.APIKey,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		MaxPages:          cfg.Provider.MaxPages,
	})
	pool := population.NewPool(cfg.Worker.Count, b.queue, fetcher, b.store, cfg.Bus.PollInterval)

	// 6. Initialize Gateway (populate + ranked query API)
	deadLetters, _ := b.queue.(bus.DeadLetterReader)
	gatewaySvc := gateway.NewService(topic, b.store, deadLetters, gateway.Config{
		MaxSpanDays:     cfg.Gateway.MaxSpanDays,
		DefaultPageSize: cfg.Gateway.DefaultPageSize,
		MaxPageSize:     cfg.Gateway.MaxPageSize,
		MaxBodyBytes:    int64(cfg.Server.MaxBodySizeMB) << 20,
	})
	gatewaySvc.RegisterRoutes(srv.Engine)

	// 7. Build Supervisor Tree
	tree := supervisor.NewTree(logger, supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	tree.AddPipelineService(pool)
	if cfg.Scheduler.Enabled {
		tree.AddPipelineService(scheduler.New(gatewaySvc, scheduler.Config{
			Interval:   cfg.Scheduler.Interval,
			WindowDays: cfg.Scheduler.WindowDays,
			RunOnStart: cfg.Scheduler.RunOnStart,
		}))
	} else {
		slog.Info("Population scheduler disabled by config")
	}
	tree.AddAPIService(srv)

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// The tree blocks until ctx is cancelled.
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Supervisor stopped with error", "error", err)
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		slog.Warn("Services did not stop within the shutdown timeout", "count", len(report))
	}

	slog.Info("Shutdown complete")
}

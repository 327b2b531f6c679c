package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/peanutgallery/catalog/internal/bus"
	"github.com/peanutgallery/catalog/internal/bus/jetstream"
	corecfg "github.com/peanutgallery/catalog/internal/core/config"
	"github.com/peanutgallery/catalog/internal/core/storage"
	"github.com/peanutgallery/catalog/internal/core/storage/memory"
	"github.com/peanutgallery/catalog/internal/core/storage/postgres"
	"github.com/peanutgallery/catalog/internal/server"
)

const natsShutdownTimeout = 10 * time.Second

// backends owns the storage and bus resources selected by config and
// releases them in reverse order of acquisition.
type backends struct {
	db      *sql.DB
	store   storage.CatalogStore
	queue   bus.Queue
	closers []func()
}

func (b *backends) openStore(cfg *corecfg.Config, srv *server.Server) error {
	switch cfg.Store.Backend {
	case "memory":
		b.store = memory.NewCatalogStore()
	case "postgres":
		adapter, err := postgres.NewCatalogAdapter(b.db)
		if err != nil {
			return err
		}
		b.store = adapter
		b.closers = append(b.closers, func() { _ = adapter.Close() })
		srv.AddHealthCheck("catalog", adapter)
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
	return nil
}

func (b *backends) openQueue(ctx context.Context, cfg *corecfg.Config, srv *server.Server) error {
	opts := bus.Options{
		VisibilityTimeout: cfg.Bus.VisibilityTimeout,
		MaxRedeliveries:   cfg.Bus.MaxRedeliveries,
	}

	switch cfg.Bus.Backend {
	case "memory":
		b.queue = bus.NewMemoryQueue(opts)
	case "postgres":
		adapter, err := postgres.NewQueueAdapter(b.db, opts)
		if err != nil {
			return err
		}
		b.queue = adapter
		b.closers = append(b.closers, func() { _ = adapter.Close() })
	case "jetstream":
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			ns, err := jetstream.NewEmbeddedServer(jetstream.ServerConfig{
				Host:     cfg.NATS.Host,
				Port:     cfg.NATS.Port,
				StoreDir: cfg.NATS.StoreDir,
			})
			if err != nil {
				return err
			}
			b.closers = append(b.closers, func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), natsShutdownTimeout)
				defer cancel()
				if err := ns.Shutdown(shutdownCtx); err != nil {
					slog.Error("[NATS] Embedded server shutdown failed", "error", err)
				}
			})
			url = ns.ClientURL()
		}

		nc, err := jetstream.Connect(url)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() { _ = nc.Drain() })
		srv.AddHealthCheck("nats", server.HealthCheckFunc(func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("connection status %s", status)
			}
			return nil
		}))

		queue, err := jetstream.NewQueue(ctx, nc, jetstream.Config{
			Stream:            cfg.NATS.Stream,
			Subject:           cfg.NATS.Subject,
			DeadLetterStream:  cfg.NATS.DeadLetterStream,
			DeadLetterSubject: cfg.NATS.DeadLetterSubject,
			Durable:           cfg.NATS.Durable,
		}, opts)
		if err != nil {
			return err
		}
		b.queue = queue
	default:
		return fmt.Errorf("unsupported bus backend %q", cfg.Bus.Backend)
	}
	return nil
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

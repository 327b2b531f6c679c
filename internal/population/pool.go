package population

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/peanutgallery/catalog/internal/bus"
	"github.com/peanutgallery/catalog/internal/core/storage"
	"github.com/peanutgallery/catalog/internal/provider"
)

// Pool runs independent workers on one queue.
type Pool struct {
	workers []*Worker
}

// NewPool creates count workers. count < 1 is treated as 1.
func NewPool(count int, queue bus.Queue, fetcher provider.Fetcher, store storage.MovieUpserter, pollInterval time.Duration) *Pool {
	if count < 1 {
		count = 1
	}
	workers := make([]*Worker, count)
	for i := range workers {
		workers[i] = NewWorker(i+1, queue, fetcher, store, pollInterval)
	}
	return &Pool{workers: workers}
}

// Serve runs every worker until ctx is cancelled.
func (p *Pool) Serve(ctx context.Context) error {
	slog.Info("[Worker] Starting pool", "workers", len(p.workers))

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			return w.Serve(gctx)
		})
	}
	return g.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

func (p *Pool) String() string {
	return "population-pool"
}

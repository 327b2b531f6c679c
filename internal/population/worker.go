// Package population runs the workers that turn population requests into
// catalog records.
package population

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peanutgallery/catalog/internal/bus"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	"github.com/peanutgallery/catalog/internal/core/storage"
	"github.com/peanutgallery/catalog/internal/metrics"
	"github.com/peanutgallery/catalog/internal/provider"
)

const (
	DefaultPollInterval = time.Second

	// maxConsecutiveDeliveries bounds one drain so shutdown is noticed
	// between messages even under a deep backlog.
	maxConsecutiveDeliveries = 100
)

// Result summarises the processing of one delivery.
type Result struct {
	RequestID string
	Attempt   int
	Fetched   int
	Upserted  int
	Skipped   int
	Failed    int
	Acked     bool
}

// Worker consumes population requests one at a time. It holds no state
// between messages, so any number of workers may share a queue.
type Worker struct {
	id           int
	queue        bus.Queue
	fetcher      provider.Fetcher
	store        storage.MovieUpserter
	pollInterval time.Duration
}

// NewWorker creates a worker. The store capability is write-only.
func NewWorker(id int, queue bus.Queue, fetcher provider.Fetcher, store storage.MovieUpserter, pollInterval time.Duration) *Worker {
	if queue == nil {
		panic("population: queue is required")
	}
	if fetcher == nil {
		panic("population: fetcher is required")
	}
	if store == nil {
		panic("population: store is required")
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Worker{
		id:           id,
		queue:        queue,
		fetcher:      fetcher,
		store:        store,
		pollInterval: pollInterval,
	}
}

// Serve polls the queue until ctx is cancelled.
func (w *Worker) Serve(ctx context.Context) error {
	slog.Info("[Worker] Started", "worker_id", w.id, "poll_interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.drain(ctx)

	for {
		select {
		case <-ticker.C:
			w.drain(ctx)
		case <-ctx.Done():
			slog.Info("[Worker] Stopping (context cancelled)", "worker_id", w.id)
			return nil
		}
	}
}

// drain processes visible messages until the queue is empty.
func (w *Worker) drain(ctx context.Context) {
	for n := 0; n < maxConsecutiveDeliveries; n++ {
		if ctx.Err() != nil {
			return
		}

		d, err := w.queue.Receive(ctx)
		if errors.Is(err, bus.ErrNoMessage) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("[Worker] Receive failed", "worker_id", w.id, "error", err)
			}
			return
		}

		if _, err := w.Process(ctx, d); err != nil {
			slog.Warn("[Worker] Delivery left for redelivery",
				"worker_id", w.id,
				"request_id", d.Request.RequestID,
				"attempt", d.Request.Attempt,
				"retryable", catalog.IsRetryable(err),
				"error", err)
		}
	}
}

// Process handles one delivery: fetch, map, upsert every record, then ack
// only if every upsert succeeded. A returned error means the message was not
// acknowledged and will be redelivered after its visibility window.
func (w *Worker) Process(ctx context.Context, d *bus.Delivery) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	}()

	req := d.Request
	res := Result{RequestID: req.RequestID, Attempt: req.Attempt}

	if err := req.Validate(); err != nil {
		metrics.MessagesProcessed.WithLabelValues("invalid").Inc()
		return res, catalog.Validationf("request %s: %v", req.RequestID, err)
	}

	// Work past the visibility deadline would race a redelivery.
	workCtx, cancel := context.WithDeadline(ctx, d.VisibleUntil)
	defer cancel()

	records, err := w.fetcher.Fetch(workCtx, req.StartDate, req.EndDate)
	if err != nil {
		metrics.MessagesProcessed.WithLabelValues("provider_error").Inc()
		if !errors.Is(err, catalog.ErrProvider) {
			err = catalog.Provider("fetch", err)
		}
		return res, err
	}
	res.Fetched = len(records)

	var firstErr error
	for _, raw := range records {
		movie, err := catalog.MovieFromRecord(raw)
		if err != nil {
			res.Skipped++
			metrics.RecordsSkipped.Inc()
			slog.Warn("[Worker] Skipping malformed record",
				"worker_id", w.id,
				"request_id", req.RequestID,
				"error", err)
			continue
		}

		if err := w.store.UpsertMovie(workCtx, movie); err != nil {
			res.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Upserted++
		metrics.RecordsUpserted.Inc()
	}

	if res.Failed > 0 {
		metrics.MessagesProcessed.WithLabelValues("persistence_error").Inc()
		if !errors.Is(firstErr, catalog.ErrPersistence) {
			firstErr = catalog.Persistence("upsert", firstErr)
		}
		return res, fmt.Errorf("%d of %d upserts failed: %w", res.Failed, res.Failed+res.Upserted, firstErr)
	}

	// Ack on the parent context: the queue, not our deadline, decides
	// whether the receipt is still current.
	if err := w.queue.Ack(ctx, d); err != nil {
		if errors.Is(err, bus.ErrStaleReceipt) {
			metrics.MessagesProcessed.WithLabelValues("stale_ack").Inc()
			slog.Warn("[Worker] Ack after visibility window, message was redelivered",
				"worker_id", w.id,
				"request_id", req.RequestID,
				"attempt", req.Attempt)
			return res, nil
		}
		return res, fmt.Errorf("ack %s: %w", req.RequestID, err)
	}

	res.Acked = true
	metrics.MessagesProcessed.WithLabelValues("acked").Inc()
	slog.Info("[Worker] Request processed",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"attempt", req.Attempt,
		"fetched", res.Fetched,
		"upserted", res.Upserted,
		"skipped", res.Skipped)
	return res, nil
}

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/metrics"
)

// Topic fans every published request out into its subscribed queues.
// Publish is synchronous so an enqueue failure in any subscriber reaches the
// caller, which watermill's fire-and-forget gochannel pub/sub cannot report.
type Topic struct {
	mu      sync.RWMutex
	queues  []Queue
	timeout time.Duration
}

// NewTopic creates a topic whose Publish calls are bounded by timeout.
// A zero timeout leaves the caller's deadline in charge.
func NewTopic(timeout time.Duration) *Topic {
	return &Topic{timeout: timeout}
}

// Subscribe attaches q. Requests published afterwards are enqueued into it.
func (t *Topic) Subscribe(q Queue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues = append(t.queues, q)
}

// Publish enqueues req into every subscribed queue. It returns nil only when
// all queues stored the request.
func (t *Topic) Publish(ctx context.Context, req v1.PopulationRequest) error {
	req.Attempt = 0
	if err := req.Validate(); err != nil {
		metrics.RequestsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("invalid population request: %w", err)
	}

	t.mu.RLock()
	queues := append([]Queue(nil), t.queues...)
	t.mu.RUnlock()

	if len(queues) == 0 {
		metrics.RequestsPublished.WithLabelValues("error").Inc()
		return ErrNoSubscribers
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var errs []error
	for i, q := range queues {
		if err := q.Enqueue(ctx, req); err != nil {
			errs = append(errs, fmt.Errorf("queue %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		metrics.RequestsPublished.WithLabelValues("error").Inc()
		slog.Warn("[Bus] Publish failed",
			"request_id", req.RequestID,
			"range", v1.DateRange{Start: req.StartDate, End: req.EndDate}.String(),
			"failed_queues", len(errs))
		return fmt.Errorf("publish %s: %w", req.RequestID, errors.Join(errs...))
	}

	metrics.RequestsPublished.WithLabelValues("ok").Inc()
	slog.Debug("[Bus] Published",
		"request_id", req.RequestID,
		"start_date", req.StartDate.String(),
		"end_date", req.EndDate.String(),
		"queues", len(queues))
	return nil
}

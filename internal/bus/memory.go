package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	"github.com/peanutgallery/catalog/internal/metrics"
)

type memoryMessage struct {
	req        v1.PopulationRequest
	deliveries int
	receipt    string
	visibleAt  time.Time
	enqueuedAt time.Time
}

// MemoryQueue is an in-process Queue for tests and single-process
// deployments. Messages do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	opts    Options
	pending []*memoryMessage
	dead    []DeadLetter
	nowFn   func() time.Time
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts: opts.Normalize(),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetClock replaces the queue's time source.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nowFn = now
}

func (q *MemoryQueue) Enqueue(ctx context.Context, req v1.PopulationRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.pending {
		if m.req.RequestID == req.RequestID {
			return nil
		}
	}

	now := q.nowFn()
	req.Attempt = 0
	q.pending = append(q.pending, &memoryMessage{
		req:        req,
		visibleAt:  now,
		enqueuedAt: now,
	})
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowFn()
	for i := 0; i < len(q.pending); i++ {
		m := q.pending[i]
		if m.visibleAt.After(now) {
			continue
		}

		if m.deliveries >= q.opts.MaxDeliveries() {
			q.deadLetterLocked(i, now)
			i--
			continue
		}

		m.deliveries++
		m.receipt = uuid.NewString()
		m.visibleAt = now.Add(q.opts.VisibilityTimeout)

		req := m.req
		req.Attempt = m.deliveries
		metrics.DeliveriesReceived.Inc()
		return &Delivery{
			Request:      req,
			Receipt:      m.receipt,
			VisibleUntil: m.visibleAt,
		}, nil
	}
	return nil, ErrNoMessage
}

func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.pending {
		if m.req.RequestID != d.Request.RequestID {
			continue
		}
		if m.receipt != d.Receipt {
			return ErrStaleReceipt
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return nil
	}
	return ErrStaleReceipt
}

// DeadLetters returns up to limit dead letters, newest first.
func (q *MemoryQueue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.dead) {
		limit = len(q.dead)
	}
	out := make([]DeadLetter, 0, limit)
	for i := len(q.dead) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, q.dead[i])
	}
	return out, nil
}

// Len returns the number of messages not yet acked or dead-lettered.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) deadLetterLocked(i int, now time.Time) {
	m := q.pending[i]
	q.pending = append(q.pending[:i], q.pending[i+1:]...)

	req := m.req
	req.Attempt = m.deliveries
	q.dead = append(q.dead, DeadLetter{
		Request:        req,
		Deliveries:     m.deliveries,
		Reason:         PoisonReason(m.deliveries),
		EnqueuedAt:     m.enqueuedAt,
		DeadLetteredAt: now,
	})

	metrics.DeadLettered.WithLabelValues("memory").Inc()
	slog.Warn("[Bus] Message dead-lettered",
		"request_id", req.RequestID,
		"deliveries", m.deliveries,
		"error", catalog.ErrPoisonMessage)
}

// PoisonReason is the dead-letter reason recorded by every backend.
func PoisonReason(deliveries int) string {
	return fmt.Sprintf("%s: delivery budget exhausted after %d deliveries", catalog.ErrPoisonMessage, deliveries)
}

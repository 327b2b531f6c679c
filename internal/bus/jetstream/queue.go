// Package jetstream implements bus.Queue on a NATS JetStream work-queue
// stream.
//
// Requests are published to a WorkQueue stream and consumed through one
// durable pull consumer whose AckWait is the visibility timeout. The server
// redelivers unacknowledged messages without limit; the queue itself moves a
// message to the dead-letter stream once its delivery count exceeds the
// budget, then terminates it.
package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/bus"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	"github.com/peanutgallery/catalog/internal/metrics"
)

const (
	// maxDeadLetterSweep bounds how many exhausted messages one Receive call
	// moves before giving up for this poll.
	maxDeadLetterSweep = 16

	// maxAckMargin caps the slack kept between the local visibility deadline
	// and the server's AckWait expiry.
	maxAckMargin = time.Second
)

// Config names the JetStream resources of the population queue.
type Config struct {
	Stream            string
	Subject           string
	DeadLetterStream  string
	DeadLetterSubject string
	Durable           string

	// MemoryStorage keeps streams in memory. Used by tests.
	MemoryStorage bool
}

// DefaultConfig returns the production resource names.
func DefaultConfig() Config {
	return Config{
		Stream:            "POPULATION",
		Subject:           "population.requests",
		DeadLetterStream:  "POPULATION_DLQ",
		DeadLetterSubject: "population.dead",
		Durable:           "population-workers",
	}
}

type inflight struct {
	msg          natsjs.Msg
	visibleUntil time.Time
}

// Queue implements bus.Queue and bus.DeadLetterReader on JetStream.
type Queue struct {
	js       natsjs.JetStream
	consumer natsjs.Consumer
	dlq      natsjs.Stream
	cfg      Config
	opts     bus.Options

	mu       sync.Mutex
	inflight map[string]inflight
	nowFn    func() time.Time
}

// Connect dials a NATS server for the queue.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("peanutgallery"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewQueue creates or updates the streams and the durable consumer.
func NewQueue(ctx context.Context, nc *nats.Conn, cfg Config, opts bus.Options) (*Queue, error) {
	opts = opts.Normalize()

	js, err := natsjs.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	storage := natsjs.FileStorage
	if cfg.MemoryStorage {
		storage = natsjs.MemoryStorage
	}

	stream, err := js.CreateOrUpdateStream(ctx, natsjs.StreamConfig{
		Name:        cfg.Stream,
		Description: "Pending population requests",
		Subjects:    []string{cfg.Subject},
		Retention:   natsjs.WorkQueuePolicy,
		Storage:     storage,
		Duplicates:  10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	dlq, err := js.CreateOrUpdateStream(ctx, natsjs.StreamConfig{
		Name:        cfg.DeadLetterStream,
		Description: "Population requests that exhausted their delivery budget",
		Subjects:    []string{cfg.DeadLetterSubject},
		Retention:   natsjs.LimitsPolicy,
		Storage:     storage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.DeadLetterStream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, natsjs.ConsumerConfig{
		Durable:       cfg.Durable,
		AckPolicy:     natsjs.AckExplicitPolicy,
		AckWait:       opts.VisibilityTimeout,
		MaxDeliver:    -1,
		FilterSubject: cfg.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s: %w", cfg.Durable, err)
	}

	slog.Info("[NATS] Population queue ready",
		"stream", cfg.Stream,
		"dead_letter_stream", cfg.DeadLetterStream,
		"ack_wait", opts.VisibilityTimeout,
		"max_deliveries", opts.MaxDeliveries())

	return &Queue{
		js:       js,
		consumer: consumer,
		dlq:      dlq,
		cfg:      cfg,
		opts:     opts,
		inflight: make(map[string]inflight),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Enqueue publishes req with its request id as the JetStream message id, so
// a retried publish inside the duplicate window is stored once.
func (q *Queue) Enqueue(ctx context.Context, req v1.PopulationRequest) error {
	req.Attempt = 0
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal population request: %w", err)
	}

	if _, err := q.js.Publish(ctx, q.cfg.Subject, data, natsjs.WithMsgID(req.RequestID)); err != nil {
		return fmt.Errorf("publish %s to %s: %w", req.RequestID, q.cfg.Subject, err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context) (*bus.Delivery, error) {
	q.pruneInflight()

	for i := 0; i < maxDeadLetterSweep; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// The server starts AckWait when it hands the message out, which is
		// after this instant.
		fetchedAt := q.nowFn()
		msg, err := q.fetchOne()
		if err != nil {
			return nil, err
		}

		meta, err := msg.Metadata()
		if err != nil {
			return nil, fmt.Errorf("read message metadata: %w", err)
		}
		deliveries := int(meta.NumDelivered)

		var req v1.PopulationRequest
		if err := json.Unmarshal(msg.Data(), &req); err != nil {
			// Undecodable payloads can never succeed.
			q.deadLetter(ctx, msg, v1.PopulationRequest{}, deliveries,
				fmt.Sprintf("%s: undecodable payload: %v", catalog.ErrPoisonMessage, err), meta.Timestamp)
			continue
		}

		if deliveries > q.opts.MaxDeliveries() {
			q.deadLetter(ctx, msg, req, deliveries-1, bus.PoisonReason(deliveries-1), meta.Timestamp)
			continue
		}

		d := &bus.Delivery{
			Request:      req,
			Receipt:      uuid.NewString(),
			VisibleUntil: q.visibleUntil(fetchedAt),
		}
		d.Request.Attempt = deliveries

		q.mu.Lock()
		q.inflight[d.Receipt] = inflight{msg: msg, visibleUntil: d.VisibleUntil}
		q.mu.Unlock()

		metrics.DeliveriesReceived.Inc()
		return d, nil
	}
	return nil, bus.ErrNoMessage
}

// visibleUntil is the local ack deadline of a message fetched at fetchedAt.
// It ends a margin of a tenth of the visibility timeout, at most
// maxAckMargin, before the server may redeliver.
func (q *Queue) visibleUntil(fetchedAt time.Time) time.Time {
	margin := q.opts.VisibilityTimeout / 10
	if margin > maxAckMargin {
		margin = maxAckMargin
	}
	return fetchedAt.Add(q.opts.VisibilityTimeout - margin)
}

func (q *Queue) fetchOne() (natsjs.Msg, error) {
	batch, err := q.consumer.FetchNoWait(1)
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", q.cfg.Durable, err)
	}

	var msg natsjs.Msg
	for m := range batch.Messages() {
		msg = m
	}
	if msg != nil {
		return msg, nil
	}

	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		slog.Debug("[NATS] Empty fetch", "error", err)
	}
	return nil, bus.ErrNoMessage
}

// deadLetter publishes the message to the dead-letter stream and terminates
// it. If the publish fails the message is left for redelivery so it is never
// lost.
func (q *Queue) deadLetter(ctx context.Context, msg natsjs.Msg, req v1.PopulationRequest, deliveries int, reason string, enqueuedAt time.Time) {
	req.Attempt = deliveries
	data, err := json.Marshal(bus.DeadLetter{
		Request:        req,
		Deliveries:     deliveries,
		Reason:         reason,
		EnqueuedAt:     enqueuedAt,
		DeadLetteredAt: q.nowFn(),
	})
	if err != nil {
		slog.Error("[NATS] Failed to encode dead letter", "request_id", req.RequestID, "error", err)
		return
	}

	if _, err := q.js.Publish(ctx, q.cfg.DeadLetterSubject, data); err != nil {
		slog.Error("[NATS] Failed to publish dead letter", "request_id", req.RequestID, "error", err)
		return
	}

	if err := msg.Term(); err != nil {
		slog.Warn("[NATS] Failed to terminate dead-lettered message", "request_id", req.RequestID, "error", err)
	}

	metrics.DeadLettered.WithLabelValues("jetstream").Inc()
	slog.Warn("[Bus] Message dead-lettered",
		"request_id", req.RequestID,
		"deliveries", deliveries,
		"error", catalog.ErrPoisonMessage)
}

// Ack acknowledges the delivery if its visibility window is still open.
// After the window JetStream has already scheduled a redelivery, so the
// receipt is stale.
func (q *Queue) Ack(ctx context.Context, d *bus.Delivery) error {
	q.mu.Lock()
	entry, ok := q.inflight[d.Receipt]
	delete(q.inflight, d.Receipt)
	q.mu.Unlock()

	if !ok || q.nowFn().After(entry.visibleUntil) {
		return bus.ErrStaleReceipt
	}

	if err := entry.msg.DoubleAck(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", d.Request.RequestID, err)
	}
	return nil
}

// DeadLetters reads the newest dead letters from the dead-letter stream.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]bus.DeadLetter, error) {
	info, err := q.dlq.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("dead-letter stream info: %w", err)
	}

	var letters []bus.DeadLetter
	for seq := info.State.LastSeq; seq >= info.State.FirstSeq && seq > 0; seq-- {
		if limit > 0 && len(letters) >= limit {
			break
		}
		raw, err := q.dlq.GetMsg(ctx, seq)
		if err != nil {
			// Skip deleted or unavailable messages
			continue
		}
		var dl bus.DeadLetter
		if err := json.Unmarshal(raw.Data, &dl); err != nil {
			slog.Warn("[NATS] Skipping undecodable dead letter", "seq", seq, "error", err)
			continue
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

// pruneInflight forgets receipts whose window lapsed; their messages are
// redelivered by the server under a new receipt.
func (q *Queue) pruneInflight() {
	now := q.nowFn()
	q.mu.Lock()
	defer q.mu.Unlock()
	for receipt, entry := range q.inflight {
		if now.After(entry.visibleUntil) {
			delete(q.inflight, receipt)
		}
	}
}

var (
	_ bus.Queue            = (*Queue)(nil)
	_ bus.DeadLetterReader = (*Queue)(nil)
)

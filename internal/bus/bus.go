// Package bus carries population requests from producers to workers.
//
// Producers publish on a Topic, which fans each request out into every
// subscribed Queue before Publish returns. A Queue hands a message to one
// consumer at a time and hides it for the visibility timeout; a message that
// is not acknowledged in time becomes visible again. After 1+MaxRedeliveries
// deliveries the message is moved to the dead-letter queue instead of being
// delivered again.
package bus

import (
	"context"
	"errors"
	"time"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
)

var (
	// ErrNoMessage is returned by Receive when no message is visible.
	ErrNoMessage = errors.New("no message available")

	// ErrStaleReceipt is returned by Ack when the delivery's visibility
	// window lapsed and the message was handed out again (or is gone).
	ErrStaleReceipt = errors.New("stale delivery receipt")

	// ErrNoSubscribers is returned by Publish on a topic without queues.
	ErrNoSubscribers = errors.New("topic has no subscribed queues")
)

const (
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultMaxRedeliveries   = 3
)

// Options is the delivery policy shared by all queue backends.
type Options struct {
	VisibilityTimeout time.Duration
	MaxRedeliveries   int
}

// DefaultOptions returns the production delivery policy.
func DefaultOptions() Options {
	return Options{
		VisibilityTimeout: DefaultVisibilityTimeout,
		MaxRedeliveries:   DefaultMaxRedeliveries,
	}
}

// MaxDeliveries is the total delivery budget of one message.
func (o Options) MaxDeliveries() int {
	return 1 + o.MaxRedeliveries
}

// Normalize fills unset fields with defaults.
func (o Options) Normalize() Options {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if o.MaxRedeliveries < 0 {
		o.MaxRedeliveries = 0
	}
	return o
}

// Delivery is one hand-out of a message to a consumer.
type Delivery struct {
	// Request.Attempt is the 1-based delivery number.
	Request v1.PopulationRequest

	// Receipt identifies this hand-out. Ack with an older receipt fails
	// with ErrStaleReceipt.
	Receipt string

	// VisibleUntil is when the message becomes visible to other consumers
	// again unless acknowledged.
	VisibleUntil time.Time
}

// DeadLetter is a message that exhausted its delivery budget.
type DeadLetter struct {
	Request        v1.PopulationRequest `json:"request"`
	Deliveries     int                  `json:"deliveries"`
	Reason         string               `json:"reason"`
	EnqueuedAt     time.Time            `json:"enqueued_at"`
	DeadLetteredAt time.Time            `json:"dead_lettered_at"`
}

// Queue is a durable point-to-point queue with visibility-window semantics.
type Queue interface {
	// Enqueue stores req durably. Enqueueing a request id that is already
	// pending is a no-op.
	Enqueue(ctx context.Context, req v1.PopulationRequest) error

	// Receive hands out one visible message or returns ErrNoMessage.
	// Messages over budget are dead-lettered here instead of returned.
	Receive(ctx context.Context) (*Delivery, error)

	// Ack removes the delivered message.
	Ack(ctx context.Context, d *Delivery) error
}

// DeadLetterReader lists dead-lettered requests for operator inspection,
// newest first.
type DeadLetterReader interface {
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}

// Publisher is the producer capability handed to the gateway.
type Publisher interface {
	Publish(ctx context.Context, req v1.PopulationRequest) error
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/bus"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	"github.com/peanutgallery/catalog/internal/metrics"
)

// QueueAdapter implements bus.Queue and bus.DeadLetterReader on the
// population_queue and population_dead_letters tables. Several processes may
// consume the same tables; claims use FOR UPDATE SKIP LOCKED.
type QueueAdapter struct {
	db             *sql.DB
	opts           bus.Options
	stmtEnqueue    *sql.Stmt
	stmtDeadLetter *sql.Stmt
	stmtClaim      *sql.Stmt
	stmtAck        *sql.Stmt
	stmtListDead   *sql.Stmt
	nowFn          func() time.Time
	newReceipt     func() string
}

// NewQueueAdapter prepares the queue statements on a shared connection.
func NewQueueAdapter(db *sql.DB, opts bus.Options) (*QueueAdapter, error) {
	if err := validateTable(db, "population_queue"); err != nil {
		return nil, fmt.Errorf("schema validation failed - did you run migrations?: %w", err)
	}

	queries := []struct {
		name  string
		query string
	}{
		{"enqueueRequest", queryEnqueueRequest},
		{"deadLetterExhausted", queryDeadLetterExhausted},
		{"claimRequest", queryClaimRequest},
		{"ackRequest", queryAckRequest},
		{"listDeadLetters", queryListDeadLetters},
	}

	stmts := make([]*sql.Stmt, 0, len(queries))
	for _, q := range queries {
		stmt, err := db.Prepare(q.query)
		if err != nil {
			for _, prepared := range stmts {
				prepared.Close()
			}
			return nil, fmt.Errorf("failed to prepare %s statement: %w", q.name, err)
		}
		stmts = append(stmts, stmt)
	}

	opts = opts.Normalize()
	slog.Info("[Postgres] Queue adapter initialized",
		"visibility_timeout", opts.VisibilityTimeout,
		"max_deliveries", opts.MaxDeliveries())

	return &QueueAdapter{
		db:             db,
		opts:           opts,
		stmtEnqueue:    stmts[0],
		stmtDeadLetter: stmts[1],
		stmtClaim:      stmts[2],
		stmtAck:        stmts[3],
		stmtListDead:   stmts[4],
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
		newReceipt: uuid.NewString,
	}, nil
}

func (a *QueueAdapter) Enqueue(ctx context.Context, req v1.PopulationRequest) error {
	_, err := a.stmtEnqueue.ExecContext(ctx,
		req.RequestID,
		req.StartDate,
		req.EndDate,
		a.nowFn(),
	)
	if err != nil {
		return fmt.Errorf("population queue: enqueue %s: %w", req.RequestID, err)
	}
	return nil
}

// Receive first dead-letters every visible message whose delivery budget is
// spent, then claims the oldest remaining visible message.
func (a *QueueAdapter) Receive(ctx context.Context) (*bus.Delivery, error) {
	now := a.nowFn()
	maxDeliveries := a.opts.MaxDeliveries()

	if err := a.deadLetterExhausted(ctx, now, maxDeliveries); err != nil {
		return nil, err
	}

	receipt := a.newReceipt()
	var (
		d     bus.Delivery
		count int
	)
	err := a.stmtClaim.QueryRowContext(ctx,
		now,
		now.Add(a.opts.VisibilityTimeout),
		receipt,
		maxDeliveries,
	).Scan(
		&d.Request.RequestID,
		&d.Request.StartDate,
		&d.Request.EndDate,
		&count,
		&d.VisibleUntil,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bus.ErrNoMessage
	}
	if err != nil {
		return nil, fmt.Errorf("population queue: claim: %w", err)
	}

	d.Request.Attempt = count
	d.Receipt = receipt
	metrics.DeliveriesReceived.Inc()
	return &d, nil
}

func (a *QueueAdapter) deadLetterExhausted(ctx context.Context, now time.Time, maxDeliveries int) error {
	rows, err := a.stmtDeadLetter.QueryContext(ctx, now, maxDeliveries)
	if err != nil {
		return fmt.Errorf("population queue: dead-letter move: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			requestID  string
			deliveries int
		)
		if err := rows.Scan(&requestID, &deliveries); err != nil {
			return fmt.Errorf("population queue: scan dead letter: %w", err)
		}
		metrics.DeadLettered.WithLabelValues("postgres").Inc()
		slog.Warn("[Bus] Message dead-lettered",
			"request_id", requestID,
			"deliveries", deliveries,
			"error", catalog.ErrPoisonMessage)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("population queue: iterate dead letters: %w", err)
	}
	return nil
}

// Ack deletes the message if d still holds the current receipt.
func (a *QueueAdapter) Ack(ctx context.Context, d *bus.Delivery) error {
	result, err := a.stmtAck.ExecContext(ctx, d.Request.RequestID, d.Receipt)
	if err != nil {
		return fmt.Errorf("population queue: ack %s: %w", d.Request.RequestID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("population queue: check ack: %w", err)
	}
	if rowsAffected == 0 {
		return bus.ErrStaleReceipt
	}
	return nil
}

// DeadLetters lists dead-lettered requests, newest first.
func (a *QueueAdapter) DeadLetters(ctx context.Context, limit int) ([]bus.DeadLetter, error) {
	rows, err := a.stmtListDead.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("population queue: list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []bus.DeadLetter
	for rows.Next() {
		var dl bus.DeadLetter
		if err := rows.Scan(
			&dl.Request.RequestID,
			&dl.Request.StartDate,
			&dl.Request.EndDate,
			&dl.Deliveries,
			&dl.Reason,
			&dl.EnqueuedAt,
			&dl.DeadLetteredAt,
		); err != nil {
			return nil, fmt.Errorf("population queue: scan dead letter: %w", err)
		}
		dl.Request.Attempt = dl.Deliveries
		letters = append(letters, dl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("population queue: iterate dead letters: %w", err)
	}
	return letters, nil
}

// Close closes the prepared statements.
func (a *QueueAdapter) Close() error {
	var firstErr error
	for _, stmt := range []*sql.Stmt{a.stmtEnqueue, a.stmtDeadLetter, a.stmtClaim, a.stmtAck, a.stmtListDead} {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close queue statement: %w", err)
		}
	}
	return firstErr
}

var (
	_ bus.Queue            = (*QueueAdapter)(nil)
	_ bus.DeadLetterReader = (*QueueAdapter)(nil)
)

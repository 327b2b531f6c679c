package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/bus"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	"github.com/peanutgallery/catalog/internal/core/storage"
	"github.com/peanutgallery/catalog/internal/metrics"
)

const (
	DefaultMaxSpanDays     = 366
	DefaultPageSize        = 20
	DefaultMaxPageSize     = 100
	DefaultDeadLetterLimit = 50
	DefaultMaxBodyBytes    = 1 << 20
)

// ErrDeadLettersUnavailable is returned when the queue backend cannot list
// dead letters.
var ErrDeadLettersUnavailable = errors.New("dead-letter inspection not supported by the queue backend")

// Config bounds the requests the gateway accepts.
type Config struct {
	MaxSpanDays     int
	DefaultPageSize int
	MaxPageSize     int

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxSpanDays:     DefaultMaxSpanDays,
		DefaultPageSize: DefaultPageSize,
		MaxPageSize:     DefaultMaxPageSize,
		MaxBodyBytes:    DefaultMaxBodyBytes,
	}
}

// Service is the synchronous entry point for population and ranked reads.
// It keeps no state between calls.
type Service struct {
	publisher   bus.Publisher
	reader      storage.RankedReader
	deadLetters bus.DeadLetterReader
	cfg         Config
	newID       func() string
}

// NewService creates a gateway. deadLetters may be nil when the queue backend
// has no inspection support.
func NewService(publisher bus.Publisher, reader storage.RankedReader, deadLetters bus.DeadLetterReader, cfg Config) *Service {
	if publisher == nil {
		panic("gateway: publisher must not be nil")
	}
	if reader == nil {
		panic("gateway: reader must not be nil")
	}
	defaults := DefaultConfig()
	if cfg.MaxSpanDays <= 0 {
		cfg.MaxSpanDays = defaults.MaxSpanDays
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = defaults.MaxPageSize
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.DefaultPageSize <= 0 || cfg.DefaultPageSize > cfg.MaxPageSize {
		cfg.DefaultPageSize = min(defaults.DefaultPageSize, cfg.MaxPageSize)
	}

	return &Service{
		publisher:   publisher,
		reader:      reader,
		deadLetters: deadLetters,
		cfg:         cfg,
		newID:       func() string { return uuid.New().String() },
	}
}

// PopulateMovies publishes one population request per ISO week touched by
// [start, end]. A failed publish does not stop the remaining sub-ranges;
// the returned error is non-nil only for invalid input.
func (s *Service) PopulateMovies(ctx context.Context, start, end v1.Date) (*PopulateResult, error) {
	if start.IsZero() || end.IsZero() {
		return nil, catalog.Validationf("start_date and end_date are required")
	}
	if end.Before(start) {
		return nil, catalog.Validationf("end_date %s is before start_date %s", end, start)
	}
	if span := start.DaysUntil(end) + 1; span > s.cfg.MaxSpanDays {
		return nil, catalog.Validationf("range spans %d days, maximum is %d", span, s.cfg.MaxSpanDays)
	}

	ranges := catalog.SplitByWeek(start, end)
	result := &PopulateResult{InitiatedIDs: make([]string, 0, len(ranges))}
	for _, r := range ranges {
		req := v1.PopulationRequest{
			RequestID: s.newID(),
			StartDate: r.Start,
			EndDate:   r.End,
		}
		if err := s.publisher.Publish(ctx, req); err != nil {
			slog.Error("[Gateway] Failed to publish population request",
				"range", r.String(),
				"error", err)
			result.FailedRanges = append(result.FailedRanges, FailedRange{
				StartDate: r.Start,
				EndDate:   r.End,
				Error:     err.Error(),
			})
			continue
		}
		result.InitiatedIDs = append(result.InitiatedIDs, req.RequestID)
	}

	slog.Info("[Gateway] Population requested",
		"start_date", start.String(),
		"end_date", end.String(),
		"initiated", len(result.InitiatedIDs),
		"failed", len(result.FailedRanges))
	return result, nil
}

// QueryMovies returns one page of weekBucket ranked by dimension. pageSize 0
// selects the default page size.
func (s *Service) QueryMovies(ctx context.Context, weekBucket, dimension string, pageSize int, cursor string) (*QueryResult, error) {
	if _, err := catalog.ParseWeekBucket(weekBucket); err != nil {
		return nil, catalog.Validationf("%v", err)
	}
	dim, err := v1.ParseDimension(dimension)
	if err != nil {
		return nil, catalog.Validationf("%v", err)
	}
	if pageSize == 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if pageSize < 1 || pageSize > s.cfg.MaxPageSize {
		return nil, catalog.Validationf("page_size must be between 1 and %d", s.cfg.MaxPageSize)
	}
	afterKey, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	// One extra row tells whether a further page exists.
	movies, err := s.reader.QueryByIndex(ctx, weekBucket, dim, pageSize+1, afterKey)
	if err != nil {
		return nil, err
	}
	metrics.RankedQueries.WithLabelValues(string(dim)).Inc()

	result := &QueryResult{
		WeekBucket: weekBucket,
		Dimension:  string(dim),
		Movies:     movies,
	}
	if len(movies) > pageSize {
		result.Movies = movies[:pageSize]
		result.NextCursor = EncodeCursor(result.Movies[pageSize-1].SortKey(dim))
	}
	if result.Movies == nil {
		result.Movies = []*v1.Movie{}
	}
	return result, nil
}

// ListDeadLetters returns up to limit dead-lettered requests, newest first.
func (s *Service) ListDeadLetters(ctx context.Context, limit int) ([]bus.DeadLetter, error) {
	if s.deadLetters == nil {
		return nil, ErrDeadLettersUnavailable
	}
	if limit <= 0 {
		limit = min(DefaultDeadLetterLimit, s.cfg.MaxPageSize)
	}
	if limit > s.cfg.MaxPageSize {
		return nil, catalog.Validationf("limit must be between 1 and %d", s.cfg.MaxPageSize)
	}
	letters, err := s.deadLetters.DeadLetters(ctx, limit)
	if err != nil {
		return nil, err
	}
	if letters == nil {
		letters = []bus.DeadLetter{}
	}
	return letters, nil
}

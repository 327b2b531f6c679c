package storage

import (
	"context"
	"errors"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
)

// ErrNotFound is returned when a movie id is not in the catalog.
var ErrNotFound = errors.New("movie not found")

// MovieUpserter is the write capability on the catalog. It is the only
// capability the population worker receives.
type MovieUpserter interface {
	// UpsertMovie atomically writes the base record and both rank index keys
	// for movie.ID. Repeating the call with identical input is a no-op.
	// Failures wrap catalog.ErrPersistence.
	UpsertMovie(ctx context.Context, movie *v1.Movie) error
}

// RankedReader is the read capability on the catalog's rank indexes.
type RankedReader interface {
	// QueryByIndex returns up to limit movies of weekBucket in strictly
	// descending order of the dimension's sort key, starting strictly after
	// afterKey when it is non-empty. Index reads may briefly lag a completed
	// upsert.
	QueryByIndex(ctx context.Context, weekBucket string, dim v1.Dimension, limit int, afterKey string) ([]*v1.Movie, error)
}

// CatalogStore is the full catalog. It has no delete operation.
type CatalogStore interface {
	MovieUpserter
	RankedReader

	// GetMovie reads the base record. Returns ErrNotFound for unknown ids.
	GetMovie(ctx context.Context, id string) (*v1.Movie, error)
}

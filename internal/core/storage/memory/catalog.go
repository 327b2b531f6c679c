package memory

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	"github.com/peanutgallery/catalog/internal/core/storage"
)

// CatalogStore is an in-memory implementation of storage.CatalogStore.
// Useful for testing and single-process development.
type CatalogStore struct {
	mu       sync.RWMutex
	movies   map[string]*v1.Movie
	byBucket map[string]map[string]struct{}
	nowFn    func() time.Time
}

// NewCatalogStore creates an empty in-memory catalog.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		movies:   make(map[string]*v1.Movie),
		byBucket: make(map[string]map[string]struct{}),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *CatalogStore) UpsertMovie(ctx context.Context, movie *v1.Movie) error {
	if err := ctx.Err(); err != nil {
		return catalog.Persistence("upsert movie", err)
	}

	next := cloneMovie(movie)
	if err := catalog.Derive(next); err != nil {
		return catalog.Persistence("upsert movie", err)
	}
	if err := next.Validate(); err != nil {
		return catalog.Persistence("upsert movie", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.movies[next.ID]
	if exists && sameContent(prev, next) {
		return nil
	}
	next.UpdatedAt = s.nowFn()

	// Base record and both index entries change under one lock.
	if exists && prev.WeekBucket != next.WeekBucket {
		delete(s.byBucket[prev.WeekBucket], prev.ID)
	}
	if s.byBucket[next.WeekBucket] == nil {
		s.byBucket[next.WeekBucket] = make(map[string]struct{})
	}
	s.byBucket[next.WeekBucket][next.ID] = struct{}{}
	s.movies[next.ID] = next
	return nil
}

func (s *CatalogStore) QueryByIndex(ctx context.Context, weekBucket string, dim v1.Dimension, limit int, afterKey string) ([]*v1.Movie, error) {
	if err := ctx.Err(); err != nil {
		return nil, catalog.Persistence("query index", err)
	}
	if limit <= 0 {
		return []*v1.Movie{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]*v1.Movie, 0, len(s.byBucket[weekBucket]))
	for id := range s.byBucket[weekBucket] {
		m := s.movies[id]
		if afterKey != "" && m.SortKey(dim) >= afterKey {
			continue
		}
		candidates = append(candidates, m)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SortKey(dim) > candidates[j].SortKey(dim)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*v1.Movie, len(candidates))
	for i, m := range candidates {
		result[i] = cloneMovie(m)
	}
	return result, nil
}

func (s *CatalogStore) GetMovie(ctx context.Context, id string) (*v1.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.movies[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneMovie(m), nil
}

// Len returns the number of stored movies.
func (s *CatalogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.movies)
}

func cloneMovie(m *v1.Movie) *v1.Movie {
	c := *m
	if m.GenreIDs != nil {
		c.GenreIDs = append([]int(nil), m.GenreIDs...)
	}
	return &c
}

// sameContent compares everything except the store-maintained UpdatedAt.
func sameContent(a, b *v1.Movie) bool {
	x, y := *a, *b
	x.UpdatedAt, y.UpdatedAt = time.Time{}, time.Time{}
	if !x.Score.Equal(y.Score) || !x.Popularity.Equal(y.Popularity) {
		return false
	}
	x.Score, y.Score = decimal.Decimal{}, decimal.Decimal{}
	x.Popularity, y.Popularity = decimal.Decimal{}, decimal.Decimal{}
	return reflect.DeepEqual(x, y)
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	"github.com/peanutgallery/catalog/internal/core/storage"
)

func testMovie(id, score, popularity, release string) *v1.Movie {
	return &v1.Movie{
		ID:          id,
		Title:       "Movie " + id,
		Score:       decimal.RequireFromString(score),
		Popularity:  decimal.RequireFromString(popularity),
		ReleaseDate: v1.MustParseDate(release),
	}
}

func TestCatalogStore_UpsertIsIdempotent(t *testing.T) {
	store := NewCatalogStore()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.nowFn = func() time.Time { return first }

	ctx := context.Background()
	require.NoError(t, store.UpsertMovie(ctx, testMovie("42", "7.5", "120.3", "2024-01-03")))

	store.nowFn = func() time.Time { return first.Add(time.Hour) }
	require.NoError(t, store.UpsertMovie(ctx, testMovie("42", "7.5", "120.3", "2024-01-03")))

	got, err := store.GetMovie(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, first, got.UpdatedAt)
	require.Equal(t, "2024-W01", got.WeekBucket)
	require.Equal(t, 1, store.Len())

	page, err := store.QueryByIndex(ctx, "2024-W01", v1.DimensionScore, 10, "")
	require.NoError(t, err)
	require.Len(t, page, 1)
}

func TestCatalogStore_UpsertUpdatesChangedMetrics(t *testing.T) {
	store := NewCatalogStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertMovie(ctx, testMovie("1", "5.0", "10", "2024-01-03")))
	require.NoError(t, store.UpsertMovie(ctx, testMovie("2", "6.0", "20", "2024-01-03")))
	require.NoError(t, store.UpsertMovie(ctx, testMovie("1", "9.0", "30", "2024-01-03")))

	page, err := store.QueryByIndex(ctx, "2024-W01", v1.DimensionScore, 10, "")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, ids(page))
	require.Equal(t, catalog.MustEncodeSortKey(decimal.RequireFromString("9.0"), "1"), page[0].ScoreSortKey)
}

func TestCatalogStore_UpsertMovesBucketOnReleaseDateChange(t *testing.T) {
	store := NewCatalogStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertMovie(ctx, testMovie("1", "5.0", "10", "2024-01-03")))
	require.NoError(t, store.UpsertMovie(ctx, testMovie("1", "5.0", "10", "2024-01-10")))

	old, err := store.QueryByIndex(ctx, "2024-W01", v1.DimensionScore, 10, "")
	require.NoError(t, err)
	require.Empty(t, old)

	moved, err := store.QueryByIndex(ctx, "2024-W02", v1.DimensionScore, 10, "")
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, ids(moved))
}

func TestCatalogStore_QueryByIndexOrdering(t *testing.T) {
	store := NewCatalogStore()
	ctx := context.Background()

	for _, m := range []*v1.Movie{
		testMovie("b", "7.0", "50", "2024-01-02"),
		testMovie("a", "7.0", "10", "2024-01-04"),
		testMovie("c", "8.1", "5", "2024-01-06"),
		testMovie("d", "0", "99.5", "2024-01-07"),
		testMovie("x", "9.9", "999", "2024-01-08"),
	} {
		require.NoError(t, store.UpsertMovie(ctx, m))
	}

	byScore, err := store.QueryByIndex(ctx, "2024-W01", v1.DimensionScore, 10, "")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b", "d"}, ids(byScore))

	byPopularity, err := store.QueryByIndex(ctx, "2024-W01", v1.DimensionPopularity, 10, "")
	require.NoError(t, err)
	require.Equal(t, []string{"d", "b", "a", "c"}, ids(byPopularity))
}

func TestCatalogStore_QueryByIndexPagination(t *testing.T) {
	store := NewCatalogStore()
	ctx := context.Background()

	for i, score := range []string{"1", "2", "3", "4", "5"} {
		id := string(rune('a' + i))
		require.NoError(t, store.UpsertMovie(ctx, testMovie(id, score, "1", "2024-01-01")))
	}

	var seen []string
	after := ""
	for {
		page, err := store.QueryByIndex(ctx, "2024-W01", v1.DimensionScore, 2, after)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen = append(seen, ids(page)...)
		after = page[len(page)-1].ScoreSortKey
	}
	require.Equal(t, []string{"e", "d", "c", "b", "a"}, seen)
}

func TestCatalogStore_ReturnsCopies(t *testing.T) {
	store := NewCatalogStore()
	ctx := context.Background()

	m := testMovie("1", "5", "5", "2024-01-01")
	m.GenreIDs = []int{18}
	require.NoError(t, store.UpsertMovie(ctx, m))
	m.GenreIDs[0] = 99

	got, err := store.GetMovie(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, []int{18}, got.GenreIDs)

	got.Title = "mutated"
	again, err := store.GetMovie(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "Movie 1", again.Title)
}

func TestCatalogStore_Errors(t *testing.T) {
	store := NewCatalogStore()

	_, err := store.GetMovie(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = store.UpsertMovie(context.Background(), &v1.Movie{ID: "no-title", ReleaseDate: v1.MustParseDate("2024-01-01")})
	require.ErrorIs(t, err, catalog.ErrPersistence)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.UpsertMovie(ctx, testMovie("1", "5", "5", "2024-01-01"))
	require.ErrorIs(t, err, catalog.ErrPersistence)
}

func ids(movies []*v1.Movie) []string {
	out := make([]string, len(movies))
	for i, m := range movies {
		out[i] = m.ID
	}
	return out
}

func TestCatalogStore_RejectsUnrankablePopularity(t *testing.T) {
	store := NewCatalogStore()
	ctx := context.Background()

	err := store.UpsertMovie(ctx, testMovie("1", "7", "1e15", "2024-01-02"))
	require.ErrorIs(t, err, catalog.ErrPersistence)
	require.ErrorIs(t, err, catalog.ErrMetricRange)
	require.Equal(t, 0, store.Len())

	require.NoError(t, store.UpsertMovie(ctx, testMovie("2", "7", "9999999999.9999", "2024-01-02")))
	require.NoError(t, store.UpsertMovie(ctx, testMovie("3", "7", "1", "2024-01-02")))

	page, err := store.QueryByIndex(ctx, "2024-W01", v1.DimensionPopularity, 10, "")
	require.NoError(t, err)
	require.Equal(t, []string{"2", "3"}, ids(page))
}

package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/bus"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	"github.com/peanutgallery/catalog/internal/core/storage/memory"
	busmocks "github.com/peanutgallery/catalog/internal/mocks/bus"
	storagemocks "github.com/peanutgallery/catalog/internal/mocks/storage"
)

func newTestService(t *testing.T, publisher bus.Publisher, cfg Config) *Service {
	t.Helper()
	svc := NewService(publisher, storagemocks.NewRankedReader(t), nil, cfg)
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("req-%d", seq)
	}
	return svc
}

func capturePublishes(publisher *busmocks.Publisher, published *[]v1.PopulationRequest) {
	publisher.EXPECT().
		Publish(mock.Anything, mock.Anything).
		Run(func(_ context.Context, req v1.PopulationRequest) {
			*published = append(*published, req)
		}).
		Return(nil)
}

func TestService_PopulateMovies_OneRequestPerWeek(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		wantRanges []string
	}{
		{
			name:       "single day",
			start:      "2024-03-05",
			end:        "2024-03-05",
			wantRanges: []string{"2024-03-05..2024-03-05"},
		},
		{
			name:       "exactly one iso week",
			start:      "2024-01-01",
			end:        "2024-01-07",
			wantRanges: []string{"2024-01-01..2024-01-07"},
		},
		{
			name:  "mid-week start and end",
			start: "2024-01-03",
			end:   "2024-01-16",
			wantRanges: []string{
				"2024-01-03..2024-01-07",
				"2024-01-08..2024-01-14",
				"2024-01-15..2024-01-16",
			},
		},
		{
			name:  "across the year boundary",
			start: "2024-12-28",
			end:   "2025-01-02",
			wantRanges: []string{
				"2024-12-28..2024-12-29",
				"2024-12-30..2025-01-02",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			publisher := busmocks.NewPublisher(t)
			var published []v1.PopulationRequest
			capturePublishes(publisher, &published)
			svc := newTestService(t, publisher, DefaultConfig())

			result, err := svc.PopulateMovies(context.Background(), v1.MustParseDate(tc.start), v1.MustParseDate(tc.end))
			require.NoError(t, err)
			require.Empty(t, result.FailedRanges)
			require.Len(t, result.InitiatedIDs, len(tc.wantRanges))
			require.Len(t, published, len(tc.wantRanges))

			for i, req := range published {
				got := v1.DateRange{Start: req.StartDate, End: req.EndDate}.String()
				assert.Equal(t, tc.wantRanges[i], got)
				assert.Equal(t, result.InitiatedIDs[i], req.RequestID)
				assert.Zero(t, req.Attempt)
				assert.Equal(t, catalog.WeekBucket(req.StartDate), catalog.WeekBucket(req.EndDate))
			}
		})
	}
}

func TestService_PopulateMovies_ValidationPublishesNothing(t *testing.T) {
	tests := []struct {
		name       string
		start, end v1.Date
		wantErr    string
	}{
		{
			name:    "end before start",
			start:   v1.MustParseDate("2024-01-07"),
			end:     v1.MustParseDate("2024-01-01"),
			wantErr: "is before start_date",
		},
		{
			name:    "missing dates",
			wantErr: "required",
		},
		{
			name:    "span too wide",
			start:   v1.MustParseDate("2024-01-01"),
			end:     v1.MustParseDate("2024-01-31"),
			wantErr: "maximum is 14",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// No expectations: any Publish call fails the test.
			publisher := busmocks.NewPublisher(t)
			svc := newTestService(t, publisher, Config{MaxSpanDays: 14})

			result, err := svc.PopulateMovies(context.Background(), tc.start, tc.end)
			require.ErrorIs(t, err, catalog.ErrValidation)
			require.ErrorContains(t, err, tc.wantErr)
			require.Nil(t, result)
		})
	}
}

func TestService_PopulateMovies_PublishFailureDoesNotAbortOthers(t *testing.T) {
	publisher := busmocks.NewPublisher(t)
	failing := v1.MustParseDate("2024-01-08")
	publisher.EXPECT().
		Publish(mock.Anything, mock.MatchedBy(func(req v1.PopulationRequest) bool {
			return req.StartDate.Equal(failing.Time)
		})).
		Return(fmt.Errorf("queue unavailable")).
		Once()
	publisher.EXPECT().
		Publish(mock.Anything, mock.Anything).
		Return(nil).
		Twice()
	svc := newTestService(t, publisher, DefaultConfig())

	result, err := svc.PopulateMovies(context.Background(), v1.MustParseDate("2024-01-01"), v1.MustParseDate("2024-01-21"))
	require.NoError(t, err)
	require.Equal(t, []string{"req-1", "req-3"}, result.InitiatedIDs)
	require.Len(t, result.FailedRanges, 1)
	require.Equal(t, "2024-01-08", result.FailedRanges[0].StartDate.String())
	require.Equal(t, "2024-01-14", result.FailedRanges[0].EndDate.String())
	require.Contains(t, result.FailedRanges[0].Error, "queue unavailable")
}

func TestService_PopulateMovies_ThroughTopic(t *testing.T) {
	topic := bus.NewTopic(time.Second)
	queue := bus.NewMemoryQueue(bus.DefaultOptions())
	topic.Subscribe(queue)
	svc := NewService(topic, memory.NewCatalogStore(), queue, DefaultConfig())

	result, err := svc.PopulateMovies(context.Background(), v1.MustParseDate("2024-01-01"), v1.MustParseDate("2024-01-07"))
	require.NoError(t, err)
	require.Len(t, result.InitiatedIDs, 1)
	require.Equal(t, 1, queue.Len())

	d, err := queue.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, result.InitiatedIDs[0], d.Request.RequestID)
	require.Equal(t, "2024-W01", catalog.WeekBucket(d.Request.StartDate))
}

func TestService_QueryMovies_Validation(t *testing.T) {
	validCursor := EncodeCursor(catalog.MustEncodeSortKey(decimal.NewFromInt(7), "42"))

	tests := []struct {
		name       string
		weekBucket string
		dimension  string
		pageSize   int
		cursor     string
		wantErr    string
	}{
		{name: "malformed week bucket", weekBucket: "2024-01", dimension: "score", pageSize: 10, wantErr: "invalid week bucket"},
		{name: "week out of range", weekBucket: "2023-W53", dimension: "score", pageSize: 10, wantErr: "no such week"},
		{name: "unknown dimension", weekBucket: "2024-W01", dimension: "rating", pageSize: 10, wantErr: "unknown dimension"},
		{name: "negative page size", weekBucket: "2024-W01", dimension: "score", pageSize: -1, wantErr: "page_size"},
		{name: "page size over maximum", weekBucket: "2024-W01", dimension: "score", pageSize: 101, wantErr: "page_size"},
		{name: "cursor not base64", weekBucket: "2024-W01", dimension: "score", pageSize: 10, cursor: "%%%", wantErr: "invalid cursor"},
		{name: "cursor not a sort key", weekBucket: "2024-W01", dimension: "score", pageSize: 10, cursor: EncodeCursor("hello"), wantErr: "invalid cursor"},
		{name: "empty dimension", weekBucket: "2024-W01", dimension: "", pageSize: 10, cursor: validCursor, wantErr: "unknown dimension"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reader := storagemocks.NewRankedReader(t)
			svc := NewService(busmocks.NewPublisher(t), reader, nil, DefaultConfig())

			_, err := svc.QueryMovies(context.Background(), tc.weekBucket, tc.dimension, tc.pageSize, tc.cursor)
			require.ErrorIs(t, err, catalog.ErrValidation)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestService_QueryMovies_ReadsOneExtraRow(t *testing.T) {
	reader := storagemocks.NewRankedReader(t)
	svc := NewService(busmocks.NewPublisher(t), reader, nil, DefaultConfig())

	movies := []*v1.Movie{
		rankedMovie("1", "9", "1", "2024-01-02"),
		rankedMovie("2", "8", "1", "2024-01-02"),
		rankedMovie("3", "7", "1", "2024-01-02"),
	}
	reader.EXPECT().
		QueryByIndex(mock.Anything, "2024-W01", v1.DimensionScore, 3, "").
		Return(movies, nil).
		Once()

	result, err := svc.QueryMovies(context.Background(), "2024-W01", "score", 2, "")
	require.NoError(t, err)
	require.Len(t, result.Movies, 2)
	require.Equal(t, EncodeCursor(movies[1].ScoreSortKey), result.NextCursor)
}

func TestService_QueryMovies_DefaultPageSize(t *testing.T) {
	reader := storagemocks.NewRankedReader(t)
	svc := NewService(busmocks.NewPublisher(t), reader, nil, Config{DefaultPageSize: 5})

	reader.EXPECT().
		QueryByIndex(mock.Anything, "2024-W01", v1.DimensionPopularity, 6, "").
		Return(nil, nil).
		Once()

	result, err := svc.QueryMovies(context.Background(), "2024-W01", "popularity", 0, "")
	require.NoError(t, err)
	require.NotNil(t, result.Movies)
	require.Empty(t, result.Movies)
	require.Empty(t, result.NextCursor)
}

func TestService_QueryMovies_StoreErrorPassesThrough(t *testing.T) {
	reader := storagemocks.NewRankedReader(t)
	svc := NewService(busmocks.NewPublisher(t), reader, nil, DefaultConfig())

	reader.EXPECT().
		QueryByIndex(mock.Anything, "2024-W01", v1.DimensionScore, 11, "").
		Return(nil, catalog.Persistence("query movies", fmt.Errorf("connection reset"))).
		Once()

	_, err := svc.QueryMovies(context.Background(), "2024-W01", "score", 10, "")
	require.ErrorIs(t, err, catalog.ErrPersistence)
	require.NotErrorIs(t, err, catalog.ErrValidation)
}

func TestService_QueryMovies_PaginationIsComplete(t *testing.T) {
	store := memory.NewCatalogStore()
	ctx := context.Background()

	// Ties on score exercise the id tie-break across page boundaries.
	scores := map[string]string{
		"a": "7.5", "b": "7.5", "c": "9.1", "d": "6", "e": "7.5",
		"f": "8", "g": "6", "h": "0", "i": "-1",
	}
	for id, score := range scores {
		require.NoError(t, store.UpsertMovie(ctx, rankedMovie(id, score, "10", "2024-01-03")))
	}
	// Another week must never leak into the pages.
	require.NoError(t, store.UpsertMovie(ctx, rankedMovie("z", "10", "10", "2024-01-10")))

	svc := NewService(busmocks.NewPublisher(t), store, nil, DefaultConfig())

	for _, pageSize := range []int{1, 2, 3, 4, 9, 10} {
		t.Run(fmt.Sprintf("page size %d", pageSize), func(t *testing.T) {
			var got []string
			cursor := ""
			pages := 0
			for {
				result, err := svc.QueryMovies(ctx, "2024-W01", "score", pageSize, cursor)
				require.NoError(t, err)
				require.LessOrEqual(t, len(result.Movies), pageSize)
				for _, m := range result.Movies {
					got = append(got, m.ID)
				}
				pages++
				require.LessOrEqual(t, pages, len(scores), "pagination does not terminate")
				if result.NextCursor == "" {
					break
				}
				cursor = result.NextCursor
			}

			require.Equal(t, []string{"c", "f", "a", "b", "e", "d", "g", "h", "i"}, got)
			require.Equal(t, (len(scores)+pageSize-1)/pageSize, pages)
		})
	}
}

func TestService_ListDeadLetters(t *testing.T) {
	t.Run("unsupported backend", func(t *testing.T) {
		svc := NewService(busmocks.NewPublisher(t), storagemocks.NewRankedReader(t), nil, DefaultConfig())
		_, err := svc.ListDeadLetters(context.Background(), 10)
		require.ErrorIs(t, err, ErrDeadLettersUnavailable)
	})

	t.Run("lists memory queue dead letters", func(t *testing.T) {
		queue := deadLetteredQueue(t, "req-poison")
		svc := NewService(busmocks.NewPublisher(t), storagemocks.NewRankedReader(t), queue, DefaultConfig())

		letters, err := svc.ListDeadLetters(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, letters, 1)
		require.Equal(t, "req-poison", letters[0].Request.RequestID)
		require.Equal(t, 1, letters[0].Deliveries)
	})

	t.Run("limit over maximum", func(t *testing.T) {
		queue := bus.NewMemoryQueue(bus.DefaultOptions())
		svc := NewService(busmocks.NewPublisher(t), storagemocks.NewRankedReader(t), queue, DefaultConfig())
		_, err := svc.ListDeadLetters(context.Background(), 1000)
		require.ErrorIs(t, err, catalog.ErrValidation)
	})
}

func TestNewService_PanicsOnNilDependencies(t *testing.T) {
	require.Panics(t, func() { NewService(nil, storagemocks.NewRankedReader(t), nil, DefaultConfig()) })
	require.Panics(t, func() { NewService(busmocks.NewPublisher(t), nil, nil, DefaultConfig()) })
}

func rankedMovie(id, score, popularity, release string) *v1.Movie {
	m := &v1.Movie{
		ID:          id,
		Title:       "Movie " + id,
		Score:       decimal.RequireFromString(score),
		Popularity:  decimal.RequireFromString(popularity),
		ReleaseDate: v1.MustParseDate(release),
	}
	if err := catalog.Derive(m); err != nil {
		panic(err)
	}
	return m
}

// deadLetteredQueue returns a memory queue holding one dead-lettered request.
func deadLetteredQueue(t *testing.T, requestID string) *bus.MemoryQueue {
	t.Helper()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	queue := bus.NewMemoryQueue(bus.Options{VisibilityTimeout: time.Minute, MaxRedeliveries: 0})
	queue.SetClock(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, v1.PopulationRequest{
		RequestID: requestID,
		StartDate: v1.MustParseDate("2024-01-01"),
		EndDate:   v1.MustParseDate("2024-01-07"),
	}))
	_, err := queue.Receive(ctx)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = queue.Receive(ctx)
	require.ErrorIs(t, err, bus.ErrNoMessage)
	return queue
}

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/bus"
	"github.com/peanutgallery/catalog/internal/gateway"
)

func TestPipeline_PopulateThenQueryRankedWeek(t *testing.T) {
	h := startHarness(t, bus.DefaultOptions())
	defer h.close(t)

	h.tmdb.set(http.StatusOK,
		movieJSON(101, "6.5", "300.1", "2024-01-01"),
		movieJSON(102, "8.2", "12", "2024-01-04"),
		movieJSON(103, "7.9", "88.8", "2024-01-07"),
		`{"id":104,"vote_average":9}`,
	)

	status, body := postJSON(t, h.client, h.baseURL+"/v1/movies/populate",
		map[string]string{"start_date": "2024-01-01", "end_date": "2024-01-07"})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var initiated gateway.PopulateResult
	require.NoError(t, json.Unmarshal(body, &initiated))
	require.Len(t, initiated.InitiatedIDs, 1)
	require.Empty(t, initiated.FailedRanges)

	var byScore gateway.QueryResult
	require.Eventually(t, func() bool {
		var page gateway.QueryResult
		status, err := tryGetJSON(h.client, h.baseURL+"/v1/movies/weeks/2024-W01?dimension=score", &page)
		if err != nil || status != http.StatusOK {
			return false
		}
		byScore = page
		return len(page.Movies) == 3
	}, 10*time.Second, 100*time.Millisecond)

	t.Run("score ranking", func(t *testing.T) {
		require.Equal(t, []string{"102", "103", "101"}, movieIDs(byScore.Movies))
		require.Empty(t, byScore.NextCursor)
	})

	t.Run("popularity ranking", func(t *testing.T) {
		var page gateway.QueryResult
		require.Equal(t, http.StatusOK, getJSON(t, h.client, h.baseURL+"/v1/movies/weeks/2024-W01?dimension=popularity", &page))
		require.Equal(t, []string{"101", "103", "102"}, movieIDs(page.Movies))
	})

	t.Run("pagination walks every entry once", func(t *testing.T) {
		var ids []string
		cursor := ""
		for i := 0; i < 5; i++ {
			var page gateway.QueryResult
			url := h.baseURL + "/v1/movies/weeks/2024-W01?dimension=score&page_size=1"
			if cursor != "" {
				url += "&cursor=" + cursor
			}
			require.Equal(t, http.StatusOK, getJSON(t, h.client, url, &page))
			ids = append(ids, movieIDs(page.Movies)...)
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		require.Equal(t, []string{"102", "103", "101"}, ids)
	})

	t.Run("queue drained", func(t *testing.T) {
		require.Eventually(t, func() bool {
			n, err := rowCount(h, "population_queue")
			return err == nil && n == 0
		}, 5*time.Second, 100*time.Millisecond)
		require.Equal(t, 0, countRows(t, h, "population_dead_letters"))
	})
}

func TestPipeline_RepopulateIsIdempotent(t *testing.T) {
	h := startHarness(t, bus.DefaultOptions())
	defer h.close(t)

	h.tmdb.set(http.StatusOK, movieJSON(201, "7", "50", "2024-03-05"))

	populate := func() {
		status, body := postJSON(t, h.client, h.baseURL+"/v1/movies/populate",
			map[string]string{"start_date": "2024-03-05", "end_date": "2024-03-05"})
		require.Equal(t, http.StatusAccepted, status, string(body))
		require.Eventually(t, func() bool {
			n, err := rowCount(h, "population_queue")
			return err == nil && n == 0
		}, 10*time.Second, 100*time.Millisecond)
	}

	populate()
	first, err := h.catalog.GetMovie(context.Background(), "201")
	require.NoError(t, err)

	populate()
	second, err := h.catalog.GetMovie(context.Background(), "201")
	require.NoError(t, err)

	require.True(t, first.UpdatedAt.Equal(second.UpdatedAt), "identical upsert must not touch the row")
	require.Equal(t, first.ScoreSortKey, second.ScoreSortKey)
	require.Equal(t, 1, countRows(t, h, "movies"))
}

func TestPipeline_ValidationErrorsAreSynchronous(t *testing.T) {
	h := startHarness(t, bus.DefaultOptions())
	defer h.close(t)

	status, body := postJSON(t, h.client, h.baseURL+"/v1/movies/populate",
		map[string]string{"start_date": "2024-01-07", "end_date": "2024-01-01"})
	require.Equal(t, http.StatusBadRequest, status, string(body))
	require.Equal(t, 0, countRows(t, h, "population_queue"))
	require.Equal(t, 0, h.tmdb.Calls())
}

func movieIDs(movies []*v1.Movie) []string {
	ids := make([]string, 0, len(movies))
	for _, m := range movies {
		ids = append(ids, m.ID)
	}
	return ids
}

func countRows(t *testing.T, h *integrationHarness, table string) int {
	t.Helper()
	count, err := rowCount(h, table)
	require.NoError(t, err)
	return count
}

func rowCount(h *integrationHarness, table string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var count int
	err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	return count, err
}

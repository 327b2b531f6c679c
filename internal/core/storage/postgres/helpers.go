package postgres

import (
	"encoding/json"
	"fmt"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
)

// marshalGenreIDs encodes genre ids for the JSONB column. Nil encodes as an
// empty array so the column stays NOT NULL and comparable.
func marshalGenreIDs(ids []int) ([]byte, error) {
	if ids == nil {
		ids = []int{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal genre_ids: %w", err)
	}
	return data, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanMovieRow scans one row selected with movieColumns.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanMovieRow(row scanner) (*v1.Movie, error) {
	var m v1.Movie
	var genreJSON []byte

	err := row.Scan(
		&m.ID,
		&m.WeekBucket,
		&m.Score,
		&m.Popularity,
		&m.ScoreSortKey,
		&m.PopularitySortKey,
		&m.Title,
		&m.OriginalTitle,
		&m.Overview,
		&m.OriginalLanguage,
		&m.ReleaseDate,
		&m.VoteCount,
		&m.PosterPath,
		&genreJSON,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(genreJSON) > 0 {
		if err := json.Unmarshal(genreJSON, &m.GenreIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal genre_ids: %w", err)
		}
		if len(m.GenreIDs) == 0 {
			m.GenreIDs = nil
		}
	}

	return &m, nil
}

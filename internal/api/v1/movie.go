package v1

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Dimension selects one of the two rank indexes of the catalog.
type Dimension string

const (
	DimensionScore      Dimension = "score"
	DimensionPopularity Dimension = "popularity"
)

// ParseDimension accepts "score" or "popularity".
func ParseDimension(s string) (Dimension, error) {
	switch Dimension(s) {
	case DimensionScore, DimensionPopularity:
		return Dimension(s), nil
	default:
		return "", fmt.Errorf("unknown dimension %q (must be score or popularity)", s)
	}
}

// Movie is one catalog record.
//
// WeekBucket, ScoreSortKey and PopularitySortKey are derived from ReleaseDate,
// Score, Popularity and ID. They are recomputed on every upsert and never set
// by callers directly.
type Movie struct {
	ID         string          `json:"id"`
	WeekBucket string          `json:"week_bucket"`
	Score      decimal.Decimal `json:"score"`
	Popularity decimal.Decimal `json:"popularity"`

	ScoreSortKey      string `json:"score_sort_key"`
	PopularitySortKey string `json:"popularity_sort_key"`

	Title            string `json:"title"`
	OriginalTitle    string `json:"original_title,omitempty"`
	Overview         string `json:"overview,omitempty"`
	OriginalLanguage string `json:"original_language,omitempty"`
	ReleaseDate      Date   `json:"release_date"`
	VoteCount        int64  `json:"vote_count"`
	PosterPath       string `json:"poster_path,omitempty"`
	GenreIDs         []int  `json:"genre_ids,omitempty"`

	// UpdatedAt is maintained by the store.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// SortKey returns the composite key of the given rank index.
func (m *Movie) SortKey(dim Dimension) string {
	if dim == DimensionPopularity {
		return m.PopularitySortKey
	}
	return m.ScoreSortKey
}

// Validate checks the fields every stored movie must carry.
func (m *Movie) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.Title == "" {
		return fmt.Errorf("title is required")
	}
	if m.ReleaseDate.IsZero() {
		return fmt.Errorf("release_date is required")
	}
	if m.WeekBucket == "" {
		return fmt.Errorf("week_bucket is required")
	}
	if m.ScoreSortKey == "" || m.PopularitySortKey == "" {
		return fmt.Errorf("sort keys are required")
	}
	return nil
}

package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/shopspring/decimal"
)

// ErrMalformedRecord marks a provider record that cannot become a Movie.
// The worker skips such records; they are never retried on their own.
var ErrMalformedRecord = errors.New("malformed provider record")

// providerRecord is the TMDB discover result shape. Pointers distinguish
// "absent" from zero values for the required fields.
type providerRecord struct {
	ID               json.RawMessage `json:"id"`
	Title            *string         `json:"title"`
	OriginalTitle    string          `json:"original_title"`
	Overview         string          `json:"overview"`
	OriginalLanguage string          `json:"original_language"`
	ReleaseDate      *string         `json:"release_date"`
	VoteAverage      *json.Number    `json:"vote_average"`
	Popularity       *json.Number    `json:"popularity"`
	VoteCount        int64           `json:"vote_count"`
	PosterPath       *string         `json:"poster_path"`
	GenreIDs         []int           `json:"genre_ids"`
}

// MovieFromRecord maps one raw provider record to a Movie with its week
// bucket and sort keys already derived.
func MovieFromRecord(raw json.RawMessage) (*v1.Movie, error) {
	var rec providerRecord
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	id, err := recordID(rec.ID)
	if err != nil {
		return nil, err
	}
	if rec.Title == nil || strings.TrimSpace(*rec.Title) == "" {
		return nil, fmt.Errorf("%w: movie %s: title is required", ErrMalformedRecord, id)
	}
	if rec.ReleaseDate == nil || *rec.ReleaseDate == "" {
		return nil, fmt.Errorf("%w: movie %s: release_date is required", ErrMalformedRecord, id)
	}
	releaseDate, err := v1.ParseDate(*rec.ReleaseDate)
	if err != nil {
		return nil, fmt.Errorf("%w: movie %s: %v", ErrMalformedRecord, id, err)
	}
	score, err := requiredDecimal(rec.VoteAverage, "vote_average", id, MaxScoreDigits)
	if err != nil {
		return nil, err
	}
	popularity, err := requiredDecimal(rec.Popularity, "popularity", id, MaxPopularityDigits)
	if err != nil {
		return nil, err
	}

	m := &v1.Movie{
		ID:               id,
		Score:            score,
		Popularity:       popularity,
		Title:            strings.TrimSpace(*rec.Title),
		OriginalTitle:    rec.OriginalTitle,
		Overview:         rec.Overview,
		OriginalLanguage: rec.OriginalLanguage,
		ReleaseDate:      releaseDate,
		VoteCount:        rec.VoteCount,
		GenreIDs:         rec.GenreIDs,
	}
	if rec.PosterPath != nil {
		m.PosterPath = *rec.PosterPath
	}
	if err := Derive(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return m, nil
}

// Derive (re)computes the week bucket and both sort keys from the movie's
// release date, metrics and id. Score and popularity are rounded to
// MetricScale places so stored values order exactly like their keys. The
// movie is left untouched on error.
func Derive(m *v1.Movie) error {
	score, err := NormalizeMetric(m.Score, MaxScoreDigits)
	if err != nil {
		return fmt.Errorf("movie %s: score: %w", m.ID, err)
	}
	popularity, err := NormalizeMetric(m.Popularity, MaxPopularityDigits)
	if err != nil {
		return fmt.Errorf("movie %s: popularity: %w", m.ID, err)
	}
	scoreKey, err := EncodeSortKey(score, m.ID)
	if err != nil {
		return fmt.Errorf("movie %s: %w", m.ID, err)
	}
	popularityKey, err := EncodeSortKey(popularity, m.ID)
	if err != nil {
		return fmt.Errorf("movie %s: %w", m.ID, err)
	}

	m.Score = score
	m.Popularity = popularity
	m.WeekBucket = WeekBucket(m.ReleaseDate)
	m.ScoreSortKey = scoreKey
	m.PopularitySortKey = popularityKey
	return nil
}

func recordID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: id is required", ErrMalformedRecord)
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil && num != "" {
		if _, err := num.Int64(); err != nil {
			return "", fmt.Errorf("%w: id %s is not an integer", ErrMalformedRecord, num)
		}
		return num.String(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: id must be a number or non-empty string", ErrMalformedRecord)
	}
	return strings.TrimSpace(s), nil
}

func requiredDecimal(n *json.Number, field, id string, maxIntegerDigits int) (decimal.Decimal, error) {
	if n == nil || *n == "" {
		return decimal.Zero, fmt.Errorf("%w: movie %s: %s is required", ErrMalformedRecord, id, field)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: movie %s: %s: %v", ErrMalformedRecord, id, field, err)
	}
	d, err = NormalizeMetric(d, maxIntegerDigits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: movie %s: %s: %w", ErrMalformedRecord, id, field, err)
	}
	return d, nil
}

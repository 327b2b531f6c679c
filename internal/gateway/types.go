package gateway

import (
	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/bus"
)

// PopulateRequest is the body of POST /v1/movies/populate.
type PopulateRequest struct {
	StartDate v1.Date `json:"start_date"`
	EndDate   v1.Date `json:"end_date"`
}

// FailedRange is a sub-range whose request could not be published.
type FailedRange struct {
	StartDate v1.Date `json:"start_date"`
	EndDate   v1.Date `json:"end_date"`
	Error     string  `json:"error"`
}

// PopulateResult reports the requests a populate call put on the bus.
type PopulateResult struct {
	InitiatedIDs []string      `json:"initiated_ids"`
	FailedRanges []FailedRange `json:"failed_ranges,omitempty"`
}

// QueryResult is one page of a ranked read.
type QueryResult struct {
	WeekBucket string      `json:"week_bucket"`
	Dimension  string      `json:"dimension"`
	Movies     []*v1.Movie `json:"movies"`
	NextCursor string      `json:"next_cursor"`
}

// DeadLettersResponse is the body of GET /v1/admin/dead-letters.
type DeadLettersResponse struct {
	DeadLetters []bus.DeadLetter `json:"dead_letters"`
}

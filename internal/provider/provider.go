// Package provider fetches raw movie records from the external catalog
// provider.
package provider

import (
	"context"
	"encoding/json"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
)

// RawRecord is one provider record, undecoded. Mapping to v1.Movie happens
// in the population worker so a malformed record only skips itself.
type RawRecord = json.RawMessage

// Fetcher returns every record released in [start, end]. Failures wrap
// catalog.ErrProvider.
type Fetcher interface {
	Fetch(ctx context.Context, start, end v1.Date) ([]RawRecord, error)
}

package gateway

import (
	"encoding/base64"

	"github.com/peanutgallery/catalog/internal/core/catalog"
)

// EncodeCursor wraps a composite sort key into an opaque page token.
func EncodeCursor(sortKey string) string {
	if sortKey == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(sortKey))
}

// DecodeCursor returns the sort key a page token resumes after.
// The empty token starts at the first page.
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", catalog.Validationf("invalid cursor: %v", err)
	}
	key := string(raw)
	if !catalog.ValidSortKey(key) {
		return "", catalog.Validationf("invalid cursor")
	}
	return key, nil
}

package catalog

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	sortKeyScale = MetricScale

	// maxSortKeyDigits keeps the scaled value inside int64.
	maxSortKeyDigits = 14

	sortKeySeparator  = '#'
	sortKeyTerminator = '~'
	valueHexWidth     = 16
)

// EncodeSortKey builds the composite rank key of a metric value and a movie id.
//
// Layout: 16 hex digits of the value (rounded to MetricScale places, stored as
// offset-binary so negative values sort below positive ones), '#', the id with
// every byte inverted and hex encoded, then '~'. Reading keys in descending
// byte order yields value descending, then id ascending: inverting the id
// flips its order, and the terminator sorts above every hex digit so a shorter
// id that is a prefix of a longer one still comes first.
//
// Values with more than 14 integer digits cannot be encoded and return an
// ErrMetricRange error.
func EncodeSortKey(value decimal.Decimal, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("sort key: id is required")
	}
	if err := checkMagnitude(value, maxSortKeyDigits); err != nil {
		return "", fmt.Errorf("sort key: %w", err)
	}

	scaled := value.Shift(sortKeyScale).Round(0).IntPart()
	offset := uint64(scaled) ^ (1 << 63)

	var b strings.Builder
	b.Grow(valueHexWidth + 2 + 2*len(id))
	fmt.Fprintf(&b, "%016x", offset)
	b.WriteByte(sortKeySeparator)

	inverted := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		inverted[i] = 0xFF - id[i]
	}
	b.WriteString(hex.EncodeToString(inverted))
	b.WriteByte(sortKeyTerminator)
	return b.String(), nil
}

// MustEncodeSortKey is EncodeSortKey for constants and tests.
func MustEncodeSortKey(value decimal.Decimal, id string) string {
	key, err := EncodeSortKey(value, id)
	if err != nil {
		panic(err)
	}
	return key
}

// DecodeSortKey splits a composite key back into its value and id.
func DecodeSortKey(key string) (decimal.Decimal, string, error) {
	if len(key) < valueHexWidth+2 || key[valueHexWidth] != sortKeySeparator || key[len(key)-1] != sortKeyTerminator {
		return decimal.Zero, "", fmt.Errorf("malformed sort key %q", key)
	}

	raw, err := hex.DecodeString(key[:valueHexWidth])
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("malformed sort key value: %w", err)
	}
	var offset uint64
	for _, c := range raw {
		offset = offset<<8 | uint64(c)
	}
	scaled := int64(offset ^ (1 << 63))

	idHex := key[valueHexWidth+1 : len(key)-1]
	inverted, err := hex.DecodeString(idHex)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("malformed sort key id: %w", err)
	}
	if len(inverted) == 0 {
		return decimal.Zero, "", fmt.Errorf("malformed sort key %q: empty id", key)
	}
	id := make([]byte, len(inverted))
	for i, c := range inverted {
		id[i] = 0xFF - c
	}

	return decimal.New(scaled, -sortKeyScale), string(id), nil
}

// ValidSortKey reports whether key was produced by EncodeSortKey.
func ValidSortKey(key string) bool {
	_, _, err := DecodeSortKey(key)
	return err == nil
}

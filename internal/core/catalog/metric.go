package catalog

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// MetricScale is the number of decimal places kept for score and
	// popularity, in stored values and in sort keys alike.
	MetricScale = 4

	// Integer digits allowed by the NUMERIC(10,4) score and NUMERIC(14,4)
	// popularity columns.
	MaxScoreDigits      = 6
	MaxPopularityDigits = 10

	// minMetricExponent bounds the fractional digits accepted on input.
	minMetricExponent = -40
)

// ErrMetricRange marks a score or popularity that cannot be stored or ranked.
var ErrMetricRange = errors.New("metric out of range")

// NormalizeMetric rounds v to MetricScale places and checks that it is
// non-negative and has at most maxIntegerDigits integer digits. The
// exponent is checked before any arithmetic, so literals such as 1e100000000
// are rejected without being expanded.
func NormalizeMetric(v decimal.Decimal, maxIntegerDigits int) (decimal.Decimal, error) {
	if v.IsZero() {
		return decimal.Zero, nil
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: must not be negative", ErrMetricRange)
	}
	if err := checkMagnitude(v, maxIntegerDigits); err != nil {
		return decimal.Zero, err
	}

	rounded := v.Round(MetricScale)
	if rounded.GreaterThanOrEqual(decimal.New(1, int32(maxIntegerDigits))) {
		return decimal.Zero, fmt.Errorf("%w: %s exceeds %d integer digits", ErrMetricRange, rounded.String(), maxIntegerDigits)
	}
	return rounded, nil
}

// checkMagnitude rejects v when its exponent is outside the accepted window
// or its integer part is longer than maxIntegerDigits. It only reads the
// mantissa length, never rescales.
func checkMagnitude(v decimal.Decimal, maxIntegerDigits int) error {
	if v.IsZero() {
		return nil
	}
	exp := int(v.Exponent())
	if exp < minMetricExponent {
		return fmt.Errorf("%w: more than %d decimal places", ErrMetricRange, -minMetricExponent)
	}
	if v.NumDigits()+exp > maxIntegerDigits {
		return fmt.Errorf("%w: exceeds %d integer digits", ErrMetricRange, maxIntegerDigits)
	}
	return nil
}

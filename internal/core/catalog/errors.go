package catalog

import (
	"errors"
	"fmt"
)

// Error taxonomy of the population pipeline. Wrap with fmt.Errorf("%w: ...")
// and inspect with errors.Is.
var (
	// ErrValidation marks bad caller input. Surfaced synchronously, never retried.
	ErrValidation = errors.New("validation error")

	// ErrProvider marks a failure of the external metadata provider.
	// Retried by message redelivery.
	ErrProvider = errors.New("provider error")

	// ErrPersistence marks a catalog store failure. Retried by message redelivery.
	ErrPersistence = errors.New("persistence error")

	// ErrPoisonMessage marks a request that exhausted its delivery budget and
	// was moved to the dead-letter queue.
	ErrPoisonMessage = errors.New("poison message")
)

// Validationf builds an ErrValidation with a formatted detail.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence wraps a store error as ErrPersistence, keeping the cause inspectable.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Provider wraps a provider failure as ErrProvider.
func Provider(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}

// IsRetryable reports whether a worker failure should be left for redelivery.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProvider) || errors.Is(err, ErrPersistence)
}

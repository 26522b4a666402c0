package tier

import (
	"errors"
	"fmt"

	"github.com/lazypower/foresight/internal/models"
)

var (
	// ErrNotFound means no tier holds the item.
	ErrNotFound = errors.New("content not found")

	// ErrTierUnavailable matches every UnavailableError.
	ErrTierUnavailable = errors.New("tier unavailable")
)

// UnavailableError records which tier failed and during which operation.
type UnavailableError struct {
	Tier models.Tier
	Op   string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s tier unavailable (%s): %v", e.Tier, e.Op, e.Err)
}

// Unwrap exposes both ErrTierUnavailable and the underlying cause.
func (e *UnavailableError) Unwrap() []error {
	return []error{ErrTierUnavailable, e.Err}
}

func unavailable(t models.Tier, op string, err error) error {
	return &UnavailableError{Tier: t, Op: op, Err: err}
}

package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bizcore/backend/internal/store"
)

var (
	ErrForbidden             = errors.New("forbidden")
	ErrNotCommissionEligible = errors.New("user is not commission eligible")
	ErrNoApplicableRate      = errors.New("no applicable commission rate")
	ErrNoEligibleInvestors   = errors.New("no eligible investors for period")
	ErrAmountMismatch        = errors.New("payment amount does not match distribution")
	ErrInsufficientCapital   = errors.New("insufficient capital")
	ErrInvalidTransition     = errors.New("invalid status transition")
)

// ValidationError reports a rejected input field. It matches
// store.ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalidInput
}

func invalid(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// OwnershipError is returned when an investor change would push the active
// ownership total above 100%.
type OwnershipError struct {
	Allocated decimal.Decimal
	Requested decimal.Decimal
}

func (e *OwnershipError) Error() string {
	available := decimal.NewFromInt(100).Sub(e.Allocated)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return fmt.Sprintf("total ownership would be %s%%; %s%% already allocated, %s%% available",
		e.Allocated.Add(e.Requested).StringFixed(2), e.Allocated.StringFixed(2), available.StringFixed(2))
}

func (e *OwnershipError) Unwrap() error {
	return store.ErrInvalidInput
}

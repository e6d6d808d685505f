package domain

import "errors"

var (
	ErrInvalidRateScope = errors.New("invalid commission rate scope")
	ErrInvalidRate      = errors.New("commission rate must be between 0 and 100 with a non-negative minimum")
	ErrInvalidStatus    = errors.New("invalid status")
)

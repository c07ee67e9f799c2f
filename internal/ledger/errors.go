package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOrder rejects non-positive or non-finite share counts and prices
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInsufficientShares matches every *InsufficientSharesError
	ErrInsufficientShares = errors.New("insufficient shares")
)

// InvalidOrderError carries the rejected field
type InvalidOrderError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order: %s %v %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidOrderError) Is(target error) bool { return target == ErrInvalidOrder }

// DomainError marks the error as a validation failure rather than storage
func (e *InvalidOrderError) DomainError() {}

// InsufficientSharesError is returned when a sell exceeds the position
type InsufficientSharesError struct {
	Ticker    string
	Requested float64
	Held      float64
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares: cannot sell %g %s, only %g held", e.Requested, e.Ticker, e.Held)
}

func (e *InsufficientSharesError) Is(target error) bool { return target == ErrInsufficientShares }

// DomainError marks the error as a validation failure rather than storage
func (e *InsufficientSharesError) DomainError() {}

package contracts

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is
var (
	ErrInsufficientData  = errors.New("insufficient data")
	ErrLookupUnavailable = errors.New("lookup unavailable")
	ErrInvalidInput      = errors.New("invalid input")
)

// InsufficientDataError means too little history to fit a model or fill a backtest window.
// Fatal to the call; results are never padded.
type InsufficientDataError struct {
	Area string
	What string // "forecast history" or "backtest history"
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient %s for area %q: have %d days, need %d", e.What, e.Area, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// LookupUnavailableError means one external lookup failed. Recovered by dropping the sample.
type LookupUnavailableError struct {
	Area   string
	Date   Date
	Reason string
	Err    error
}

func (e *LookupUnavailableError) Error() string {
	msg := fmt.Sprintf("lookup unavailable for %s on %s: %s", e.Area, e.Date, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LookupUnavailableError) Is(target error) bool {
	return target == ErrLookupUnavailable
}

func (e *LookupUnavailableError) Unwrap() error {
	return e.Err
}

// InvalidInputError rejects a malformed request before any computation
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Invalid is a shorthand constructor for InvalidInputError
func Invalid(field, format string, args ...interface{}) error {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

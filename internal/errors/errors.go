// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionExpired   = errors.New("session expired")
	ErrMissingReference = errors.New("no bars in reference window")
	ErrNoContract       = errors.New("no contract for strike")
	ErrNoData           = errors.New("data not found")
	ErrOrderRejected    = errors.New("order rejected")
	ErrOrderUnknown     = errors.New("order outcome unknown")
	ErrMarketClosed     = errors.New("market is closed")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrDatabaseError    = errors.New("database error")
)

// BrokerError represents an error from the broker API. Unknown reports
// whether the request may have reached the broker: callers must not treat
// an unknown outcome as a rejection.
type BrokerError struct {
	Op      string
	Message string
	Unknown bool
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("broker %s: %s", e.Op, e.Message)
}

func (e *BrokerError) Unwrap() error {
	if e.Unknown {
		return ErrOrderUnknown
	}
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(op, message string, unknown bool, err error) *BrokerError {
	return &BrokerError{Op: op, Message: message, Unknown: unknown, Err: err}
}

// DataError represents a failure to load or parse market data. Backtests
// catch these at the day boundary and continue with the next day.
type DataError struct {
	Source string
	Date   string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error [%s %s]: %v", e.Source, e.Date, e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(source, date string, err error) *DataError {
	return &DataError{Source: source, Date: date, Err: err}
}

package payout

import (
	"context"
	"errors"
	"net"
)

type ErrorCategory string

const (
	CategoryNotCapable     ErrorCategory = "not_capable"
	CategoryInvalidRequest ErrorCategory = "invalid_request"
	CategoryTransient      ErrorCategory = "transient"
	CategoryUnknown        ErrorCategory = "unknown"
)

const msgVerifyAccount = "verify payout account setup"

// RailError is a payment rail failure mapped to a provider-neutral category.
// Every category leaves the ledger row unpaid and retryable.
type RailError struct {
	Category ErrorCategory
	Message  string
	Err      error
}

func (e *RailError) Error() string {
	if e.Err != nil {
		return string(e.Category) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Category) + ": " + e.Message
}

func (e *RailError) Unwrap() error { return e.Err }

func (e *RailError) Transient() bool {
	return e.Category == CategoryTransient
}

func notCapable(err error) *RailError {
	return &RailError{Category: CategoryNotCapable, Message: msgVerifyAccount, Err: err}
}

// Categorize returns err as a *RailError, classifying plain errors by their
// transport behaviour.
func Categorize(err error) *RailError {
	if err == nil {
		return nil
	}

	var re *RailError
	if errors.As(err, &re) {
		return re
	}

	if errors.Is(err, ErrAccountNotFound) {
		return notCapable(err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &RailError{Category: CategoryTransient, Message: "payment rail timed out", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &RailError{Category: CategoryTransient, Message: "payment rail unreachable", Err: err}
	}

	return &RailError{Category: CategoryUnknown, Message: "payout failed", Err: err}
}

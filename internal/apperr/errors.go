// Package apperr defines the error taxonomy shared across the engine.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Code identifies a category of failure.
type Code string

const (
	CodeAlreadyProcessed Code = "ALREADY_PROCESSED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeValidation       Code = "VALIDATION"
	CodeTransientIO      Code = "TRANSIENT_IO"
	CodeProvider         Code = "PROVIDER"
	CodeUnknown          Code = "UNKNOWN"
)

// Error carries a code, a machine-readable reason, and an optional cause.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a typed error.
func New(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code carried by err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsAlreadyProcessed reports whether err is the idempotent no-op signal.
func IsAlreadyProcessed(err error) bool {
	return CodeOf(err) == CodeAlreadyProcessed
}

// IsNotFound reports whether err refers to an absent conversation or message.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// Class is the retry classification of a failure.
type Class string

const (
	ClassTransient Class = "TRANSIENT"
	ClassPermanent Class = "PERMANENT"
	ClassUnknown   Class = "UNKNOWN"
)

// Classify maps an error onto its retry class. Validation failures are
// permanent and must never be retried; network-shaped failures are transient;
// everything else is unknown and treated conservatively by the caller.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	switch CodeOf(err) {
	case CodeValidation, CodeNotFound:
		return ClassPermanent
	case CodeTransientIO:
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	return ClassUnknown
}

// Package services implements the secret exchange: app registration,
// secret requests, submission, unlock and retention.
//
// This file centralizes service-level error kinds. Every error returned by
// the service carries exactly one Kind so that callers (HTTP handlers, the
// CLI) can map it to a response without inspecting messages.
package services

import (
	"errors"
	"fmt"
)

// Kind classifies service errors.
type Kind uint8

const (
	// KindUnknown is never returned by the service; KindOf reports it for
	// foreign errors.
	KindUnknown Kind = iota
	// KindInvalidArgument marks malformed input such as a bad e-mail.
	KindInvalidArgument
	// KindNotAuthorized marks unknown app keys and wrong app secrets.
	KindNotAuthorized
	// KindNotFound marks missing, consumed or not-yet-answered requests.
	KindNotFound
	// KindIntegrityFailure marks capability token or MAC mismatches.
	KindIntegrityFailure
	// KindDeliveryFailure marks a webhook that was not acknowledged.
	KindDeliveryFailure
	// KindDataException marks storage failures.
	KindDataException
)

var kindNames = [...]string{
	KindUnknown:          "unknown",
	KindInvalidArgument:  "invalid argument",
	KindNotAuthorized:    "not authorized",
	KindNotFound:         "not found",
	KindIntegrityFailure: "integrity failure",
	KindDeliveryFailure:  "delivery failure",
	KindDataException:    "data exception",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error makes every Kind usable as a sentinel with errors.Is.
func (k Kind) Error() string { return k.String() }

// Sentinels for errors.Is checks.
var (
	ErrInvalidArgument  error = KindInvalidArgument
	ErrNotAuthorized    error = KindNotAuthorized
	ErrNotFound         error = KindNotFound
	ErrIntegrityFailure error = KindIntegrityFailure
	ErrDeliveryFailure  error = KindDeliveryFailure
	ErrDataException    error = KindDataException
)

// Error is a classified service error. Reason is safe to log but is not
// meant for end users of capability URLs; Err is the underlying cause.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's Kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return KindUnknown
}

func newErr(kind Kind, op, reason string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: cause}
}

/*
Package apperror - Typed Errors for the SRI Emisor Pipeline
==============================================================================

Provides the error taxonomy from the SRI protocol engine: each kind maps
to a retry policy (never / retried per policy) and to a stable
user-visible category. Replaces string-matching on error text with
typed checks via errors.Is/errors.As.

USAGE:
    return apperror.Wrap(err, apperror.ErrInvalidCredential)

    if apperror.Is(err, apperror.ErrTransportError) {
        // retry
    }
*/
package apperror

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// Kind distinguishes the error taxonomy of spec §7.
type Kind string

const (
	KindInvalidInput       Kind = "InvalidInput"
	KindInvalidCredential  Kind = "InvalidCredential"
	KindSchemaViolation    Kind = "SchemaViolation"
	KindSigningError       Kind = "SigningError"
	KindTransportError     Kind = "TransportError"
	KindTemporalSri        Kind = "TemporalSriError"
	KindPermanentSri       Kind = "PermanentSriError"
	KindSriProtocol        Kind = "SriProtocolError"
	KindInvalidEnvironment Kind = "InvalidEnvironment"
)

// Retryable reports whether the error kind is retried by the transport layer.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransportError, KindTemporalSri:
		return true
	default:
		return false
	}
}

// Category maps a Kind to the stable, user-visible category named in spec §7.
func (k Kind) Category() string {
	switch k {
	case KindInvalidCredential:
		return "certificate"
	case KindSigningError:
		return "signing"
	case KindTransportError, KindTemporalSri, KindSriProtocol:
		return "connectivity"
	case KindPermanentSri:
		return "rejected by SRI"
	default:
		return "configuration"
	}
}

// AppError is the typed error carried through the pipeline.
type AppError struct {
	Kind    Kind
	Message string
	Field   string // offending field, set for InvalidInput/SchemaViolation
	Err     error
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field=%s)", msg, e.Field)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches by Kind, ignoring Message/Field/Err, so callers can compare
// against the sentinel Err* values below with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newKind(k Kind, msg string) *AppError {
	return &AppError{Kind: k, Message: msg}
}

// Sentinel errors, one per taxonomy entry. Compare with errors.Is.
var (
	ErrInvalidInput      = newKind(KindInvalidInput, "invalid input")
	ErrInvalidCredential = newKind(KindInvalidCredential, "invalid credential")
	ErrSchemaViolation   = newKind(KindSchemaViolation, "schema violation")
	ErrSigningError      = newKind(KindSigningError, "signing error")
	ErrTransportError    = newKind(KindTransportError, "transport error")
	ErrTemporalSri       = newKind(KindTemporalSri, "temporal SRI error")
	ErrPermanentSri      = newKind(KindPermanentSri, "permanent SRI error")
	ErrSriProtocol       = newKind(KindSriProtocol, "SRI protocol error")
	ErrInvalidEnvironment = newKind(KindInvalidEnvironment, "invalid environment")
)

// New builds a fresh AppError of the given kind with an offending field.
func New(k Kind, field, msg string) *AppError {
	return &AppError{Kind: k, Field: field, Message: msg}
}

// Wrap attaches an underlying error to a sentinel kind, preserving the
// original error for errors.Unwrap/%w formatting.
func Wrap(err error, sentinel *AppError) *AppError {
	return &AppError{
		Kind:    sentinel.Kind,
		Message: sentinel.Message,
		Err:     err,
	}
}

// WithMessage returns a copy of the error carrying a more specific message.
func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{Kind: e.Kind, Message: msg, Field: e.Field, Err: e.Err}
}

// WithField returns a copy of the error naming the offending field.
func (e *AppError) WithField(field string) *AppError {
	return &AppError{Kind: e.Kind, Message: e.Message, Field: field, Err: e.Err}
}

// KindOf extracts the Kind of err, or "" if err is not an *AppError.
func KindOf(err error) Kind {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

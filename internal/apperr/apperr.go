// Package apperr defines the structured error taxonomy shared by services
// and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for logging and transport mapping.
type Kind int

const (
	KindSystem        Kind = iota // database or chain unavailable
	KindValidation                // malformed request
	KindAuthorization             // session missing or address mismatch
	KindEntitlement               // business rule on credits and tries
	KindIntegrity                 // potential cheating
	KindSettlement                // payment specific
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindEntitlement:
		return "entitlement"
	case KindIntegrity:
		return "integrity"
	case KindSettlement:
		return "settlement"
	case KindNotFound:
		return "not_found"
	default:
		return "system"
	}
}

// Error is a classified application error. Sentinel values are compared with
// errors.Is; detail is attached by wrapping with fmt.Errorf("%w: ...").
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New creates a classified error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation creates a validation error with a detail message.
func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

// From extracts the classified error from err's chain. Unclassified errors
// are reported as system errors.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindSystem, Code: "internal_error", Message: "internal error"}
}

// KindOf returns the kind of err, KindSystem when unclassified.
func KindOf(err error) Kind {
	return From(err).Kind
}

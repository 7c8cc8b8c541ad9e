package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSignature         = errors.New("signature verification failed")
	ErrGateway           = errors.New("payment system unavailable")
	ErrConflict          = errors.New("conflict")
)

// Error carries a caller-facing message tagged with one of the sentinel kinds above.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func Signaturef(format string, args ...any) error {
	return &Error{Kind: ErrSignature, Message: fmt.Sprintf(format, args...)}
}

// GatewayFailure wraps a transport or upstream failure from the payment gateway.
func GatewayFailure(op string, err error) error {
	if errors.Is(err, ErrGateway) {
		return err
	}
	return &Error{Kind: ErrGateway, Message: op, Err: err}
}

type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Code maps an error onto the stable code exposed to API clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrSignature):
		return "signature_error"
	case errors.Is(err, ErrGateway):
		return "gateway_error"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal_error"
	}
}

// PublicMessage returns a message safe to show to a caller. Causes are never included.
func PublicMessage(err error) string {
	var te *InvalidTransitionError
	if errors.As(err, &te) {
		return te.Error()
	}
	if errors.Is(err, ErrGateway) {
		return ErrGateway.Error()
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// IsBusiness reports whether err is one of the domain error kinds rather than an
// infrastructure failure.
func IsBusiness(err error) bool {
	return Code(err) != "internal_error" && err != nil
}

package apperrors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kind classifies a failure so callers can react without parsing messages.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindForbidden         Kind = "FORBIDDEN"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindEmptyOrder        Kind = "EMPTY_ORDER"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindOrderLocked       Kind = "ORDER_LOCKED"
	KindInternal          Kind = "INTERNAL_ERROR"
)

var statusByKind = map[Kind]int{
	KindValidation:        fiber.StatusBadRequest,
	KindEmptyOrder:        fiber.StatusBadRequest,
	KindUnauthorized:      fiber.StatusUnauthorized,
	KindForbidden:         fiber.StatusForbidden,
	KindNotFound:          fiber.StatusNotFound,
	KindConflict:          fiber.StatusConflict,
	KindInsufficientStock: fiber.StatusConflict,
	KindInvalidTransition: fiber.StatusUnprocessableEntity,
	KindOrderLocked:       fiber.StatusLocked,
	KindInternal:          fiber.StatusInternalServerError,
}

// Error is a failure with a kind and a message that is safe to show to clients.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{kind: kind, message: message, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Message() string { return e.message }

// As returns the first *Error in err's chain, or nil.
func As(err error) *Error {
	var target *Error
	if errors.As(err, &target) {
		return target
	}
	return nil
}

// KindOf reports the kind of err. Errors without a kind are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e := As(err); e != nil {
		return e.kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind onto a response status code.
func HTTPStatus(kind Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// PublicMessage returns the client-facing message for err. Internal failures
// never leak their cause.
func PublicMessage(err error) string {
	e := As(err)
	if e == nil || e.kind == KindInternal {
		return "internal server error"
	}
	return e.message
}

func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return Newf(KindForbidden, format, args...)
}

func Internal(err error, message string) *Error {
	return Wrap(KindInternal, err, message)
}

// Body is the JSON envelope every failed request responds with.
func Body(err error) fiber.Map {
	return fiber.Map{
		"message": PublicMessage(err),
		"error":   KindOf(err),
	}
}

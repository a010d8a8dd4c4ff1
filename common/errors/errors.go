package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping
type Kind string

const (
	Internal     Kind = "internal_error"
	Invalid      Kind = "invalid_request"
	NotFound     Kind = "not_found"
	Unsupported  Kind = "unsupported"
	TooLarge     Kind = "request_too_large"
	Unauthorized Kind = "unauthorized"
	Unavailable  Kind = "unavailable"
)

// FieldError describes a single offending request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Tag     string `json:"tag,omitempty"`
}

// Error is the typed error returned by feature modules
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// WithField attaches a field-level explanation
func (e *Error) WithField(field, message, tag string) *Error {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message, Tag: tag})
	return e
}

// Wrap keeps err as the cause of e
func (e *Error) Wrap(err error) *Error {
	e.cause = err
	return e
}

// Status returns the HTTP status code matching the kind
func (e *Error) Status() int {
	return StatusOf(e.Kind)
}

// Explain creates an error of kind k
func (k Kind) Explain(format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Invalidf(format string, args ...interface{}) *Error {
	return Invalid.Explain(format, args...)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return NotFound.Explain(format, args...)
}

func Unsupportedf(format string, args ...interface{}) *Error {
	return Unsupported.Explain(format, args...)
}

func TooLargef(format string, args ...interface{}) *Error {
	return TooLarge.Explain(format, args...)
}

// StatusOf maps a kind to an HTTP status code
func StatusOf(k Kind) int {
	switch k {
	case Invalid, Unsupported:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	case Unauthorized:
		return http.StatusUnauthorized
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// As is errors.As from the standard library
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Is is errors.Is from the standard library
func Is(err, target error) bool { return stderrors.Is(err, target) }

// New is errors.New from the standard library
func New(text string) error { return stderrors.New(text) }

// Package errs classifies protocol rejections so transports can tell
// permanent input mistakes from retryable stale-state races.
package errs

import (
	"errors"
	"net/http"
)

type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryInputValidation
	CategoryAuthorization
	CategoryInvariantViolation
	CategoryStaleState
)

func (c Category) String() string {
	switch c {
	case CategoryInputValidation:
		return "input_validation"
	case CategoryAuthorization:
		return "authorization"
	case CategoryInvariantViolation:
		return "invariant_violation"
	case CategoryStaleState:
		return "stale_state"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a category onto the status code returned by the API.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryInputValidation:
		return http.StatusBadRequest
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryInvariantViolation, CategoryStaleState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a categorized sentinel. Compare with errors.Is.
type Error struct {
	category Category
	msg      string
}

func New(category Category, msg string) *Error {
	return &Error{category: category, msg: msg}
}

func (e *Error) Error() string      { return e.msg }
func (e *Error) Category() Category { return e.category }

// Shorthands used by the domain packages.
func Input(msg string) *Error     { return New(CategoryInputValidation, msg) }
func Auth(msg string) *Error      { return New(CategoryAuthorization, msg) }
func Invariant(msg string) *Error { return New(CategoryInvariantViolation, msg) }
func Stale(msg string) *Error     { return New(CategoryStaleState, msg) }

// CategoryOf walks the wrap chain and returns the first category found.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.category
	}
	return CategoryUnknown
}

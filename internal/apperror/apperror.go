// Package apperror defines the domain error taxonomy shared by every layer.
//
// Services return these errors; the HTTP handlers translate them to status
// codes in exactly one place (handler.writeError). The sentinels are checked
// with errors.Is, which walks the chain thanks to AppError.Unwrap.
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers absent, expired, and invisible-to-the-caller
	// resources alike — deliberately indistinguishable so an API client
	// can't probe for the existence of someone else's private clips.
	ErrNotFound = errors.New("not found")

	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnauthorized means the caller presented bad credentials (wrong
	// encrypted-clip password, bad login, invalid token).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPasswordRequired is returned when an encrypted clip is reached via
	// its share token without a password. It's distinct from ErrUnauthorized
	// so a client knows to prompt rather than to give up.
	ErrPasswordRequired = errors.New("password required")

	// ErrQuotaExceeded means no clip slot (or storage byte) could be freed
	// for the caller, even after an eviction pass.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTooLarge means an upload exceeded the caller's size ceiling.
	ErrTooLarge = errors.New("too large")
)

type AppError struct {
	Err     error  // sentinel identifying the error class
	Message string // human-readable error message
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func PasswordRequired() *AppError {
	return &AppError{
		Err:     ErrPasswordRequired,
		Message: "password required for encrypted clip",
	}
}

// QuotaExceeded describes a quota the caller ran into ("clips", "storage")
// along with the configured limit, so the message is actionable.
func QuotaExceeded(what string, limit int64) *AppError {
	return &AppError{
		Err:     ErrQuotaExceeded,
		Message: fmt.Sprintf("%s quota reached (limit %d)", what, limit),
	}
}

// TooLarge describes an upload that exceeded maxBytes.
func TooLarge(maxBytes int64) *AppError {
	return &AppError{
		Err:     ErrTooLarge,
		Message: fmt.Sprintf("file too large: maximum size is %d bytes", maxBytes),
	}
}

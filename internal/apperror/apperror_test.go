package apperror

import (
	"errors"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("clip", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("title", "title is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("file", "abc123"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "PasswordRequired wraps ErrPasswordRequired",
			err:       PasswordRequired(),
			target:    ErrPasswordRequired,
			wantMatch: true,
		},
		{
			name:      "QuotaExceeded wraps ErrQuotaExceeded",
			err:       QuotaExceeded("clips", 100),
			target:    ErrQuotaExceeded,
			wantMatch: true,
		},
		{
			name:      "TooLarge wraps ErrTooLarge",
			err:       TooLarge(1 << 20),
			target:    ErrTooLarge,
			wantMatch: true,
		},
		{
			// PasswordRequired is a distinct signal, not a flavour of
			// Unauthorized — a client prompts for one and gives up on
			// the other.
			name:      "PasswordRequired does NOT match ErrUnauthorized",
			err:       PasswordRequired(),
			target:    ErrUnauthorized,
			wantMatch: false,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("clip", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("clip", "abc123"),
			wantMessage: "clip not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("title", "title is required"),
			wantMessage: "title is required",
		},
		{
			name:        "QuotaExceeded message names the quota and limit",
			err:         QuotaExceeded("storage", 1000),
			wantMessage: "storage quota reached (limit 1000)",
		},
		{
			name:        "TooLarge message names the ceiling",
			err:         TooLarge(1024),
			wantMessage: "file too large: maximum size is 1024 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("clip", "abc123")
	if unwrapped := err.Unwrap(); unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("email", "invalid email format")
	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
}

package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports input rejected before any remote call was made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid returns a ValidationError for field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderCode classifies identity provider failures.
type ProviderCode string

const (
	CodeBlocked            ProviderCode = "blocked"
	CodeUnauthorizedOrigin ProviderCode = "unauthorized-origin"
	CodeUnknown            ProviderCode = "unknown"
)

// ProviderError is an authentication failure surfaced to the user.
type ProviderError struct {
	Code    ProviderCode
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("auth %s", e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Err }

var providerMessages = map[ProviderCode]string{
	CodeBlocked:            "The sign-in window was blocked. Redirecting...",
	CodeUnauthorizedOrigin: "This origin is not authorized for sign-in. Contact the administrator.",
	CodeUnknown:            "Sign-in failed. Try again later.",
}

// Provider wraps err as a ProviderError with the user-facing message for code.
func Provider(code ProviderCode, err error) *ProviderError {
	return &ProviderError{Code: code, Message: providerMessages[code], Err: err}
}

// StoreWriteError reports a failed document store write. It is never retried.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// Write wraps err as a StoreWriteError, passing nil through.
func Write(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreWriteError{Op: op, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// UserMessage returns the text to show for err in the UI.
func UserMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var we *StoreWriteError
	if errors.As(err, &we) {
		return "Could not save. Try again."
	}
	return err.Error()
}

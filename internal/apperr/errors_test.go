package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("popup blocked")
	err := fmt.Errorf("login: %w", Provider(CodeBlocked, cause))

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As(ProviderError) = false")
	}
	if pe.Code != CodeBlocked {
		t.Errorf("code = %q, want %q", pe.Code, CodeBlocked)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through errors.Is")
	}
	if UserMessage(err) != providerMessages[CodeBlocked] {
		t.Errorf("UserMessage = %q", UserMessage(err))
	}
}

func TestWriteNil(t *testing.T) {
	if err := Write("add", nil); err != nil {
		t.Errorf("Write(nil) = %v, want nil", err)
	}
	err := Write("add", errors.New("boom"))
	var we *StoreWriteError
	if !errors.As(err, &we) || we.Op != "add" {
		t.Errorf("Write() = %v, want StoreWriteError{Op: add}", err)
	}
}

func TestIsValidation(t *testing.T) {
	if !IsValidation(fmt.Errorf("wrap: %w", Invalid("nickname", "too short"))) {
		t.Error("IsValidation(wrapped) = false")
	}
	if IsValidation(errors.New("other")) {
		t.Error("IsValidation(other) = true")
	}
}

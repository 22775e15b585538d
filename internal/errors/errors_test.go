package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeAndCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(CodeStorageFailure, cause, "写入失败"))

	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures should be retryable")
	}
	if MessageOf(err) != "写入失败: boom" {
		t.Fatalf("unexpected message: %q", MessageOf(err))
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityCritical, Alert: true})

	err := New(code, "")
	if err.Message() != "custom" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if err.Severity() != SeverityCritical || !ShouldAlert(err) {
		t.Fatalf("unexpected attributes: %s", err.Severity())
	}
	if AttributesOf("MISSING").Message != "unknown error" {
		t.Fatalf("unregistered code should fall back to UNKNOWN")
	}
}

func TestMessageOfPlainError(t *testing.T) {
	if got := MessageOf(stdErrors.New("plain")); got != "plain" {
		t.Fatalf("unexpected message: %q", got)
	}
	if MessageOf(nil) != "" {
		t.Fatalf("nil error should produce empty message")
	}
}

package thoughts

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeOfResolvesWrappedServiceError(t *testing.T) {
	base := NewServiceError(CodeBlocked, "delivery is blocked", nil)

	if got := ErrorCodeOf(base); got != CodeBlocked {
		t.Fatalf("unexpected code %s", got)
	}

	wrapped := fmt.Errorf("handling request: %w", base)
	if got := ErrorCodeOf(wrapped); got != CodeBlocked {
		t.Fatalf("expected code to survive wrapping, got %s", got)
	}
}

func TestErrorCodeOfFallsBackToUnexpected(t *testing.T) {
	if got := ErrorCodeOf(errors.New("plain failure")); got != CodeUnexpected {
		t.Fatalf("unexpected code %s", got)
	}
	if got := ErrorCodeOf(nil); got != CodeUnexpected {
		t.Fatalf("unexpected code for nil error %s", got)
	}
}

func TestServiceErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("row conflict")
	serviceError := NewServiceError(CodeAlreadySentToday, "already sent a thought to this contact today", cause)

	if !errors.Is(serviceError, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if serviceError.Code() != CodeAlreadySentToday {
		t.Fatalf("unexpected code %s", serviceError.Code())
	}
	if serviceError.Message() != "already sent a thought to this contact today" {
		t.Fatalf("unexpected message %s", serviceError.Message())
	}
}

func TestErrorMessageOfFallsBack(t *testing.T) {
	serviceError := NewServiceError(CodeNotConnected, "users are not connected", nil)
	if got := ErrorMessageOf(serviceError); got != "users are not connected" {
		t.Fatalf("unexpected message %s", got)
	}
	if got := ErrorMessageOf(errors.New("plain failure")); got != "unexpected error" {
		t.Fatalf("unexpected fallback message %s", got)
	}
}

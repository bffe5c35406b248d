package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrProtocol, "bad decision payload").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	if CodeOf(err) != ErrProtocol {
		t.Fatalf("expected code %s, got %s", ErrProtocol, CodeOf(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_TimeoutDefaults(t *testing.T) {
	t.Parallel()

	err := NewError(ErrTimeout, "request deadline exceeded")
	if !IsRetryable(err) {
		t.Fatalf("timeout errors should default to retryable")
	}
	if !IsTimeout(err) {
		t.Fatalf("expected IsTimeout true")
	}
	if IsNotFound(err) {
		t.Fatalf("expected IsNotFound false")
	}
}

func TestCodeOf_WrappedAndPlain(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("dispatch failed: %w", NewError(ErrNotFound, "unknown agent"))
	if CodeOf(wrapped) != ErrNotFound {
		t.Fatalf("expected code to survive wrapping, got %s", CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != ErrInternal {
		t.Fatalf("expected plain errors to map to %s", ErrInternal)
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are not retryable")
	}
}

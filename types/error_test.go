package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrTimeout, "agent request timed out").
		WithCause(root).
		WithRetryable(true)

	if GetErrorCode(err) != ErrTimeout {
		t.Fatalf("expected code %s, got %s", ErrTimeout, GetErrorCode(err))
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

func TestError_IsCodeThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrNotFound, "workflow missing")
	wrapped := NewError(ErrStoreError, "load failed").WithCause(inner)

	// The outermost code wins; the inner one is still reachable via Unwrap.
	if !IsCode(wrapped, ErrStoreError) {
		t.Fatalf("expected outer code STORE_ERROR")
	}
	if !errors.Is(wrapped, error(inner)) {
		t.Fatalf("expected inner error in chain")
	}
	if IsRetryable(wrapped) {
		t.Fatalf("expected non-retryable by default")
	}
}

func TestError_NilSafeHelpers(t *testing.T) {
	t.Parallel()

	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("expected empty code for plain error")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are not retryable")
	}
}

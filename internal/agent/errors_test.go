package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/agenticmail/agenticmail/internal/store"
)

func TestError_Format(t *testing.T) {
	err := NewError(KindNotFound, "session does not exist").WithSession("s-123")
	got := err.Error()
	if !strings.Contains(got, "not_found") || !strings.Contains(got, "s-123") {
		t.Errorf("error = %q", got)
	}

	bare := NewError(KindInternal, "boom")
	if strings.Contains(bare.Error(), "session") {
		t.Errorf("error without session mentions one: %q", bare.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(KindInternal, "wrapper").WithCause(cause)
	if !errors.Is(err, cause) {
		t.Error("cause not reachable via errors.Is")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	var structured *Error
	if !errors.As(wrapped, &structured) {
		t.Fatal("structured error not reachable via errors.As")
	}
	if structured.Kind != KindInternal {
		t.Errorf("kind = %s", structured.Kind)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"structured", NewError(KindBudgetExceeded, "x"), KindBudgetExceeded},
		{"wrapped structured", fmt.Errorf("outer: %w", NewError(KindTimeout, "x")), KindTimeout},
		{"context cancelled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"store not found", fmt.Errorf("get: %w", store.ErrNotFound), KindNotFound},
		{"transient upstream", errors.New("429 too many requests"), KindTransientUpstream},
		{"opaque", errors.New("something odd"), KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("%s: KindOf = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestKind_Retryable(t *testing.T) {
	if !KindTransientUpstream.Retryable() || !KindTimeout.Retryable() {
		t.Error("transient kinds must be retryable")
	}
	for _, k := range []Kind{KindNotFound, KindInvalidArgument, KindBudgetExceeded, KindCancelled, KindInternal} {
		if k.Retryable() {
			t.Errorf("%s must not be retryable", k)
		}
	}
}

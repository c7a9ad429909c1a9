package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrDispatchError, "transport failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithAgent("agent-a")

	if GetErrorCode(err) != ErrDispatchError {
		t.Fatalf("expected code %s, got %s", ErrDispatchError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if err.AgentID != "agent-a" {
		t.Fatalf("expected agent id to be set")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestNewError_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      ErrorCode
		status    int
		retryable bool
	}{
		{ErrCapabilityNotFound, http.StatusNotFound, false},
		{ErrNoAvailableAgent, http.StatusServiceUnavailable, true},
		{ErrTimeout, http.StatusGatewayTimeout, true},
		{ErrInvalidTask, http.StatusBadRequest, false},
		{ErrDuplicateResult, http.StatusConflict, false},
	}
	for _, tt := range tests {
		err := NewError(tt.code, "x")
		if err.HTTPStatus != tt.status {
			t.Errorf("%s: expected status %d, got %d", tt.code, tt.status, err.HTTPStatus)
		}
		if err.Retryable != tt.retryable {
			t.Errorf("%s: expected retryable=%v", tt.code, tt.retryable)
		}
	}
}

func TestIsCode_Wrapped(t *testing.T) {
	t.Parallel()

	inner := Errorf(ErrAgentNotFound, "agent %s not found", "b")
	wrapped := fmt.Errorf("reset: %w", inner)

	if !IsCode(wrapped, ErrAgentNotFound) {
		t.Fatalf("expected wrapped error to carry code")
	}
	if HTTPStatusOf(wrapped) != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", HTTPStatusOf(wrapped))
	}
	if HTTPStatusOf(errors.New("plain")) != http.StatusInternalServerError {
		t.Fatalf("expected 500 for plain errors")
	}
}

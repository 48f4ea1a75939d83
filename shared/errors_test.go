package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestRelayerErrorTransient(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{0, true},
		{500, true},
		{503, true},
		{408, true},
		{425, true},
		{429, true},
		{400, false},
		{404, false},
		{422, false},
	}

	for _, tc := range cases {
		err := NewRelayerError("status", tc.status, "body", nil)
		if err.Transient() != tc.transient {
			t.Errorf("status %d: expected transient=%v", tc.status, tc.transient)
		}
		var unwrapped *RelayerError
		if !errors.As(fmt.Errorf("poll: %w", err), &unwrapped) || unwrapped.Transient() != tc.transient {
			t.Errorf("status %d: wrapped error lost transient=%v", tc.status, tc.transient)
		}
	}
}

func TestFlowErrorUnwrap(t *testing.T) {
	cause := errors.New("execution reverted")
	err := NewChainError("approveHash", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected ChainError to unwrap to its cause")
	}
	if err.Operation != "approveHash" {
		t.Errorf("Expected operation approveHash, got %s", err.Operation)
	}
}

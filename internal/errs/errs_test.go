package errs

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestKindOf_Wrapped(t *testing.T) {
	err := E(KindNetwork, errors.New("connection reset"))
	wrapped := fmt.Errorf("fetch bhavcopy: %w", err)

	if got := KindOf(wrapped); got != KindNetwork {
		t.Errorf("Expected NETWORK, got %q", got)
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("Expected empty kind, got %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("Expected empty kind for nil, got %q", got)
	}
}

func TestE_Nil(t *testing.T) {
	if E(KindNetwork, nil) != nil {
		t.Error("E(kind, nil) should be nil")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"network", Errorf(KindNetwork, "timeout"), true},
		{"integration", Errorf(KindIntegration, "insert failed"), true},
		{"data transient", Errorf(KindData, "write interrupted"), true},
		{"data disk full", E(KindData, fmt.Errorf("write: %w", syscall.ENOSPC)), false},
		{"not found", Errorf(KindNotFound, "404"), false},
		{"schema drift", Errorf(KindSchemaDrift, "missing columns"), false},
		{"validation", Errorf(KindValidation, "3 critical failures"), false},
		{"circuit open", Errorf(KindCircuitOpen, "nse breaker open"), false},
		{"unclassified", errors.New("unknown"), false},
	}

	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNotFound(t *testing.T) {
	err := fmt.Errorf("fetch 2024-01-26: %w", Errorf(KindNotFound, "http 404"))
	if !NotFound(err) {
		t.Error("Expected NotFound true through wrapping")
	}
	if NotFound(Errorf(KindNetwork, "timeout")) {
		t.Error("Expected NotFound false for network error")
	}
}

func TestDiskFull(t *testing.T) {
	err := E(KindData, fmt.Errorf("flush partition: %w", syscall.ENOSPC))
	if !DiskFull(err) {
		t.Error("Expected DiskFull true for wrapped ENOSPC")
	}
	if DiskFull(Errorf(KindData, "permission denied")) {
		t.Error("Expected DiskFull false without ENOSPC")
	}
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketlake/internal/errs"
)

func testRetryer(maxAttempts int) *Retryer {
	return &Retryer{
		Policy: RetryPolicy{
			MaxAttempts:    maxAttempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2.0,
		},
		Log: zerolog.Nop(),
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	r := testRetryer(5)

	calls := 0
	err := r.Do(context.Background(), "fetch", func() error {
		calls++
		if calls < 3 {
			return errs.Errorf(errs.KindNetwork, "timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	r := testRetryer(3)

	calls := 0
	err := r.Do(context.Background(), "fetch", func() error {
		calls++
		return errs.Errorf(errs.KindNetwork, "timeout")
	})
	if err == nil {
		t.Fatal("Expected error after exhaustion")
	}
	if calls != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", calls)
	}
	if errs.KindOf(err) != errs.KindNetwork {
		t.Errorf("Exhaustion should surface the last error, got kind %q", errs.KindOf(err))
	}
}

func TestDo_FatalSkipsRemainingAttempts(t *testing.T) {
	r := testRetryer(5)

	cases := []error{
		errs.Errorf(errs.KindSchemaDrift, "missing columns"),
		errs.Errorf(errs.KindValidation, "2 critical failures"),
		errs.Errorf(errs.KindNotFound, "http 404"),
		errs.Errorf(errs.KindCircuitOpen, "source nse: open"),
		errors.New("unclassified"),
	}
	for _, fatal := range cases {
		calls := 0
		err := r.Do(context.Background(), "fetch", func() error {
			calls++
			return fatal
		})
		if calls != 1 {
			t.Errorf("%v: expected 1 attempt, got %d", fatal, calls)
		}
		if !errors.Is(err, fatal) {
			t.Errorf("%v: expected original error back, got %v", fatal, err)
		}
	}
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	r := &Retryer{
		Policy: RetryPolicy{
			MaxAttempts:    100,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
			Multiplier:     1.0,
		},
		Log: zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := r.Do(ctx, "fetch", func() error {
		calls++
		return errs.Errorf(errs.KindNetwork, "timeout")
	})
	if err == nil {
		t.Fatal("Expected error after context deadline")
	}
	if calls > 2 {
		t.Errorf("Expected retries to stop at deadline, got %d attempts", calls)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	r := testRetryer(0)

	calls := 0
	_ = r.Do(context.Background(), "op", func() error {
		calls++
		return errs.Errorf(errs.KindNetwork, "x")
	})
	if calls != 1 {
		t.Errorf("Expected 1 attempt with zero-valued policy, got %d", calls)
	}
}

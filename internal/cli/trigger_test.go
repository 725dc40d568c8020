package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"marketlake/internal/domain"
)

func TestTriggerExit(t *testing.T) {
	runErr := errors.New("nse_equity: status 503")

	cases := []struct {
		name      string
		succeeded int
		failed    int
		degraded  bool
		err       error
		want      int
	}{
		{"all clean", 3, 0, false, nil, ExitSuccess},
		{"nothing succeeded", 0, 2, false, runErr, ExitFailure},
		{"single date failed", 0, 1, false, runErr, ExitFailure},
		{"mixed backfill is partial", 2, 1, false, runErr, ExitPartial},
		{"degraded steps are partial", 3, 0, true, nil, ExitPartial},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := triggerExit(tc.succeeded, tc.failed, tc.degraded, tc.err)
			if got := GetExitCode(err); got != tc.want {
				t.Fatalf("exit = %d, want %d", got, tc.want)
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Fatalf("run error not carried: %v", err)
			}
		})
	}
}

func TestStepIssues(t *testing.T) {
	if got := stepIssues(nil); got != 0 {
		t.Fatalf("nil run issues = %d, want 0", got)
	}

	run := &domain.PipelineRun{Steps: []domain.StepMetric{
		{Name: "fetch_nse_equity", Status: domain.StepOK},
		{Name: "fetch_nse_constituents", Status: domain.StepDegraded},
		{Name: "load_equity_ohlc", Status: domain.StepFailed},
		{Name: "idempotency", Status: domain.StepSkipped},
	}}
	if got := stepIssues(run); got != 2 {
		t.Fatalf("issues = %d, want 2", got)
	}
}

func TestPrintRun_SurfacesStepProblems(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	run := &domain.PipelineRun{
		RunID:     "r-1",
		Pipeline:  "bulk_block_deals",
		StartTime: start,
		EndTime:   start.Add(90 * time.Second),
		Status:    domain.RunSuccess,
		Steps: []domain.StepMetric{
			{Name: "fetch_nse_bulk_deals", Status: domain.StepOK, Rows: 120},
			{Name: "load_bulk_block_deals", Status: domain.StepFailed, Error: "clickhouse: connection refused"},
		},
	}

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printRun(cmd, run, "2024-01-15", nil)
	out := buf.String()
	for _, frag := range []string{
		"bulk_block_deals 2024-01-15: SUCCESS",
		"1m30s",
		"failed load_bulk_block_deals: clickhouse: connection refused",
	} {
		if !strings.Contains(out, frag) {
			t.Errorf("output missing %q:\n%s", frag, out)
		}
	}
}

func TestPrintRun_FailedAndSkipped(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	failed := &domain.PipelineRun{
		Pipeline:  "equity_daily",
		StartTime: start,
		EndTime:   start.Add(time.Second),
		Status:    domain.RunFailed,
	}
	printRun(cmd, failed, "2024-01-15", errors.New("nse_equity: status 503"))
	if !strings.Contains(buf.String(), "FAILED in 1s: nse_equity: status 503") {
		t.Fatalf("failed output = %q", buf.String())
	}

	buf.Reset()
	skipped := &domain.PipelineRun{
		Pipeline:  "equity_daily",
		StartTime: start,
		EndTime:   start.Add(time.Millisecond),
		Status:    domain.RunSkippedIdempotent,
	}
	printRun(cmd, skipped, "2024-01-15", nil)
	if !strings.Contains(buf.String(), "SKIPPED (date already complete)") {
		t.Fatalf("skipped output = %q", buf.String())
	}
}

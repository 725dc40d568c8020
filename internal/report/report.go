// Package report builds the operations digest over the run log: what
// ran, what failed, what degraded, and where the source breakers
// stand. The digest is rendered as markdown for humans and CSV for
// spreadsheets.
package report

import (
	"time"

	"marketlake/internal/resilience"
)

// Report is one digest over the most recent pipeline runs.
type Report struct {
	GeneratedAt time.Time
	RunsListed  int

	Totals    Totals
	Pipelines []PipelineSummaryRow

	// Slowest holds the longest completed runs, capped at slowestCap.
	Slowest []RunRow

	// Runs lists every run in the window, newest first. The CSV is
	// rendered from this table.
	Runs []RunRow

	Breakers []resilience.BreakerSnapshot
}

// Totals aggregates every run in the window.
type Totals struct {
	Runs        int
	Succeeded   int
	Failed      int
	Skipped     int
	InFlight    int
	RowsWritten int64
	RowsLoaded  int64
}

// PipelineSummaryRow aggregates one pipeline's runs.
type PipelineSummaryRow struct {
	Pipeline      string
	Runs          int
	Succeeded     int
	Failed        int
	Skipped       int
	DegradedSteps int
	FailedLoads   int
	RowsWritten   int64
	AvgDuration   time.Duration // over completed runs
	LastStatus    string
	LastRunAt     time.Time
}

// RunRow is one run flattened for tables. FailedLoads singles out
// warehouse load failures since those are recovered with a manual
// load, not a re-run.
type RunRow struct {
	RunID         string
	Pipeline      string
	Date          string
	Status        string
	StartTime     time.Time
	Duration      time.Duration // zero while the run is in flight
	Steps         int
	DegradedSteps int
	FailedSteps   int
	FailedLoads   int
	RowsWritten   int64
	RowsLoaded    int64
	FirstError    string
}

package domain

import "time"

// RunStatus is the terminal status of a pipeline run.
type RunStatus string

const (
	RunSuccess           RunStatus = "SUCCESS"
	RunFailed            RunStatus = "FAILED"
	RunSkippedIdempotent RunStatus = "SKIPPED_IDEMPOTENT"
)

// IsValid checks if the status is a known value.
func (s RunStatus) IsValid() bool {
	return s == RunSuccess || s == RunFailed || s == RunSkippedIdempotent
}

// Step status values recorded in StepMetric.Status.
const (
	StepOK       = "ok"
	StepFailed   = "failed"
	StepSkipped  = "skipped"
	StepDegraded = "degraded"
)

// StepMetric captures one step's outcome within a run.
type StepMetric struct {
	Name       string `json:"name"`
	Rows       int64  `json:"rows"`
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// PipelineRun is the record of one pipeline execution.
type PipelineRun struct {
	RunID      string            `json:"run_id"`
	Pipeline   string            `json:"pipeline"`
	Parameters map[string]string `json:"parameters"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	Status     RunStatus         `json:"status"`
	Steps      []StepMetric      `json:"steps"`
}

// Duration returns the wall time of the run.
func (r *PipelineRun) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// TotalRows sums the rows reported by all steps.
func (r *PipelineRun) TotalRows() int64 {
	var total int64
	for _, s := range r.Steps {
		total += s.Rows
	}
	return total
}

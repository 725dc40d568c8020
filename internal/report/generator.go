package report

import (
	"context"
	"sort"
	"strings"
	"time"

	"marketlake/internal/domain"
	"marketlake/internal/resilience"
	"marketlake/internal/runlog"
)

// slowestCap bounds the slowest-runs table.
const slowestCap = 5

// Generator produces digests from the run log and the breaker
// registry.
type Generator struct {
	runs     runlog.Store
	breakers *resilience.Registry
	limit    int
	now      func() time.Time // injectable clock for deterministic output
}

// NewGenerator creates a generator over the run store. The registry
// may be nil; the breaker section is then omitted.
func NewGenerator(runs runlog.Store, breakers *resilience.Registry) *Generator {
	return &Generator{
		runs:     runs,
		breakers: breakers,
		limit:    runlog.DefaultListLimit,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithLimit bounds how many recent runs the digest covers.
func (g *Generator) WithLimit(n int) *Generator {
	if n > 0 {
		g.limit = n
	}
	return g
}

// Generate produces one digest over the most recent runs.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	runs, err := g.runs.ListRecent(ctx, g.limit)
	if err != nil {
		return nil, err
	}

	r := &Report{GeneratedAt: g.now(), RunsListed: len(runs)}

	byPipeline := make(map[string]*PipelineSummaryRow)
	completedDur := make(map[string]time.Duration)
	completed := make(map[string]int)

	for _, run := range runs {
		row := runRow(run)
		r.Runs = append(r.Runs, row)

		r.Totals.Runs++
		r.Totals.RowsWritten += row.RowsWritten
		r.Totals.RowsLoaded += row.RowsLoaded
		switch run.Status {
		case domain.RunSuccess:
			r.Totals.Succeeded++
		case domain.RunFailed:
			r.Totals.Failed++
		case domain.RunSkippedIdempotent:
			r.Totals.Skipped++
		default:
			r.Totals.InFlight++
		}

		p := byPipeline[run.Pipeline]
		if p == nil {
			p = &PipelineSummaryRow{Pipeline: run.Pipeline}
			byPipeline[run.Pipeline] = p
		}
		p.Runs++
		p.DegradedSteps += row.DegradedSteps
		p.FailedLoads += row.FailedLoads
		p.RowsWritten += row.RowsWritten
		switch run.Status {
		case domain.RunSuccess:
			p.Succeeded++
		case domain.RunFailed:
			p.Failed++
		case domain.RunSkippedIdempotent:
			p.Skipped++
		}
		if !run.EndTime.IsZero() {
			completedDur[run.Pipeline] += row.Duration
			completed[run.Pipeline]++
		}
		// ListRecent is newest first, so the first row seen is the last
		// run.
		if p.LastStatus == "" {
			p.LastStatus = row.Status
			p.LastRunAt = run.StartTime
		}
	}

	// Newest first, run id as the tiebreaker for deterministic output.
	sort.Slice(r.Runs, func(i, j int) bool {
		if !r.Runs[i].StartTime.Equal(r.Runs[j].StartTime) {
			return r.Runs[i].StartTime.After(r.Runs[j].StartTime)
		}
		return r.Runs[i].RunID > r.Runs[j].RunID
	})

	for name, p := range byPipeline {
		if n := completed[name]; n > 0 {
			p.AvgDuration = completedDur[name] / time.Duration(n)
		}
		r.Pipelines = append(r.Pipelines, *p)
	}
	sort.Slice(r.Pipelines, func(i, j int) bool {
		return r.Pipelines[i].Pipeline < r.Pipelines[j].Pipeline
	})

	r.Slowest = slowestRuns(r.Runs)

	if g.breakers != nil {
		r.Breakers = g.breakers.Snapshot()
		sort.Slice(r.Breakers, func(i, j int) bool {
			return r.Breakers[i].Name < r.Breakers[j].Name
		})
	}

	return r, nil
}

// runRow flattens one run for the tables.
func runRow(run *domain.PipelineRun) RunRow {
	row := RunRow{
		RunID:     run.RunID,
		Pipeline:  run.Pipeline,
		Date:      run.Parameters["date"],
		Status:    statusLabel(run.Status),
		StartTime: run.StartTime,
		Steps:     len(run.Steps),
	}
	if !run.EndTime.IsZero() {
		row.Duration = run.Duration()
	}

	for _, s := range run.Steps {
		switch s.Status {
		case domain.StepDegraded:
			row.DegradedSteps++
		case domain.StepFailed:
			row.FailedSteps++
			if strings.HasPrefix(s.Name, "load_") {
				row.FailedLoads++
			}
			if row.FirstError == "" && s.Error != "" {
				row.FirstError = s.Error
			}
		}
		if s.Status != domain.StepOK {
			continue
		}
		switch {
		case strings.HasPrefix(s.Name, "write_"):
			row.RowsWritten += s.Rows
		case strings.HasPrefix(s.Name, "load_"):
			row.RowsLoaded += s.Rows
		}
	}
	return row
}

// statusLabel names the zero status of a record whose terminal update
// has not landed yet.
func statusLabel(s domain.RunStatus) string {
	if s == "" {
		return "RUNNING"
	}
	return string(s)
}

func slowestRuns(rows []RunRow) []RunRow {
	var done []RunRow
	for _, r := range rows {
		if r.Duration > 0 {
			done = append(done, r)
		}
	}
	sort.Slice(done, func(i, j int) bool {
		if done[i].Duration != done[j].Duration {
			return done[i].Duration > done[j].Duration
		}
		return done[i].RunID > done[j].RunID
	})
	if len(done) > slowestCap {
		done = done[:slowestCap]
	}
	return done
}

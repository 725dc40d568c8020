package report

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders the digest as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Operations Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Runs considered: %d\n\n", r.RunsListed))

	sb.WriteString("## Totals\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Runs | %d |\n", r.Totals.Runs))
	sb.WriteString(fmt.Sprintf("| Succeeded | %d |\n", r.Totals.Succeeded))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", r.Totals.Failed))
	sb.WriteString(fmt.Sprintf("| Skipped (idempotent) | %d |\n", r.Totals.Skipped))
	sb.WriteString(fmt.Sprintf("| In flight | %d |\n", r.Totals.InFlight))
	sb.WriteString(fmt.Sprintf("| Rows written | %d |\n", r.Totals.RowsWritten))
	sb.WriteString(fmt.Sprintf("| Rows loaded | %d |\n", r.Totals.RowsLoaded))
	sb.WriteString("\n")

	sb.WriteString("## Pipelines\n\n")
	if len(r.Pipelines) > 0 {
		sb.WriteString("| Pipeline | Runs | Success | Failed | Skipped | Degraded Steps | Failed Loads | Rows Written | Avg Duration | Last Status |\n")
		sb.WriteString("|----------|------|---------|--------|---------|----------------|--------------|--------------|--------------|-------------|\n")
		for _, p := range r.Pipelines {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %d | %d | %d | %s | %s |\n",
				p.Pipeline, p.Runs, p.Succeeded, p.Failed, p.Skipped,
				p.DegradedSteps, p.FailedLoads, p.RowsWritten,
				fmtDuration(p.AvgDuration), p.LastStatus))
		}
	} else {
		sb.WriteString("No runs recorded.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Slowest Runs\n\n")
	if len(r.Slowest) > 0 {
		sb.WriteString("| Run | Pipeline | Date | Status | Duration |\n")
		sb.WriteString("|-----|----------|------|--------|----------|\n")
		for _, row := range r.Slowest {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				row.RunID, row.Pipeline, row.Date, row.Status, fmtDuration(row.Duration)))
		}
	} else {
		sb.WriteString("No completed runs in the window.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Recent Runs\n\n")
	if len(r.Runs) > 0 {
		sb.WriteString("| Run | Pipeline | Date | Status | Duration | Steps | Degraded | Failed | Rows Written | Rows Loaded |\n")
		sb.WriteString("|-----|----------|------|--------|----------|-------|----------|--------|--------------|-------------|\n")
		for _, row := range r.Runs {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %d | %d | %d | %d | %d |\n",
				row.RunID, row.Pipeline, row.Date, row.Status, fmtDuration(row.Duration),
				row.Steps, row.DegradedSteps, row.FailedSteps, row.RowsWritten, row.RowsLoaded))
		}
	} else {
		sb.WriteString("No runs recorded.\n")
	}
	sb.WriteString("\n")

	// Failure detail stays out of the table so long errors keep their
	// shape.
	var failures []RunRow
	for _, row := range r.Runs {
		if row.FirstError != "" {
			failures = append(failures, row)
		}
	}
	if len(failures) > 0 {
		sb.WriteString("### Failures\n\n")
		for _, row := range failures {
			sb.WriteString(fmt.Sprintf("- %s %s %s: %s\n", row.RunID, row.Pipeline, row.Date, row.FirstError))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Breakers\n\n")
	if len(r.Breakers) > 0 {
		sb.WriteString("| Source | State | Consecutive Failures | Threshold |\n")
		sb.WriteString("|--------|-------|----------------------|-----------|\n")
		for _, b := range r.Breakers {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d |\n",
				b.Name, b.State, b.ConsecutiveFailures, b.FailureThreshold))
		}
	} else {
		sb.WriteString("No breakers registered.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func fmtDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

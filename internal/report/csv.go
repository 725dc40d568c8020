package report

import (
	"fmt"
	"strings"
	"time"
)

// RenderCSV renders the per-run table as a CSV string, newest run
// first.
func RenderCSV(rows []RunRow) string {
	var sb strings.Builder

	sb.WriteString("run_id,pipeline,date,status,start_time,duration_ms,steps,")
	sb.WriteString("degraded_steps,failed_steps,failed_loads,rows_written,rows_loaded\n")

	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%d,%d,%d,%d,%d,%d,%d\n",
			r.RunID,
			r.Pipeline,
			r.Date,
			r.Status,
			r.StartTime.UTC().Format(time.RFC3339),
			r.Duration.Milliseconds(),
			r.Steps,
			r.DegradedSteps,
			r.FailedSteps,
			r.FailedLoads,
			r.RowsWritten,
			r.RowsLoaded,
		))
	}

	return sb.String()
}

package lake

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/schema"
	"marketlake/internal/validate"
)

// Default Hive partition column set. Every normalized dataset carries
// these derived from its event date.
var DefaultPartitionCols = []string{"year", "month", "day"}

// WriteOptions controls one keyed write.
type WriteOptions struct {
	// Key identifies this write for idempotency. Date-keyed pipelines
	// use the ISO date, optionally suffixed for sub-partitioned
	// datasets, e.g. "2024-01-15.block".
	Key string

	// PartitionCols overrides the Hive partition column set. Empty
	// means year/month/day.
	PartitionCols []string

	// Compression picks the parquet codec: snappy (default), gzip or
	// zstd.
	Compression string

	// Engine runs pre-write validation when set.
	Engine *validate.Engine

	// FailOnValidationErrors aborts the write when validation finds
	// critical violations. When false, critical rows are quarantined
	// and the valid remainder is written.
	FailOnValidationErrors bool

	// QuarantineDir overrides where critical rows land. Empty means
	// <base>/<dataset>/_quarantine.
	QuarantineDir string

	// Overwrite rewrites partitions whose marker is already complete.
	// Refresh flows over slowly changing reference data use it; date
	// ingestion never does.
	Overwrite bool

	// Metadata is copied onto every marker this write records.
	Metadata map[string]string
}

// WriteResult reports what one keyed write did.
type WriteResult struct {
	// OutputPath is the first data file written, or the existing file's
	// partition directory when everything was skipped.
	OutputPath string
	// Paths lists every data file written.
	Paths []string
	// Rows counts rows written to data files.
	Rows int64
	// SkippedPartitions counts partition directories left untouched
	// because their marker was already complete.
	SkippedPartitions int
	// Quarantined counts rows diverted to the quarantine file.
	Quarantined int64
	// QuarantinePath is the quarantine file, when any row was diverted.
	QuarantinePath string
	// Validation holds the pre-write validation outcome, when enabled.
	Validation *validate.Result
}

// Writer persists frames as Hive-partitioned parquet files with
// completion markers.
type Writer struct {
	Base    string
	Markers Markers
	Log     zerolog.Logger
}

// NewWriter builds a writer rooted at base.
func NewWriter(base string, log zerolog.Logger) *Writer {
	return &Writer{Base: base, Log: log.With().Str("component", "lake").Logger()}
}

// DatasetDir returns the root directory of a dataset, layer included.
func (w *Writer) DatasetDir(dataset string) string {
	return filepath.Join(w.Base, schema.Layer(dataset), dataset)
}

// PartitionDir returns the Hive directory for a dataset date partition.
func (w *Writer) PartitionDir(dataset string, year, month, day int) string {
	return filepath.Join(w.DatasetDir(dataset),
		fmt.Sprintf("year=%d", year),
		fmt.Sprintf("month=%02d", month),
		fmt.Sprintf("day=%02d", day))
}

// Write persists one frame under its dataset, one file per partition.
// Partitions whose marker is already complete are skipped unless
// Overwrite is set. With a validation engine set, critical rows are
// quarantined and, depending
// on FailOnValidationErrors, either abort the write or are dropped from
// the written output.
func (w *Writer) Write(ctx context.Context, f *frame.Frame, opts WriteOptions) (*WriteResult, error) {
	if f == nil || f.Schema.Name == "" {
		return nil, errs.Errorf(errs.KindValidation, "write: frame has no schema")
	}
	if opts.Key == "" {
		return nil, errs.Errorf(errs.KindValidation, "write: empty idempotency key")
	}
	if _, err := codecFor(opts.Compression); err != nil {
		return nil, err
	}
	partitionCols := opts.PartitionCols
	if len(partitionCols) == 0 {
		partitionCols = DefaultPartitionCols
	}

	dataset := f.Schema.Name
	result := &WriteResult{}
	rows := f.Rows

	if opts.Engine != nil {
		res := opts.Engine.Run(f)
		result.Validation = res
		if res.Warnings > 0 {
			w.Log.Warn().Str("dataset", dataset).Str("key", opts.Key).
				Int("warnings", res.Warnings).Msg("validation warnings")
		}
		if res.HasCritical() {
			qPath, kept, err := w.quarantine(f, res, opts)
			if err != nil {
				return nil, err
			}
			result.QuarantinePath = qPath
			result.Quarantined = int64(len(res.CriticalRows()))
			w.Log.Error().Str("dataset", dataset).Str("key", opts.Key).
				Int("critical_failures", res.CriticalFailures).
				Int64("quarantined_rows", result.Quarantined).
				Str("quarantine_path", qPath).Msg("validation failed")
			if opts.FailOnValidationErrors {
				return result, opts.Engine.Error(dataset, res)
			}
			rows = kept
		}
	}

	for i, r := range rows {
		if err := f.CheckRow(r); err != nil {
			return result, errs.Errorf(errs.KindValidation, "write %s row %d: %w", dataset, i, err)
		}
	}

	groups, err := groupByPartition(f.Schema, rows, partitionCols)
	if err != nil {
		return result, err
	}

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return result, errs.E(errs.KindData, err)
		}
		dir := filepath.Join(w.DatasetDir(dataset), g.path)
		if !opts.Overwrite && w.Markers.IsComplete(dir, opts.Key) {
			result.SkippedPartitions++
			if result.OutputPath == "" {
				result.OutputPath = dir
			}
			w.Log.Debug().Str("dataset", dataset).Str("key", opts.Key).
				Str("partition", g.path).Bool("idempotent_skip", true).
				Msg("partition already written")
			continue
		}

		path := filepath.Join(dir, DataFileName(opts.Key, opts.Compression))
		bytes, err := writeParquetFile(path, f.Schema, g.rows, opts.Compression)
		if err != nil {
			return result, fmt.Errorf("write %s partition %s: %w", dataset, g.path, err)
		}
		meta := FileMeta{
			Path:    filepath.Base(path),
			Rows:    int64(len(g.rows)),
			Bytes:   bytes,
			Columns: computeStats(f.Schema, g.rows),
		}
		if err := updateDirMetadata(dir, dataset, meta); err != nil {
			return result, err
		}
		if err := w.Markers.RecordComplete(dir, opts.Key, int64(len(g.rows)), opts.Metadata); err != nil {
			return result, err
		}

		result.Paths = append(result.Paths, path)
		result.Rows += int64(len(g.rows))
		if result.OutputPath == "" {
			result.OutputPath = path
		}
		w.Log.Info().Str("dataset", dataset).Str("key", opts.Key).
			Str("path", path).Int("rows", len(g.rows)).Int64("bytes", bytes).
			Msg("partition written")
	}

	if len(groups) > 0 {
		if err := writeCommonMetadata(w.DatasetDir(dataset), f.Schema); err != nil {
			return result, err
		}
	}
	return result, nil
}

// quarantine writes the critical rows with their violation messages to
// a sibling parquet file and returns the surviving rows.
func (w *Writer) quarantine(f *frame.Frame, res *validate.Result, opts WriteOptions) (string, []frame.Row, error) {
	dir := opts.QuarantineDir
	if dir == "" {
		dir = filepath.Join(w.DatasetDir(f.Schema.Name), "_quarantine")
	}

	critical := make(map[int]bool, len(res.CriticalRows()))
	for _, idx := range res.CriticalRows() {
		critical[idx] = true
	}
	messages := res.RowMessages()

	qSchema := quarantineSchema(f.Schema)
	qRows := make([]frame.Row, 0, len(critical))
	kept := make([]frame.Row, 0, len(f.Rows)-len(critical))
	for i, r := range f.Rows {
		if !critical[i] {
			kept = append(kept, r)
			continue
		}
		q := make(frame.Row, len(r)+2)
		for k, v := range r {
			q[k] = v
		}
		q["validation_errors"] = messages[i]
		q["schema_name"] = f.Schema.Name
		qRows = append(qRows, q)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.quarantine.parquet", opts.Key))
	if _, err := writeParquetFile(path, qSchema, qRows, opts.Compression); err != nil {
		return "", nil, fmt.Errorf("write quarantine: %w", err)
	}
	return path, kept, nil
}

// quarantineSchema relaxes every column to nullable and appends the
// diagnostic columns.
func quarantineSchema(s schema.Schema) schema.Schema {
	fields := make([]schema.Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Nullable = true
		fields[i] = f
	}
	relaxed := schema.Schema{Name: s.Name, Fields: fields}
	return relaxed.WithFields(
		schema.Field{Name: "validation_errors", Kind: schema.String},
		schema.Field{Name: "schema_name", Kind: schema.String},
	)
}

type partitionGroup struct {
	path string
	rows []frame.Row
}

// groupByPartition splits rows into per-partition groups, preserving
// first-occurrence order of partitions and row order within each.
func groupByPartition(s schema.Schema, rows []frame.Row, cols []string) ([]partitionGroup, error) {
	var order []string
	byPath := make(map[string][]frame.Row)

	for i, r := range rows {
		parts := make([]string, len(cols))
		for j, col := range cols {
			v, ok := r[col]
			if !ok || v == nil {
				return nil, errs.Errorf(errs.KindValidation,
					"row %d: missing partition column %q", i, col)
			}
			parts[j] = fmt.Sprintf("%s=%s", col, partitionValue(col, v))
		}
		p := filepath.Join(parts...)
		if _, seen := byPath[p]; !seen {
			order = append(order, p)
		}
		byPath[p] = append(byPath[p], r)
	}

	groups := make([]partitionGroup, len(order))
	for i, p := range order {
		groups[i] = partitionGroup{path: p, rows: byPath[p]}
	}
	return groups, nil
}

// partitionValue renders one partition path component. Month and day
// are zero padded so date partitions sort lexically.
func partitionValue(col string, v any) string {
	switch n := v.(type) {
	case int64:
		if col == "month" || col == "day" {
			return fmt.Sprintf("%02d", n)
		}
		return fmt.Sprintf("%d", n)
	case string:
		return n
	case float64:
		return fmt.Sprintf("%v", n)
	case bool:
		return fmt.Sprintf("%t", n)
	default:
		return fmt.Sprintf("%v", n)
	}
}

// DataFileName builds the deterministic data file name for a keyed
// write. Re-running the same key overwrites the same file instead of
// accumulating duplicates.
func DataFileName(key, compression string) string {
	if compression == "" {
		compression = CompressionSnappy
	}
	safe := strings.ReplaceAll(key, string(filepath.Separator), "_")
	return fmt.Sprintf("part-%s-00000.%s.parquet", safe, compression)
}

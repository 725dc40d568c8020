package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/lake"
	"marketlake/internal/observability"
	"marketlake/internal/schema"
)

// DefaultBatchSize is the number of rows per INSERT batch.
const DefaultBatchSize = 100_000

// Loader bulk-inserts frames into warehouse tables.
type Loader struct {
	Conn        *Conn
	BatchSize   int
	MaxAttempts int
	Interval    time.Duration
	Log         zerolog.Logger
	Metrics     *observability.Metrics
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithBatchSize overrides the rows-per-batch default.
func WithBatchSize(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.BatchSize = n
		}
	}
}

// WithLoadAttempts sets how many times a failed batch insert is tried.
func WithLoadAttempts(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.MaxAttempts = n
		}
	}
}

// WithLoadMetrics attaches load counters.
func WithLoadMetrics(m *observability.Metrics) LoaderOption {
	return func(l *Loader) { l.Metrics = m }
}

// NewLoader builds a loader with production defaults.
func NewLoader(conn *Conn, log zerolog.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		Conn:        conn,
		BatchSize:   DefaultBatchSize,
		MaxAttempts: 3,
		Interval:    time.Second,
		Log:         log,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LoadResult summarizes one completed load.
type LoadResult struct {
	Table    string
	Rows     int64
	Batches  int
	Duration time.Duration
}

// colPlan is one column of the INSERT list: either a coercing read of a
// frame column or a pre-coerced constant.
type colPlan struct {
	name     string
	typ      ColumnType
	frameCol string
	constant any
	isConst  bool
}

// buildPlan aligns the table's introspected columns with the mapping
// and the frame schema. Columns with defaults or nullable columns that
// the mapping does not cover are omitted from the INSERT list; required
// columns without a value fail, all of them listed.
func buildPlan(cols []Column, m TableMapping, s schema.Schema) ([]colPlan, error) {
	var plan []colPlan
	var missing []string
	for _, col := range cols {
		if cv, ok := m.Constants[col.Name]; ok {
			coerced, err := Coerce(cv, col.Type)
			if err != nil {
				return nil, fmt.Errorf("constant for %s.%s: %w", m.Table, col.Name, err)
			}
			plan = append(plan, colPlan{name: col.Name, typ: col.Type, constant: coerced, isConst: true})
			continue
		}
		if fc, ok := m.Columns[col.Name]; ok {
			if !s.Has(fc) {
				missing = append(missing, fmt.Sprintf("%s (frame column %s)", col.Name, fc))
				continue
			}
			plan = append(plan, colPlan{name: col.Name, typ: col.Type, frameCol: fc})
			continue
		}
		if col.HasDefault || col.Type.Nullable {
			continue
		}
		missing = append(missing, col.Name)
	}
	if len(missing) > 0 {
		return nil, errs.Errorf(errs.KindIntegration,
			"table %s: no value for required columns: %s", m.Table, strings.Join(missing, ", "))
	}
	if len(plan) == 0 {
		return nil, errs.Errorf(errs.KindIntegration, "table %s: empty insert plan", m.Table)
	}
	return plan, nil
}

// Load inserts every frame row into the table. The frame's dataset name
// selects the column mapping. Batches retry with linear backoff on
// transient errors; the context is checked between batches, never
// mid-batch.
func (l *Loader) Load(ctx context.Context, f *frame.Frame, table string) (*LoadResult, error) {
	start := time.Now()
	res := &LoadResult{Table: table}
	if f == nil || len(f.Rows) == 0 {
		return res, nil
	}

	m, ok := MappingFor(table, f.Schema.Name)
	if !ok {
		return nil, errs.Errorf(errs.KindIntegration,
			"no column mapping loads dataset %s into table %s", f.Schema.Name, table)
	}
	cols, err := TableColumns(ctx, l.Conn, table)
	if err != nil {
		return nil, err
	}
	plan, err := buildPlan(cols, m, f.Schema)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(plan))
	for i, p := range plan {
		names[i] = p.name
	}
	query := fmt.Sprintf("INSERT INTO %s (%s)", table, strings.Join(names, ", "))

	batchSize := l.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for offset := 0; offset < len(f.Rows); offset += batchSize {
		if err := ctx.Err(); err != nil {
			return res, errs.E(errs.KindIntegration, err)
		}
		end := min(offset+batchSize, len(f.Rows))
		if err := l.sendBatch(ctx, query, plan, f.Rows[offset:end], offset); err != nil {
			l.Metrics.RecordWarehouseLoad(table, err)
			return res, err
		}
		res.Rows += int64(end - offset)
		res.Batches++
	}

	res.Duration = time.Since(start)
	l.Metrics.RecordWarehouseLoad(table, nil)
	l.Log.Info().
		Str("table", table).
		Str("dataset", f.Schema.Name).
		Int64("rows", res.Rows).
		Int("batches", res.Batches).
		Dur("took", res.Duration).
		Msg("warehouse load complete")
	return res, nil
}

// LoadFile reads one lake parquet file and loads it.
func (l *Loader) LoadFile(ctx context.Context, path, table, dataset string) (*LoadResult, error) {
	s, ok := schema.ByName(dataset)
	if !ok {
		return nil, errs.Errorf(errs.KindValidation, "unknown dataset %q", dataset)
	}
	f, err := lake.ReadParquet(path, s)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, f, table)
}

// sendBatch inserts one slice of rows, retrying transient failures with
// linear backoff. Each attempt prepares a fresh batch.
func (l *Loader) sendBatch(ctx context.Context, query string, plan []colPlan, rows []frame.Row, offset int) error {
	attempts := l.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	interval := l.Interval
	if interval <= 0 {
		interval = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = l.trySendBatch(ctx, query, plan, rows, offset)
		if lastErr == nil {
			return nil
		}
		if !errs.Retryable(lastErr) || attempt == attempts {
			break
		}
		wait := time.Duration(attempt) * interval
		l.Log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("batch insert failed, retrying")
		select {
		case <-ctx.Done():
			return errs.E(errs.KindIntegration, ctx.Err())
		case <-time.After(wait):
		}
	}
	return lastErr
}

func (l *Loader) trySendBatch(ctx context.Context, query string, plan []colPlan, rows []frame.Row, offset int) error {
	batch, err := l.Conn.PrepareBatch(ctx, query)
	if err != nil {
		return errs.E(errs.KindIntegration, fmt.Errorf("prepare batch: %w", err))
	}
	values := make([]any, len(plan))
	for i, row := range rows {
		for j, p := range plan {
			if p.isConst {
				values[j] = p.constant
				continue
			}
			v, err := Coerce(row[p.frameCol], p.typ)
			if err != nil {
				_ = batch.Abort()
				return fmt.Errorf("row %d column %s: %w", offset+i, p.name, err)
			}
			values[j] = v
		}
		if err := batch.Append(values...); err != nil {
			_ = batch.Abort()
			return errs.E(errs.KindIntegration, fmt.Errorf("append row %d: %w", offset+i, err))
		}
	}
	if err := batch.Send(); err != nil {
		return errs.E(errs.KindIntegration, fmt.Errorf("send batch: %w", err))
	}
	return nil
}

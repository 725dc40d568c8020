// Package pipeline composes fetch, parse, validate, write and load
// into named flows and runs them under a shared error policy: fetches
// go through breaker and retry, a 404 completes the date with a
// zero-row marker, lake writes are idempotent per (partition, key),
// and the warehouse load is best-effort relative to the lake write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketlake/internal/config"
	"marketlake/internal/dedup"
	"marketlake/internal/domain"
	"marketlake/internal/errs"
	"marketlake/internal/fetch"
	"marketlake/internal/frame"
	"marketlake/internal/lake"
	"marketlake/internal/observability"
	"marketlake/internal/parse"
	"marketlake/internal/refdata"
	"marketlake/internal/resilience"
	"marketlake/internal/runlog"
	"marketlake/internal/validate"
	"marketlake/internal/warehouse"
)

// Pipeline is one named flow over one run date.
type Pipeline interface {
	Name() string
	Run(ctx context.Context, rc *Run) error
}

// Loader bulk-inserts frames into warehouse tables.
// *warehouse.Loader implements it.
type Loader interface {
	Load(ctx context.Context, f *frame.Frame, table string) (*warehouse.LoadResult, error)
}

// Deps carries the collaborators shared by every run. Loader may be
// nil when no warehouse is reachable; load steps are then skipped
// instead of failing the flow. Runs may be nil when run records are
// not persisted.
type Deps struct {
	Config   *config.Config
	Fetcher  fetch.Fetcher
	Breakers *resilience.Registry
	Retryer  *resilience.Retryer
	Writer   *lake.Writer
	Loader   Loader
	Engine   *validate.Engine
	Metrics  *observability.Metrics
	Runs     runlog.Store
	Log      zerolog.Logger

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock()
}

func (d *Deps) poolSize() int {
	if d.Config == nil || d.Config.PoolSize <= 0 {
		return 4
	}
	return d.Config.PoolSize
}

// Runner executes registered pipelines and turns each execution into a
// PipelineRun record.
type Runner struct {
	deps   Deps
	byName map[string]Pipeline
	order  []string
}

// NewRunner registers the given pipelines. Names must be unique.
func NewRunner(deps Deps, pipelines ...Pipeline) *Runner {
	r := &Runner{deps: deps, byName: make(map[string]Pipeline, len(pipelines))}
	for _, p := range pipelines {
		if _, dup := r.byName[p.Name()]; dup {
			panic(fmt.Sprintf("pipeline: duplicate pipeline %q", p.Name()))
		}
		r.byName[p.Name()] = p
		r.order = append(r.order, p.Name())
	}
	return r
}

// Names lists the registered pipelines in registration order.
func (r *Runner) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether a pipeline is registered.
func (r *Runner) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Execute runs one pipeline for one ISO date under the run deadline.
// The returned record is always non-nil for a known pipeline; its
// status and step metrics describe what happened. The error is the
// fatal error when the run failed.
func (r *Runner) Execute(ctx context.Context, name, date string) (*domain.PipelineRun, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, errs.Errorf(errs.KindValidation, "unknown pipeline %q", name)
	}
	if _, err := domain.ParseISODate(date); err != nil {
		return nil, errs.E(errs.KindValidation, err)
	}

	deadline := 30 * time.Minute
	if r.deps.Config != nil && r.deps.Config.RunDeadline.Std() > 0 {
		deadline = r.deps.Config.RunDeadline.Std()
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	run := &domain.PipelineRun{
		RunID:      uuid.NewString(),
		Pipeline:   name,
		Parameters: map[string]string{"date": date},
		StartTime:  r.deps.now().UTC(),
	}
	log := r.deps.Log.With().
		Str("component", "pipeline").
		Str("flow", name).
		Str("run_id", run.RunID).
		Str("date", date).
		Logger()

	rc := &Run{Date: date, flow: name, deps: &r.deps, run: run, log: log}

	log.Info().Msg("run started")
	if r.deps.Runs != nil {
		// Best effort: the run proceeds even when its record cannot be
		// persisted.
		if ierr := r.deps.Runs.Insert(ctx, run); ierr != nil {
			log.Warn().Err(ierr).Msg("run record insert failed")
		}
	}
	err := p.Run(ctx, rc)
	if err == nil && len(rc.loadErrs) > 0 {
		// Lake output is committed; surface the warehouse failure as
		// the run error without undoing anything.
		err = errors.Join(rc.loadErrs...)
	}
	run.EndTime = r.deps.now().UTC()

	status := "success"
	switch {
	case err != nil:
		run.Status = domain.RunFailed
		status = "failed"
		log.Error().Err(err).Dur("duration", run.Duration()).Msg("run failed")
	case rc.skipped:
		run.Status = domain.RunSkippedIdempotent
		status = "skipped"
		log.Info().Bool("idempotent_skip", true).Msg("run already complete")
	default:
		run.Status = domain.RunSuccess
		log.Info().
			Dur("duration", run.Duration()).
			Int64("rows", run.TotalRows()).
			Msg("run finished")
	}
	r.deps.Metrics.RecordFlow(name, status, run.Duration().Seconds())
	if r.deps.Runs != nil {
		// The run context may already be past its deadline; the terminal
		// status must still land.
		if uerr := r.deps.Runs.Update(context.WithoutCancel(ctx), run); uerr != nil {
			log.Warn().Err(uerr).Msg("run record update failed")
		}
	}
	return run, err
}

// Run is the mutable state of one pipeline execution. Its helpers
// apply the shared step policy and record a StepMetric per step.
type Run struct {
	// Date is the ISO run date parameter.
	Date string

	flow     string
	deps     *Deps
	log      zerolog.Logger
	run      *domain.PipelineRun
	skipped  bool
	loadErrs []error

	mu      sync.Mutex
	sources map[string]config.SourceConfig
}

// Log returns the run-scoped logger.
func (rc *Run) Log() zerolog.Logger { return rc.log }

func (rc *Run) record(m domain.StepMetric) {
	rc.mu.Lock()
	rc.run.Steps = append(rc.run.Steps, m)
	rc.mu.Unlock()

	ev := rc.log.Info()
	if m.Status == domain.StepFailed {
		ev = rc.log.Error()
	}
	ev.Str("step", m.Name).
		Str("status", m.Status).
		Int64("rows", m.Rows).
		Int64("duration_ms", m.DurationMs).
		Msg("step finished")
}

func stepSkippedMetric(name, reason string) domain.StepMetric {
	return domain.StepMetric{Name: name, Status: domain.StepSkipped, Error: reason}
}

// step times fn and records its outcome. The returned error is fn's
// error, so callers can propagate or tolerate it.
func (rc *Run) step(name string, fn func() (int64, error)) error {
	start := rc.deps.now()
	rows, err := fn()
	m := domain.StepMetric{
		Name:       name,
		Rows:       rows,
		DurationMs: rc.deps.now().Sub(start).Milliseconds(),
		Status:     domain.StepOK,
	}
	if err != nil {
		m.Status = domain.StepFailed
		m.Error = err.Error()
	}
	rc.record(m)
	return err
}

// meta builds the parse metadata for this run.
func (rc *Run) meta(sc config.SourceConfig) parse.Meta {
	return parse.Meta{
		TradeDate:     rc.Date,
		SchemaVersion: sc.SchemaVersion,
		Now:           rc.deps.Clock,
	}
}

// skipIfComplete short-circuits the run when every keyed marker in the
// date partition of the dataset is already complete. The 404 path
// records the same markers, so holidays skip as cleanly as successes.
func (rc *Run) skipIfComplete(dataset string, keys ...string) bool {
	year, month, day, err := domain.Partition(rc.Date)
	if err != nil {
		return false
	}
	dir := rc.deps.Writer.PartitionDir(dataset, year, month, day)
	return rc.skipIfCompleteDir(dir, dataset, keys...)
}

// keyComplete reports whether one key in the run date's partition is
// already complete, without marking the run as skipped. Flows with
// several independent keys use it to avoid refetching finished parts.
func (rc *Run) keyComplete(dataset, key string) bool {
	year, month, day, err := domain.Partition(rc.Date)
	if err != nil {
		return false
	}
	dir := rc.deps.Writer.PartitionDir(dataset, year, month, day)
	return rc.deps.Writer.Markers.IsComplete(dir, key)
}

// skipIfCompleteDir is skipIfComplete for datasets partitioned by
// something other than the run date.
func (rc *Run) skipIfCompleteDir(dir, dataset string, keys ...string) bool {
	for _, key := range keys {
		if !rc.deps.Writer.Markers.IsComplete(dir, key) {
			return false
		}
	}
	rc.skipped = true
	rc.log.Info().
		Str("dataset", dataset).
		Strs("keys", keys).
		Bool("idempotent_skip", true).
		Msg("markers complete, nothing to do")
	return true
}

// Parse runs the parser over a fetched body, recording parsed and
// dropped row counts. Schema drift and malformed payloads are fatal.
func (rc *Run) Parse(src string, p parse.Parser, body []byte) (*parse.Result, error) {
	sc, err := rc.source(src)
	if err != nil {
		return nil, err
	}
	var res *parse.Result
	stepErr := rc.step("parse_"+src, func() (int64, error) {
		r, err := p.Parse(body, rc.meta(sc))
		if err != nil {
			return 0, err
		}
		res = r
		rc.deps.Metrics.RecordRowsParsed(string(p.Source()), "ok", int64(r.Frame.Len()))
		if r.Dropped > 0 {
			rc.deps.Metrics.RecordRowsParsed(string(p.Source()), "dropped", int64(r.Dropped))
		}
		return int64(r.Frame.Len()), nil
	})
	if stepErr != nil {
		return nil, stepErr
	}
	return res, nil
}

// Enrich fills instrument identity on equity bars from the most recent
// symbol master in the lake. Without a master the step is skipped; a
// bar that still has no match keeps a null instrument_id.
func (rc *Run) Enrich(f *frame.Frame) {
	_ = rc.step("enrich", func() (int64, error) {
		ix := rc.masterIndex()
		if ix == nil {
			return 0, nil
		}
		st := refdata.Enrich(f, ix)
		if st.Missed > 0 {
			rc.log.Warn().
				Int("missed", st.Missed).
				Int("enriched", st.Enriched).
				Msg("bars without master match keep null instrument_id")
		}
		return int64(st.Enriched), nil
	})
}

// Write persists a frame under the run's idempotency key with
// validation and quarantine per the daemon config. An empty frame
// records a zero-row marker so re-runs skip.
func (rc *Run) Write(ctx context.Context, f *frame.Frame, key string) (*lake.WriteResult, error) {
	return rc.write(ctx, f, lake.WriteOptions{
		Key:                    key,
		Compression:            rc.deps.Config.Writer.Compression,
		Engine:                 rc.deps.Engine,
		FailOnValidationErrors: rc.deps.Config.Validation.FailOnErrors,
		QuarantineDir:          rc.deps.Config.QuarantineDir,
	})
}

// WriteRaw persists a source-native frame without validation. Raw
// layer rows are preserved as parsed.
func (rc *Run) WriteRaw(ctx context.Context, f *frame.Frame, key string) (*lake.WriteResult, error) {
	return rc.write(ctx, f, lake.WriteOptions{
		Key:         key,
		Compression: rc.deps.Config.Writer.Compression,
	})
}

// WriteWith persists a frame with caller-controlled options, for
// datasets that partition by something other than the trade date.
func (rc *Run) WriteWith(ctx context.Context, f *frame.Frame, opts lake.WriteOptions) (*lake.WriteResult, error) {
	return rc.write(ctx, f, opts)
}

func (rc *Run) write(ctx context.Context, f *frame.Frame, opts lake.WriteOptions) (*lake.WriteResult, error) {
	dataset := ""
	if f != nil {
		dataset = f.Schema.Name
	}
	if opts.Metadata == nil {
		opts.Metadata = map[string]string{}
	}
	opts.Metadata["pipeline"] = rc.flow
	opts.Metadata["run_id"] = rc.run.RunID
	opts.Metadata["run_date"] = rc.Date

	if f != nil && f.Len() == 0 {
		if err := rc.SkipMissing(dataset, opts.Key, skipNoRows); err != nil {
			return nil, err
		}
		return &lake.WriteResult{}, nil
	}

	var res *lake.WriteResult
	stepErr := rc.step("write_"+dataset, func() (int64, error) {
		r, err := rc.deps.Writer.Write(ctx, f, opts)
		rc.deps.Metrics.RecordParquetWrite(dataset, err)
		if err != nil {
			return 0, err
		}
		res = r
		return r.Rows, nil
	})
	if stepErr != nil {
		return res, stepErr
	}
	return res, nil
}

// SkipMissing completes a key with a zero-row marker in the run date's
// partition. Used when the source published nothing for the date, so
// the next run short-circuits instead of refetching.
func (rc *Run) SkipMissing(dataset, key, reason string) error {
	year, month, day, err := domain.Partition(rc.Date)
	if err != nil {
		return errs.E(errs.KindValidation, err)
	}
	dir := rc.deps.Writer.PartitionDir(dataset, year, month, day)
	return rc.skipMissingDir(dir, dataset, key, reason)
}

// skipMissingDir is SkipMissing for datasets partitioned by something
// other than the run date.
func (rc *Run) skipMissingDir(dir, dataset, key, reason string) error {
	return rc.step("write_"+dataset, func() (int64, error) {
		md := map[string]string{
			"skipped":  reason,
			"pipeline": rc.flow,
			"run_id":   rc.run.RunID,
			"run_date": rc.Date,
		}
		if err := rc.deps.Writer.Markers.RecordComplete(dir, key, 0, md); err != nil {
			return 0, err
		}
		rc.log.Info().
			Str("dataset", dataset).
			Str("key", key).
			Str("reason", reason).
			Msg("zero-row marker recorded")
		return 0, nil
	})
}

// Load bulk-inserts a frame into the warehouse table mapped to its
// dataset. A load failure is recorded and surfaced as the run error
// but never undoes the lake write; with no loader configured the step
// is skipped.
func (rc *Run) Load(ctx context.Context, f *frame.Frame) {
	if f == nil || f.Len() == 0 {
		return
	}
	dataset := f.Schema.Name
	table, ok := warehouse.TableForDataset(dataset)
	if !ok {
		rc.log.Debug().Str("dataset", dataset).Msg("dataset has no warehouse table")
		return
	}
	if rc.deps.Loader == nil {
		rc.record(domain.StepMetric{
			Name:   "load_" + table,
			Status: domain.StepSkipped,
			Error:  "no warehouse configured",
		})
		return
	}
	err := rc.step("load_"+table, func() (int64, error) {
		res, err := rc.deps.Loader.Load(ctx, f, table)
		if err != nil {
			return 0, err
		}
		return res.Rows, nil
	})
	if err != nil {
		rc.mu.Lock()
		rc.loadErrs = append(rc.loadErrs, fmt.Errorf("load %s: %w", table, err))
		rc.mu.Unlock()
	}
}

// Dedup merges per-source frames by business key, preferring sources
// in the given order.
func (rc *Run) Dedup(bySource map[string]*frame.Frame, preference []string, key string) (*frame.Frame, error) {
	var out *frame.Frame
	err := rc.step("dedup", func() (int64, error) {
		merged, err := dedup.Deduplicate(bySource, preference, key)
		if err != nil {
			return 0, err
		}
		out = merged
		return int64(merged.Len()), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// All returns one instance of every built-in pipeline.
func All() []Pipeline {
	return []Pipeline{
		EquityDaily{},
		EquityCombined{},
		BulkBlockDeals{},
		IndexConstituents{},
		OptionChainSnapshot{},
		SymbolMaster{},
		CorporateActions{},
		TradingCalendar{},
		QuarterlyFinancials{},
	}
}

// Package sched drives unattended pipeline executions on exchange
// time. Entries are standard cron expressions evaluated in
// Asia/Kolkata regardless of the host timezone, and each trigger
// resolves its own run date against the trading calendar before
// handing off to the pipeline runner.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"marketlake/internal/domain"
	"marketlake/internal/errs"
	"marketlake/internal/pipeline"
)

// cronTZ pins every entry to exchange time. A scheduler in UTC and one
// in IST must fire identically.
const cronTZ = "CRON_TZ=Asia/Kolkata"

// marketClose is the NSE/BSE equity close, in minutes from IST
// midnight. An end-of-day trigger firing earlier cannot see the
// session's files yet.
const marketClose = 15*60 + 30

// ErrAlreadyRunning rejects a trigger for a pipeline that still has an
// active run. The next firing picks up where the slow run left off.
var ErrAlreadyRunning = errors.New("sched: pipeline already running")

// Executor runs one named pipeline for one ISO date.
// *pipeline.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, name, date string) (*domain.PipelineRun, error)
	Has(name string) bool
}

var _ Executor = (*pipeline.Runner)(nil)

// Entry binds one pipeline to one cron spec. Intraday entries run
// against the live session date; end-of-day entries run against the
// latest completed session.
type Entry struct {
	Pipeline string
	Spec     string
	Intraday bool
}

// intradayFlows marks pipelines whose run date is the live session
// even when added through config overrides. The calendar refresh is
// intraday so a January 1st firing targets the new year, not the one
// that just ended.
var intradayFlows = map[string]bool{
	"option_chain":     true,
	"trading_calendar": true,
}

// DefaultEntries is the standing schedule, times in IST. Deals fire
// before the close on purpose: the trigger then resolves to the
// previous session, whose disclosure files are final. Symbol master,
// corporate actions and financials stay trigger-only until a config
// override schedules them.
func DefaultEntries() []Entry {
	return []Entry{
		{Pipeline: "option_chain", Spec: "*/30 9-15 * * MON-FRI", Intraday: true},
		{Pipeline: "bulk_block_deals", Spec: "0 15 * * MON-FRI"},
		{Pipeline: "equity_daily", Spec: "0 18 * * MON-FRI"},
		{Pipeline: "index_constituents", Spec: "0 19 * * *"},
		{Pipeline: "equity_combined", Spec: "0 20 * * MON-FRI"},
		{Pipeline: "trading_calendar", Spec: "0 8 1 1,4,7,10 *", Intraday: true},
	}
}

// Options configures a Scheduler.
type Options struct {
	// Entries, when nil, means DefaultEntries.
	Entries []Entry

	// Overrides maps pipeline names to cron specs, normally from
	// config. An override for a scheduled pipeline replaces its spec,
	// "-" removes the entry, and an override for an unscheduled
	// pipeline adds one.
	Overrides map[string]string

	// Calendar resolves trading days. Nil falls back to weekday checks.
	Calendar TradingDays

	Log zerolog.Logger

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

type scheduledEntry struct {
	Entry
	schedule cron.Schedule
}

// Scheduler fires pipeline runs on their cron entries and serializes
// runs per pipeline. Distinct pipelines run in parallel.
type Scheduler struct {
	exec     Executor
	entries  []scheduledEntry
	calendar TradingDays
	cron     *cron.Cron
	log      zerolog.Logger
	clock    func() time.Time

	mu     sync.Mutex
	active map[string]bool
}

// New validates the merged schedule against the cron grammar and the
// executor's registered pipelines. The scheduler does nothing until
// Start.
func New(exec Executor, opts Options) (*Scheduler, error) {
	defaults := opts.Entries
	if defaults == nil {
		defaults = DefaultEntries()
	}

	s := &Scheduler{
		exec:     exec,
		calendar: opts.Calendar,
		cron:     cron.New(),
		log:      opts.Log.With().Str("component", "sched").Logger(),
		clock:    opts.Clock,
		active:   make(map[string]bool),
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	for _, e := range mergeEntries(defaults, opts.Overrides) {
		if !exec.Has(e.Pipeline) {
			return nil, errs.Errorf(errs.KindValidation, "schedule names unknown pipeline %q", e.Pipeline)
		}
		schedule, err := cron.ParseStandard(pinned(e.Spec))
		if err != nil {
			return nil, errs.Errorf(errs.KindValidation, "schedule for %s: %w", e.Pipeline, err)
		}
		s.entries = append(s.entries, scheduledEntry{Entry: e, schedule: schedule})
	}
	return s, nil
}

// mergeEntries applies config overrides to the default schedule.
// Added pipelines keep end-of-day date resolution unless listed in
// intradayFlows.
func mergeEntries(defaults []Entry, overrides map[string]string) []Entry {
	out := make([]Entry, 0, len(defaults)+len(overrides))
	scheduled := make(map[string]bool, len(defaults))
	for _, e := range defaults {
		scheduled[e.Pipeline] = true
		if spec, ok := overrides[e.Pipeline]; ok {
			if spec == "-" {
				continue
			}
			e.Spec = spec
		}
		out = append(out, e)
	}

	var added []string
	for name, spec := range overrides {
		if !scheduled[name] && spec != "-" {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	for _, name := range added {
		out = append(out, Entry{Pipeline: name, Spec: overrides[name], Intraday: intradayFlows[name]})
	}
	return out
}

// pinned prefixes a spec with the exchange timezone unless the config
// already pinned one.
func pinned(spec string) string {
	if strings.HasPrefix(spec, "CRON_TZ=") || strings.HasPrefix(spec, "TZ=") {
		return spec
	}
	return cronTZ + " " + spec
}

// Start registers the entries and begins firing them. It returns
// immediately.
func (s *Scheduler) Start() {
	for _, e := range s.entries {
		entry := e.Entry
		s.cron.Schedule(e.schedule, cron.FuncJob(func() { s.fire(entry) }))
	}
	s.cron.Start()
	s.log.Info().Int("entries", len(s.entries)).Msg("scheduler started")
}

// Stop prevents further firings and waits for active jobs until the
// context expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire(e Entry) {
	date := s.RunDate(e.Intraday)
	log := s.log.With().Str("pipeline", e.Pipeline).Str("date", date).Logger()

	run, err := s.Trigger(context.Background(), e.Pipeline, date)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		log.Warn().Msg("previous run still active, trigger skipped")
	case err != nil:
		log.Error().Err(err).Msg("scheduled run failed")
	default:
		log.Info().Str("run_id", run.RunID).Str("status", string(run.Status)).
			Msg("scheduled run finished")
	}
}

// Trigger executes one pipeline for one date. A trigger for a pipeline
// with an active run fails with ErrAlreadyRunning instead of queueing.
func (s *Scheduler) Trigger(ctx context.Context, name, date string) (*domain.PipelineRun, error) {
	s.mu.Lock()
	if s.active[name] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	s.active[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, name)
		s.mu.Unlock()
	}()

	return s.exec.Execute(ctx, name, date)
}

// RunDate resolves the data date for a trigger firing now. Intraday
// entries target the live session. End-of-day entries target the
// latest completed session: today once the close has passed on a
// trading day, otherwise the most recent trading day before today.
func (s *Scheduler) RunDate(intraday bool) string {
	t := s.clock().In(domain.IST)
	if intraday {
		return t.Format("2006-01-02")
	}
	if s.isTradingDay(t) && t.Hour()*60+t.Minute() >= marketClose {
		return t.Format("2006-01-02")
	}
	// The exchanges have never been shut two straight weeks; the cap
	// guards against a miswritten calendar that marks every day a
	// holiday.
	for i := 0; i < 14; i++ {
		t = t.AddDate(0, 0, -1)
		if s.isTradingDay(t) {
			break
		}
	}
	return t.Format("2006-01-02")
}

// RunDateFor resolves the default run date for one pipeline, using its
// schedule entry's date mode when it has one and the built-in intraday
// set otherwise, so disabled entries still resolve sensibly.
func (s *Scheduler) RunDateFor(pipeline string) string {
	for _, e := range s.entries {
		if e.Pipeline == pipeline {
			return s.RunDate(e.Intraday)
		}
	}
	return s.RunDate(intradayFlows[pipeline])
}

func (s *Scheduler) isTradingDay(t time.Time) bool {
	if s.calendar != nil {
		if trading, ok := s.calendar.IsTradingDay(t.Format("2006-01-02")); ok {
			return trading
		}
	}
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// PlannedEntry is one schedule line with its next firing.
type PlannedEntry struct {
	Pipeline string    `json:"pipeline"`
	Spec     string    `json:"spec"`
	Intraday bool      `json:"intraday"`
	Next     time.Time `json:"next"`
}

// Plan lists the validated schedule, soonest firing first. Next times
// are reported in IST.
func (s *Scheduler) Plan() []PlannedEntry {
	now := s.clock()
	out := make([]PlannedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, PlannedEntry{
			Pipeline: e.Pipeline,
			Spec:     e.Spec,
			Intraday: e.Intraday,
			Next:     e.schedule.Next(now).In(domain.IST),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// Package validate runs declarative rule sets over frames and collects
// violations. Rules come from three places: a JSON-Schema over the row
// shape, the built-in business rules, and caller-registered custom
// rules.
package validate

import (
	"fmt"
	"sort"
	"time"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/schema"
)

// Severity classifies a violation. Critical rows are quarantine
// candidates; warnings are reported but never block a write.
type Severity string

const (
	Critical Severity = "critical"
	Warning  Severity = "warning"
)

// Detail is one violation. RowIndex is absolute within the full frame
// regardless of the slice size the engine ran with.
type Detail struct {
	RowIndex int      `json:"row_index"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Rule     string   `json:"validator"`
	Severity Severity `json:"severity"`
}

// Result aggregates one validation run.
type Result struct {
	TotalRows        int       `json:"total_rows"`
	ValidRows        int       `json:"valid_rows"`
	CriticalFailures int       `json:"critical_failures"`
	Warnings         int       `json:"warnings"`
	Errors           []Detail  `json:"error_details"`
	RulesApplied     []string  `json:"rules_applied"`
	Timestamp        time.Time `json:"timestamp"`
}

// HasCritical reports whether any critical violation was recorded.
func (r *Result) HasCritical() bool {
	return r.CriticalFailures > 0
}

// CriticalRows returns the sorted distinct row indexes carrying at
// least one critical violation.
func (r *Result) CriticalRows() []int {
	seen := make(map[int]bool)
	for _, d := range r.Errors {
		if d.Severity == Critical {
			seen[d.RowIndex] = true
		}
	}
	rows := make([]int, 0, len(seen))
	for idx := range seen {
		rows = append(rows, idx)
	}
	sort.Ints(rows)
	return rows
}

// RowMessages joins the violation messages per row index, used to fill
// the validation_errors column of quarantined rows.
func (r *Result) RowMessages() map[int]string {
	out := make(map[int]string)
	for _, d := range r.Errors {
		msg := fmt.Sprintf("%s: %s", d.Rule, d.Message)
		if prev, ok := out[d.RowIndex]; ok {
			out[d.RowIndex] = prev + "; " + msg
			continue
		}
		out[d.RowIndex] = msg
	}
	return out
}

// Config carries the run-scoped inputs rules depend on.
type Config struct {
	// MaxPriceChangePct bounds the price_continuity rule. Zero selects
	// the 20% default.
	MaxPriceChangePct float64
	// Now is the rule clock. Zero means time.Now at run start.
	Now time.Time
}

func (c Config) maxPriceChange() float64 {
	if c.MaxPriceChangePct <= 0 {
		return 0.20
	}
	return c.MaxPriceChangePct
}

// Check inspects one row and reports its violations. idx is the row's
// absolute position in the frame.
type Check func(row frame.Row, idx int) []Detail

// Rule is one validation rule. Open returns a fresh per-run checker so
// rules that carry state, such as uniqueness, span slices correctly.
type Rule interface {
	Name() string
	Applies(s schema.Schema) bool
	Open(cfg Config) Check
}

// DefaultSliceSize bounds how many rows are processed per pass.
const DefaultSliceSize = 10000

// Engine runs a rule list over frames.
type Engine struct {
	rules     []Rule
	sliceSize int
	cfg       Config
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSliceSize overrides the streaming slice size.
func WithSliceSize(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.sliceSize = n
		}
	}
}

// WithMaxPriceChangePct overrides the price continuity bound.
func WithMaxPriceChangePct(pct float64) Option {
	return func(e *Engine) { e.cfg.MaxPriceChangePct = pct }
}

// WithClock pins the rule clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRules appends extra rules, typically SchemaRule or CustomRule.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) { e.rules = append(e.rules, rules...) }
}

// NewEngine creates an engine preloaded with the built-in business
// rules.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rules:     BuiltinRules(),
		sliceSize: DefaultSliceSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register appends a rule after construction.
func (e *Engine) Register(r Rule) {
	e.rules = append(e.rules, r)
}

// Run validates the frame in slices and aggregates a result identical
// to whole-frame processing for any slice size. Rules whose referenced
// columns are absent from the schema are skipped.
func (e *Engine) Run(f *frame.Frame) *Result {
	cfg := e.cfg
	if cfg.Now.IsZero() {
		cfg.Now = e.now()
	}

	res := &Result{
		TotalRows: f.Len(),
		Timestamp: cfg.Now,
	}

	checks := make([]Check, 0, len(e.rules))
	for _, r := range e.rules {
		if !r.Applies(f.Schema) {
			continue
		}
		res.RulesApplied = append(res.RulesApplied, r.Name())
		checks = append(checks, r.Open(cfg))
	}

	criticalRows := make(map[int]bool)
	for offset := 0; offset < f.Len(); offset += e.sliceSize {
		end := offset + e.sliceSize
		if end > f.Len() {
			end = f.Len()
		}
		for i, row := range f.Slice(offset, end).Rows {
			idx := offset + i
			for _, check := range checks {
				for _, d := range check(row, idx) {
					res.Errors = append(res.Errors, d)
					switch d.Severity {
					case Critical:
						res.CriticalFailures++
						criticalRows[idx] = true
					case Warning:
						res.Warnings++
					}
				}
			}
		}
	}

	res.ValidRows = res.TotalRows - len(criticalRows)
	return res
}

// Error converts a critical result into the classified error the write
// path aborts with. Nil when the result carries no critical failures.
func (e *Engine) Error(dataset string, res *Result) error {
	if !res.HasCritical() {
		return nil
	}
	return errs.Errorf(errs.KindValidation,
		"%s: %d critical failures across %d rows", dataset, res.CriticalFailures, len(res.CriticalRows()))
}

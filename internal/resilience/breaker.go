package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"marketlake/internal/errs"
	"marketlake/internal/observability"
)

// BreakerSettings parameterize one named circuit breaker.
type BreakerSettings struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
}

// BreakerSnapshot is the externally visible state of one breaker.
type BreakerSnapshot struct {
	Name                string        `json:"name"`
	State               string        `json:"state"`
	ConsecutiveFailures uint32        `json:"consecutive_failures"`
	FailureThreshold    uint32        `json:"failure_threshold"`
	RecoveryTimeout     time.Duration `json:"recovery_timeout"`
}

// Registry holds one circuit breaker per source name. Failures in one
// source never trip another.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings map[string]BreakerSettings
	defaults BreakerSettings
	log      zerolog.Logger
	metrics  *observability.Metrics
}

// NewRegistry creates a registry with daemon-level default settings.
func NewRegistry(defaults BreakerSettings, log zerolog.Logger, metrics *observability.Metrics) *Registry {
	if defaults.FailureThreshold == 0 {
		defaults.FailureThreshold = 5
	}
	if defaults.RecoveryTimeout == 0 {
		defaults.RecoveryTimeout = 60 * time.Second
	}
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: make(map[string]BreakerSettings),
		defaults: defaults,
		log:      log,
		metrics:  metrics,
	}
}

// Configure pins per-source settings to use when the named breaker is
// first created. Has no effect on an already created breaker.
func (r *Registry) Configure(name string, s BreakerSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[name] = s
}

// Do runs fn behind the named breaker. Consecutive failures at the
// threshold open the breaker; while open, calls fail with a classified
// circuit-open error without invoking fn. After the recovery timeout a
// single half-open probe is allowed.
func (r *Registry) Do(name string, fn func() error) error {
	cb := r.breaker(name)
	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.Errorf(errs.KindCircuitOpen, "source %s: %v", name, err)
	}
	return err
}

// State returns the named breaker's state string. Breakers not yet
// created report closed.
func (r *Registry) State(name string) string {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

// Snapshot returns the visible state of every created breaker.
func (r *Registry) Snapshot() []BreakerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(r.breakers))
	for name, cb := range r.breakers {
		s := r.settingsFor(name)
		out = append(out, BreakerSnapshot{
			Name:                name,
			State:               cb.State().String(),
			ConsecutiveFailures: cb.Counts().ConsecutiveFailures,
			FailureThreshold:    s.FailureThreshold,
			RecoveryTimeout:     s.RecoveryTimeout,
		})
	}
	return out
}

// Reset forces the named breaker back to closed by replacing it.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.breakers[name]; !ok {
		return
	}
	r.breakers[name] = r.newBreaker(name, r.settingsFor(name))
	r.metrics.SetBreakerState(name, 0)
}

func (r *Registry) breaker(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = r.newBreaker(name, r.settingsFor(name))
		r.breakers[name] = cb
	}
	return cb
}

func (r *Registry) settingsFor(name string) BreakerSettings {
	s, ok := r.settings[name]
	if !ok {
		return r.defaults
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = r.defaults.FailureThreshold
	}
	if s.RecoveryTimeout == 0 {
		s.RecoveryTimeout = r.defaults.RecoveryTimeout
	}
	return s
}

func (r *Registry) newBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.RecoveryTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.FailureThreshold
		},
		// A 404 is an expected absence, not a source fault. It must not
		// open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errs.NotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.metrics.SetBreakerState(name, stateGauge(to))
			r.log.Warn().
				Str("source", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
}

func stateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

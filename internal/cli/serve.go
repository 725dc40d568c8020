package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"marketlake/internal/domain"
	"marketlake/internal/observability"
	"marketlake/internal/resilience"
	"marketlake/internal/sched"
)

// NewServeCommand builds the daemon command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon",
		Long: `Run the scheduler until interrupted. Pipelines fire on their cron
entries in exchange time, and /health, /metrics and /status are served
on the metrics port. SIGINT and SIGTERM stop the cron loop, wait for
in-flight runs and shut the HTTP listener down.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := buildApp(ctx, opts, true)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.newScheduler()
	if err != nil {
		return err
	}

	d := &daemon{app: a, sched: s, started: time.Now().UTC()}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.MetricsPort),
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	s.Start()

	var fatal error
	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutdown signal received")
	case err := <-httpErr:
		a.log.Error().Err(err).Msg("http server failed")
		fatal = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := s.Stop(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("scheduler did not drain before the deadline")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown failed")
	}

	if fatal != nil {
		return WrapExitError(ExitFailure, "http server", fatal)
	}
	a.log.Info().Msg("daemon stopped")
	return nil
}

// daemon carries what the HTTP endpoints report on.
type daemon struct {
	app     *app
	sched   *sched.Scheduler
	started time.Time
}

func (d *daemon) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", d.handleStatus)

	return mux
}

// statusResponse is the JSON response for the /status endpoint.
type statusResponse struct {
	Status     string                       `json:"status"`
	Uptime     string                       `json:"uptime"`
	StartedAt  time.Time                    `json:"started_at"`
	Schedule   []sched.PlannedEntry         `json:"schedule"`
	Breakers   []resilience.BreakerSnapshot `json:"breakers"`
	RecentRuns []*domain.PipelineRun        `json:"recent_runs"`
}

// handleStatus returns daemon status as JSON.
func (d *daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := d.app.runs.ListRecent(r.Context(), 10)
	if err != nil {
		d.app.log.Warn().Err(err).Msg("status run listing failed")
	}

	resp := statusResponse{
		Status:     "running",
		Uptime:     time.Since(d.started).Round(time.Second).String(),
		StartedAt:  d.started,
		Schedule:   d.sched.Plan(),
		Breakers:   d.app.breakers.Snapshot(),
		RecentRuns: runs,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

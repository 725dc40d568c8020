package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"marketlake/internal/config"
	"marketlake/internal/fetch"
	"marketlake/internal/lake"
	"marketlake/internal/observability"
	"marketlake/internal/pipeline"
	"marketlake/internal/resilience"
	"marketlake/internal/runlog"
	"marketlake/internal/sched"
	"marketlake/internal/validate"
	"marketlake/internal/warehouse"
)

// nseWarmupURL is visited once per fetcher session to pick up the
// cookies the NSE API endpoints require.
const nseWarmupURL = "https://www.nseindia.com"

// app bundles the wired collaborators behind every command. Commands
// that never touch the warehouse build it without a ClickHouse
// connection; a trigger with an unreachable warehouse still lands lake
// data and skips the load steps.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	metrics  *observability.Metrics
	breakers *resilience.Registry
	writer   *lake.Writer
	loader   *warehouse.Loader
	runs     runlog.Store
	runner   *pipeline.Runner

	closers []func()
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// Collectors register on the default prometheus registry, which allows
// each metric name once per process.
var (
	metricsOnce sync.Once
	metricsInst *observability.Metrics
)

func appMetrics() *observability.Metrics {
	metricsOnce.Do(func() { metricsInst = observability.NewMetrics() })
	return metricsInst
}

// buildApp loads configuration and wires the pipeline stack.
// withWarehouse selects whether a ClickHouse connection is attempted;
// connection failure degrades to a nil loader rather than failing the
// command, so lake-only operation survives a warehouse outage.
func buildApp(ctx context.Context, opts *RootOptions, withWarehouse bool) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "load config", err)
	}

	a := &app{
		cfg:     cfg,
		log:     newLogger(opts.Verbose),
		metrics: appMetrics(),
	}

	a.breakers = resilience.NewRegistry(resilience.BreakerSettings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout.Std(),
	}, a.log, a.metrics)

	retryer := &resilience.Retryer{
		Policy: resilience.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff.Std(),
			MaxBackoff:     cfg.Retry.MaxBackoff.Std(),
			Multiplier:     cfg.Retry.Multiplier,
		},
		Log:     a.log,
		Metrics: a.metrics,
	}

	a.writer = lake.NewWriter(cfg.LakeRoot, a.log)

	a.runs = runlog.NewMemoryStore()
	if cfg.Postgres.DSN != "" {
		pool, err := runlog.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "connect run log", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := runlog.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, WrapExitError(ExitFailure, "migrate run log", err)
		}
		a.runs = runlog.NewPostgresStore(pool)
	}

	deps := pipeline.Deps{
		Config:   cfg,
		Fetcher:  fetch.NewHTTPFetcher(fetch.WithWarmup(nseWarmupURL)),
		Breakers: a.breakers,
		Retryer:  retryer,
		Writer:   a.writer,
		Engine: validate.NewEngine(
			validate.WithSliceSize(cfg.Validation.SliceSize),
			validate.WithMaxPriceChangePct(cfg.Validation.MaxPriceChangePct),
		),
		Metrics: a.metrics,
		Runs:    a.runs,
		Log:     a.log,
	}

	if withWarehouse {
		conn, err := warehouse.NewConn(ctx, cfg.ClickHouse.DSN())
		if err != nil {
			a.log.Warn().Err(err).Msg("warehouse unreachable, load steps will be skipped")
		} else {
			a.closers = append(a.closers, func() { _ = conn.Close() })
			if err := warehouse.Migrate(ctx, conn); err != nil {
				a.Close()
				return nil, WrapExitError(ExitFailure, "migrate warehouse", err)
			}
			a.loader = warehouse.NewLoader(conn, a.log,
				warehouse.WithBatchSize(cfg.Loader.BatchSize),
				warehouse.WithLoadAttempts(cfg.Loader.MaxAttempts),
				warehouse.WithLoadMetrics(a.metrics),
			)
			deps.Loader = a.loader
		}
	}

	a.runner = pipeline.NewRunner(deps,
		pipeline.EquityDaily{},
		pipeline.EquityCombined{},
		pipeline.BulkBlockDeals{},
		pipeline.IndexConstituents{},
		pipeline.OptionChainSnapshot{},
		pipeline.SymbolMaster{},
		pipeline.CorporateActions{},
		pipeline.TradingCalendar{},
		pipeline.QuarterlyFinancials{},
	)

	return a, nil
}

// Close releases connections in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newScheduler validates the configured schedule against the
// registered pipelines and resolves run dates off the lake calendar.
func (a *app) newScheduler() (*sched.Scheduler, error) {
	s, err := sched.New(a.runner, sched.Options{
		Overrides: a.cfg.Schedules,
		Calendar:  sched.NewLakeCalendar(a.writer),
		Log:       a.log,
	})
	if err != nil {
		return nil, WrapExitError(ExitFailure, "build schedule", err)
	}
	return s, nil
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// shutdownTimeout bounds graceful teardown of the daemon.
const shutdownTimeout = 30 * time.Second

package runlog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketlake/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to Postgres and verifies the connection.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// Migrate applies the embedded pipeline_runs schema. Idempotent.
func Migrate(ctx context.Context, pool *Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply runlog schema: %w", err)
	}
	return nil
}

const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

// PostgresStore implements Store on a pipeline_runs table. Parameters
// and step metrics live in JSONB columns.
type PostgresStore struct {
	pool *Pool
}

// NewPostgresStore creates a Postgres-backed run store.
func NewPostgresStore(pool *Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// endTimeParam maps the zero time to NULL so in-flight runs are
// distinguishable from finished ones.
func endTimeParam(r *domain.PipelineRun) any {
	if r.EndTime.IsZero() {
		return nil
	}
	return r.EndTime
}

// Insert adds a new run record. Returns ErrDuplicateRun when the run id
// already exists.
func (s *PostgresStore) Insert(ctx context.Context, run *domain.PipelineRun) error {
	if run == nil || run.RunID == "" {
		return ErrInvalidRun
	}

	query := `
		INSERT INTO pipeline_runs (run_id, pipeline, parameters, start_time, end_time, status, steps)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, query,
		run.RunID,
		run.Pipeline,
		run.Parameters,
		run.StartTime,
		endTimeParam(run),
		string(run.Status),
		run.Steps,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateRun
		}
		return fmt.Errorf("insert pipeline run: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing run.
func (s *PostgresStore) Update(ctx context.Context, run *domain.PipelineRun) error {
	if run == nil || run.RunID == "" {
		return ErrInvalidRun
	}

	query := `
		UPDATE pipeline_runs
		SET parameters = $2, end_time = $3, status = $4, steps = $5
		WHERE run_id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		run.RunID,
		run.Parameters,
		endTimeParam(run),
		string(run.Status),
		run.Steps,
	)
	if err != nil {
		return fmt.Errorf("update pipeline run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves one run by id.
func (s *PostgresStore) GetByID(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	query := `
		SELECT run_id, pipeline, parameters, start_time, end_time, status, steps
		FROM pipeline_runs
		WHERE run_id = $1
	`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pipeline run: %w", err)
	}
	return run, nil
}

// ListRecent returns runs across all pipelines, newest first.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*domain.PipelineRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT run_id, pipeline, parameters, start_time, end_time, status, steps
		FROM pipeline_runs
		ORDER BY start_time DESC, run_id DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ListByPipeline returns one pipeline's runs, newest first.
func (s *PostgresStore) ListByPipeline(ctx context.Context, pipeline string, limit int) ([]*domain.PipelineRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT run_id, pipeline, parameters, start_time, end_time, status, steps
		FROM pipeline_runs
		WHERE pipeline = $1
		ORDER BY start_time DESC, run_id DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, pipeline, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", pipeline, err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

func scanRun(row pgx.Row) (*domain.PipelineRun, error) {
	var (
		run       domain.PipelineRun
		endTime   *time.Time
		statusStr string
	)
	err := row.Scan(
		&run.RunID,
		&run.Pipeline,
		&run.Parameters,
		&run.StartTime,
		&endTime,
		&statusStr,
		&run.Steps,
	)
	if err != nil {
		return nil, err
	}
	if endTime != nil {
		run.EndTime = *endTime
	}
	run.Status = domain.RunStatus(statusStr)
	return &run, nil
}

func scanRuns(rows pgx.Rows) ([]*domain.PipelineRun, error) {
	var runs []*domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// Package runlog persists pipeline run records. The pipeline kernel
// inserts a record when a run starts and updates it with the terminal
// status; the status endpoint and the list command read them back.
package runlog

import (
	"context"
	"errors"

	"marketlake/internal/domain"
)

var (
	// ErrDuplicateRun is returned when a run id is inserted twice.
	ErrDuplicateRun = errors.New("runlog: duplicate run id")

	// ErrNotFound is returned when no run matches the id.
	ErrNotFound = errors.New("runlog: run not found")

	// ErrInvalidRun is returned for nil runs or runs without an id.
	ErrInvalidRun = errors.New("runlog: invalid run")
)

// DefaultListLimit caps list reads when the caller passes no limit.
const DefaultListLimit = 50

// Store records pipeline runs.
type Store interface {
	Insert(ctx context.Context, run *domain.PipelineRun) error
	Update(ctx context.Context, run *domain.PipelineRun) error
	GetByID(ctx context.Context, runID string) (*domain.PipelineRun, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.PipelineRun, error)
	ListByPipeline(ctx context.Context, pipeline string, limit int) ([]*domain.PipelineRun, error)
}

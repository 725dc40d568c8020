package runlog

import (
	"context"
	"sort"
	"sync"

	"marketlake/internal/domain"
)

// MemoryStore is an in-memory Store for tests and single-process runs
// without Postgres configured.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.PipelineRun
}

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*domain.PipelineRun)}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// clone deep-copies a run so callers cannot mutate stored state.
func clone(r *domain.PipelineRun) *domain.PipelineRun {
	cp := *r
	if r.Parameters != nil {
		cp.Parameters = make(map[string]string, len(r.Parameters))
		for k, v := range r.Parameters {
			cp.Parameters[k] = v
		}
	}
	cp.Steps = append([]domain.StepMetric(nil), r.Steps...)
	return &cp
}

// Insert adds a new run. Returns ErrDuplicateRun if the id exists.
func (s *MemoryStore) Insert(_ context.Context, run *domain.PipelineRun) error {
	if run == nil || run.RunID == "" {
		return ErrInvalidRun
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return ErrDuplicateRun
	}
	s.runs[run.RunID] = clone(run)
	return nil
}

// Update replaces an existing run. Returns ErrNotFound if the id is
// unknown.
func (s *MemoryStore) Update(_ context.Context, run *domain.PipelineRun) error {
	if run == nil || run.RunID == "" {
		return ErrInvalidRun
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; !exists {
		return ErrNotFound
	}
	s.runs[run.RunID] = clone(run)
	return nil
}

// GetByID retrieves one run. Returns ErrNotFound if the id is unknown.
func (s *MemoryStore) GetByID(_ context.Context, runID string) (*domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, ErrNotFound
	}
	return clone(run), nil
}

// ListRecent returns runs ordered by start time, newest first.
func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]*domain.PipelineRun, error) {
	return s.list(func(*domain.PipelineRun) bool { return true }, limit), nil
}

// ListByPipeline returns the pipeline's runs, newest first.
func (s *MemoryStore) ListByPipeline(_ context.Context, pipeline string, limit int) ([]*domain.PipelineRun, error) {
	return s.list(func(r *domain.PipelineRun) bool { return r.Pipeline == pipeline }, limit), nil
}

func (s *MemoryStore) list(keep func(*domain.PipelineRun) bool, limit int) []*domain.PipelineRun {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PipelineRun
	for _, r := range s.runs {
		if keep(r) {
			result = append(result, clone(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.After(result[j].StartTime)
		}
		return result[i].RunID > result[j].RunID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

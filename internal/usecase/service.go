package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a remapping run is already in progress")

// ErrNoTable is returned when the table is requested before Prepare succeeded.
var ErrNoTable = errors.New("remap table is not prepared")

// Service prepares the remap table of a case once and runs it over the
// configured source files on demand.
type Service struct {
	table *TableUseCase
	apply *ApplyUseCase

	mu      sync.RWMutex
	current *TableResult
	running bool
	last    *RunReport
}

// NewService combines the table and apply use cases.
func NewService(table *TableUseCase, apply *ApplyUseCase) *Service {
	return &Service{table: table, apply: apply}
}

// Prepare builds or loads the table from the first configured source file.
func (s *Service) Prepare(ctx context.Context) (*TableResult, error) {
	paths, err := s.table.cfg.SourcePaths()
	if err != nil {
		return nil, err
	}
	result, err := s.table.Execute(ctx, paths[0])
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current = result
	s.mu.Unlock()
	return result, nil
}

// Table returns the prepared table.
func (s *Service) Table() (*TableResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoTable
	}
	return s.current, nil
}

// LastReport returns the report of the most recent run, or nil.
func (s *Service) LastReport() *RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run applies the prepared table to every configured source file. Only one
// run may be active at a time.
func (s *Service) Run(ctx context.Context) (*RunReport, error) {
	result, err := s.Table()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	paths, err := s.apply.cfg.SourcePaths()
	if err != nil {
		return nil, err
	}
	report, err := s.apply.Execute(ctx, result.Table, result.Field, paths)
	if err != nil {
		return nil, fmt.Errorf("run aborted: %w", err)
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

package anyback

import (
	"errors"
	"fmt"
	"time"
)

// Operation statuses recorded in the job history.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation is one recorded CLI run.
type Operation struct {
	ID         int64
	RunID      string
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Summary    string
}

// History persists the job history of backup, restore and publish runs.
type History interface {
	// CreateOperation records a started run and returns it with its ID set.
	CreateOperation(runID, operation, parameters string, startedAt time.Time) (*Operation, error)

	// FinishOperation stores the final status and summary of a run.
	FinishOperation(id int64, status, summary string, finishedAt time.Time) error

	// ListOperations returns the most recent runs, newest first.
	ListOperations(limit int) ([]*Operation, error)
}

// GetHistory returns the most recent operations, ordered newest first.
func (s *Service) GetHistory(limit int) ([]*Operation, error) {
	if s.history == nil {
		return nil, errors.New("no history database configured")
	}
	ops, err := s.history.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

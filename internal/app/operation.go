package app

import (
	"encoding/json"

	"anyback-go/internal/anyback"
)

// Operation tracks a CLI run that is recorded in the job history.
// Operations are created in memory with ID=0. Only backup, restore and
// publish persist them (giving them an auto-increment ID from the database).
type Operation struct {
	ID         int64
	RunID      string
	Name       string
	Parameters string
	Status     string
	Summary    string
}

// NewOperation creates a new in-memory operation.
func NewOperation(name, runID string) *Operation {
	return &Operation{
		Name:   name,
		RunID:  runID,
		Status: anyback.StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed, keeping err as the summary.
func (op *Operation) Fail(err error) {
	op.Status = anyback.StatusError
	if err != nil {
		op.Summary = err.Error()
	}
}

// encodeParameters renders request parameters for the history table.
// Unencodable values are recorded as an empty object.
func encodeParameters(params map[string]any) string {
	b, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(b)
}

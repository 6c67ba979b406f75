package anyback

import (
	"errors"
	"fmt"

	"anyback-go/internal/archive"
)

// Error kinds. The archive package owns the ones it raises itself so that
// every layer tests against the same values.
var (
	ErrNotFound          = archive.ErrNotFound
	ErrAlreadyExists     = archive.ErrAlreadyExists
	ErrUnsupportedFormat = archive.ErrUnsupportedFormat
	ErrInvalid           = archive.ErrInvalid
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrTransportFailure  = errors.New("transport failure")
)

var (
	ErrSpaceNotFound       = fmt.Errorf("space %w", ErrNotFound)
	ErrObjectNotFound      = archive.ErrObjectNotFound
	ErrDestinationNotFound = fmt.Errorf("destination %w", ErrNotFound)
	ErrArchiveInvalid      = archive.ErrArchiveInvalid
)

// Stages reported on object errors.
const (
	StageSelect  = "select"
	StageFetch   = "fetch"
	StageEncode  = "encode"
	StageWrite   = "write"
	StageBatch   = "batch"
	StageImport  = "import"
	StageExtract = "extract"
)

// ObjectError attaches object identity and pipeline stage to an error.
type ObjectError struct {
	ID    string
	Stage string
	Err   error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.ID, e.Err)
}

func (e *ObjectError) Unwrap() error { return e.Err }

func objectError(id, stage string, err error) *ObjectError {
	return &ObjectError{ID: id, Stage: stage, Err: err}
}

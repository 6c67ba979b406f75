package archive

import (
	"errors"
	"fmt"
)

// Error kinds shared by every archive consumer. Specialised errors wrap one
// of these so callers can test either with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrInvalid           = errors.New("invalid")
)

var (
	ErrObjectNotFound  = fmt.Errorf("object %w", ErrNotFound)
	ErrArchiveInvalid  = fmt.Errorf("archive %w", ErrInvalid)
	ErrWriterFinalized = errors.New("archive writer already finalized or aborted")
)

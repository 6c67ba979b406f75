package anyback

import "fmt"

// Default import chunk limits.
const (
	DefaultMaxSingleBytes    = 2 * 1024 * 1024
	DefaultMaxBatchBytes     = 3 * 1024 * 1024
	DefaultMaxBatchSnapshots = 128
)

// ImportLimits bound the size of a single import call.
type ImportLimits struct {
	MaxSingleBytes    int64
	MaxBatchBytes     int64
	MaxBatchSnapshots int
}

// DefaultImportLimits returns the built-in limits.
func DefaultImportLimits() ImportLimits {
	return ImportLimits{
		MaxSingleBytes:    DefaultMaxSingleBytes,
		MaxBatchBytes:     DefaultMaxBatchBytes,
		MaxBatchSnapshots: DefaultMaxBatchSnapshots,
	}
}

// Validate checks that every limit is positive and that a batch can hold the
// largest single snapshot.
func (l ImportLimits) Validate() error {
	if l.MaxSingleBytes <= 0 {
		return fmt.Errorf("%w: max single snapshot bytes must be > 0", ErrInvalid)
	}
	if l.MaxBatchBytes <= 0 {
		return fmt.Errorf("%w: max batch bytes must be > 0", ErrInvalid)
	}
	if l.MaxBatchSnapshots <= 0 {
		return fmt.Errorf("%w: max batch snapshots must be > 0", ErrInvalid)
	}
	if l.MaxBatchBytes < l.MaxSingleBytes {
		return fmt.Errorf("%w: max batch bytes (%d) must be >= max single snapshot bytes (%d)", ErrInvalid, l.MaxBatchBytes, l.MaxSingleBytes)
	}
	return nil
}

// ImportItem is one archive entry queued for import.
type ImportItem struct {
	ID   string
	Path string
	// Size is the snapshot bytes plus any file blob sent with it.
	Size int64
	// FilePath is the archive path of the file blob, if any.
	FilePath string
}

// BatchPlan is the result of grouping items under the import limits.
type BatchPlan struct {
	Batches [][]ImportItem
	// Rejected holds items larger than MaxSingleBytes. They are never sent.
	Rejected []ImportItem
}

// PlanBatches groups items in order. A batch is flushed before an item when
// it is full by count, or when adding the item would push it over
// MaxBatchBytes.
func PlanBatches(items []ImportItem, limits ImportLimits) BatchPlan {
	var plan BatchPlan
	var cur []ImportItem
	var curBytes int64

	for _, item := range items {
		if item.Size > limits.MaxSingleBytes {
			plan.Rejected = append(plan.Rejected, item)
			continue
		}
		if len(cur) >= limits.MaxBatchSnapshots || (len(cur) > 0 && curBytes+item.Size > limits.MaxBatchBytes) {
			plan.Batches = append(plan.Batches, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, item)
		curBytes += item.Size
	}
	if len(cur) > 0 {
		plan.Batches = append(plan.Batches, cur)
	}
	return plan
}

func oversizeError(item ImportItem, limits ImportLimits) error {
	return fmt.Errorf("%w: import is %d bytes, max single snapshot is %d", ErrLimitExceeded, item.Size, limits.MaxSingleBytes)
}

package anyback

import (
	"context"
	"errors"
	"fmt"
	"path"

	"anyback-go/internal/archive"
	"anyback-go/internal/snapshot"
)

// Transport names accepted by --transport.
const (
	TransportPath     = "path"
	TransportSnapshot = "snapshot"
)

// ImportOutcome is the result of importing one object.
type ImportOutcome struct {
	ID        string `json:"id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Attempted bool   `json:"-"`
	Err       error  `json:"-"`
}

func succeeded(id string) ImportOutcome {
	return ImportOutcome{ID: id, Success: true, Attempted: true}
}

func failed(id string, err error) ImportOutcome {
	return ImportOutcome{ID: id, Error: err.Error(), Attempted: true, Err: err}
}

var errNotAttempted = errors.New("not attempted")

func notAttempted(id string) ImportOutcome {
	return ImportOutcome{ID: id, Error: errNotAttempted.Error(), Err: errNotAttempted}
}

// Transport submits archive entries to the destination space.
type Transport interface {
	Name() string
	// SubmitBatch imports items in one call and returns one outcome per item,
	// in item order. An error means the call itself failed.
	SubmitBatch(ctx context.Context, items []ImportItem) ([]ImportOutcome, error)
	SubmitSingle(ctx context.Context, item ImportItem) (ImportOutcome, error)
}

// PathTransport references archive entries by path and lets the space read
// them from the archive.
type PathTransport struct {
	space       SpaceService
	spaceID     string
	archivePath string
	opts        ImportOptions
}

var _ Transport = (*PathTransport)(nil)

func NewPathTransport(space SpaceService, spaceID, archivePath string, opts ImportOptions) *PathTransport {
	return &PathTransport{space: space, spaceID: spaceID, archivePath: archivePath, opts: opts}
}

func (t *PathTransport) Name() string { return TransportPath }

func (t *PathTransport) SubmitBatch(ctx context.Context, items []ImportItem) ([]ImportOutcome, error) {
	paths := make([]string, len(items))
	for i, item := range items {
		paths[i] = item.Path
	}
	results, err := t.space.ImportPaths(ctx, t.spaceID, t.archivePath, paths, t.opts)
	if err != nil {
		return nil, fmt.Errorf("importing %d paths: %w", len(paths), err)
	}
	return matchResults(items, results), nil
}

func (t *PathTransport) SubmitSingle(ctx context.Context, item ImportItem) (ImportOutcome, error) {
	return submitOne(ctx, t, item)
}

// SnapshotTransport reads raw protobuf snapshots from the archive and streams
// them to the space. Other snapshot formats are rejected per item.
type SnapshotTransport struct {
	space   SpaceService
	spaceID string
	archive *archive.Archive
	opts    ImportOptions
}

var _ Transport = (*SnapshotTransport)(nil)

func NewSnapshotTransport(space SpaceService, spaceID string, a *archive.Archive, opts ImportOptions) *SnapshotTransport {
	return &SnapshotTransport{space: space, spaceID: spaceID, archive: a, opts: opts}
}

func (t *SnapshotTransport) Name() string { return TransportSnapshot }

func (t *SnapshotTransport) SubmitBatch(ctx context.Context, items []ImportItem) ([]ImportOutcome, error) {
	outcomes := make([]ImportOutcome, len(items))
	var imports []SnapshotImport
	var pending []int

	for i, item := range items {
		imp, err := t.load(item)
		if err != nil {
			outcomes[i] = failed(item.ID, objectError(item.ID, StageImport, err))
			continue
		}
		imports = append(imports, imp)
		pending = append(pending, i)
	}
	if len(imports) == 0 {
		return outcomes, nil
	}

	results, err := t.space.ImportSnapshots(ctx, t.spaceID, imports, t.opts)
	if err != nil {
		return nil, fmt.Errorf("importing %d snapshots: %w", len(imports), err)
	}
	sent := make([]ImportItem, len(pending))
	for j, i := range pending {
		sent[j] = items[i]
	}
	for j, o := range matchResults(sent, results) {
		outcomes[pending[j]] = o
	}
	return outcomes, nil
}

func (t *SnapshotTransport) SubmitSingle(ctx context.Context, item ImportItem) (ImportOutcome, error) {
	return submitOne(ctx, t, item)
}

func (t *SnapshotTransport) load(item ImportItem) (SnapshotImport, error) {
	data, format, err := t.archive.ReadSnapshot(item.ID)
	if err != nil {
		return SnapshotImport{}, err
	}
	if format != snapshot.FormatPB {
		return SnapshotImport{}, fmt.Errorf("%w: snapshot transport needs pb snapshots, got %s", ErrUnsupportedFormat, format)
	}
	imp := SnapshotImport{ID: item.ID, Data: data}
	if item.FilePath != "" {
		blob, err := t.archive.ReadFile(item.FilePath)
		if err != nil {
			return SnapshotImport{}, fmt.Errorf("reading file blob: %w", err)
		}
		imp.File = blob
		imp.FileName = path.Base(item.FilePath)
	}
	return imp, nil
}

func submitOne(ctx context.Context, t Transport, item ImportItem) (ImportOutcome, error) {
	outcomes, err := t.SubmitBatch(ctx, []ImportItem{item})
	if err != nil {
		return ImportOutcome{}, err
	}
	return outcomes[0], nil
}

// matchResults pairs space results with items by id, keeping item order.
func matchResults(items []ImportItem, results []ImportResult) []ImportOutcome {
	byID := make(map[string]ImportResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	outcomes := make([]ImportOutcome, len(items))
	for i, item := range items {
		r, ok := byID[item.ID]
		switch {
		case !ok:
			outcomes[i] = failed(item.ID, fmt.Errorf("%w: no result returned for object", ErrTransportFailure))
		case r.Err != nil:
			outcomes[i] = failed(item.ID, r.Err)
		default:
			outcomes[i] = succeeded(item.ID)
		}
	}
	return outcomes
}

package anyback_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"anyback-go/internal/anyback"
	"anyback-go/internal/archive"
	"anyback-go/internal/snapshot"
	"anyback-go/internal/space"
	"anyback-go/internal/testutil"
)

var (
	pageFx = testutil.Fixture{ID: testutil.ObjectID(1), Name: "Project plan", Text: "milestones"}
	taskFx = testutil.Fixture{ID: testutil.ObjectID(2), Name: "Call Bob", TypeKey: "task", Layout: snapshot.LayoutTodo}
	fileFx = testutil.Fixture{ID: testutil.ObjectID(3), Name: "Diagram", TypeKey: "image", Layout: snapshot.LayoutImage, FileExt: "png", File: []byte("\x89PNG fake image")}
)

// faultySpace wraps a store and injects failures per object id.
type faultySpace struct {
	space.Store

	mu          sync.Mutex
	fetchErr    map[string]error
	fetchHook   func(id string)
	importErr   map[string]error
	batchErr    error
	importCalls [][]string
}

func newFaultySpace(store space.Store) *faultySpace {
	return &faultySpace{Store: store, fetchErr: map[string]error{}, importErr: map[string]error{}}
}

func (f *faultySpace) FetchSnapshot(ctx context.Context, spaceID, id string) ([]byte, error) {
	f.mu.Lock()
	err, hook := f.fetchErr[id], f.fetchHook
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if err != nil {
		return nil, err
	}
	return f.Store.FetchSnapshot(ctx, spaceID, id)
}

func (f *faultySpace) record(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.importCalls = append(f.importCalls, ids)
	return f.batchErr
}

func (f *faultySpace) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.importCalls...)
}

func (f *faultySpace) ImportPaths(ctx context.Context, spaceID, archivePath string, paths []string, opts anyback.ImportOptions) ([]anyback.ImportResult, error) {
	ids := make([]string, len(paths))
	for i, p := range paths {
		ids[i], _, _ = archive.ParseSnapshotPath(p)
	}
	if err := f.record(ids); err != nil {
		return nil, err
	}

	var keep []string
	var results []anyback.ImportResult
	for i, p := range paths {
		if err := f.importErr[ids[i]]; err != nil {
			results = append(results, anyback.ImportResult{ID: ids[i], Err: err})
			continue
		}
		keep = append(keep, p)
	}
	if len(keep) == 0 {
		return results, nil
	}
	rest, err := f.Store.ImportPaths(ctx, spaceID, archivePath, keep, opts)
	if err != nil {
		return nil, err
	}
	return append(results, rest...), nil
}

func (f *faultySpace) ImportSnapshots(ctx context.Context, spaceID string, items []anyback.SnapshotImport, opts anyback.ImportOptions) ([]anyback.ImportResult, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	if err := f.record(ids); err != nil {
		return nil, err
	}

	var keep []anyback.SnapshotImport
	var results []anyback.ImportResult
	for _, item := range items {
		if err := f.importErr[item.ID]; err != nil {
			results = append(results, anyback.ImportResult{ID: item.ID, Err: err})
			continue
		}
		keep = append(keep, item)
	}
	rest, err := f.Store.ImportSnapshots(ctx, spaceID, keep, opts)
	if err != nil {
		return nil, err
	}
	return append(results, rest...), nil
}

type env struct {
	t      *testing.T
	store  *space.MemorySpace
	faulty *faultySpace
	logger *testutil.RecordingLogger
	svc    *anyback.Service
	source anyback.Space
	dir    string
}

func newEnv(t *testing.T, fixtures ...testutil.Fixture) *env {
	t.Helper()
	return newEnvWith(t, anyback.DefaultSettings(), fixtures...)
}

func newEnvWith(t *testing.T, settings anyback.Settings, fixtures ...testutil.Fixture) *env {
	t.Helper()
	store := testutil.NewTestSpace()
	e := &env{
		t:      t,
		store:  store,
		faulty: newFaultySpace(store),
		logger: testutil.NewRecordingLogger(),
		dir:    t.TempDir(),
	}
	e.source = testutil.SeedSpace(t, store, "Source", fixtures...)
	settings.Version = "test"
	e.svc = anyback.NewService(e.faulty, nil, nil, nil, e.logger, testutil.FixedClock(), testutil.NewStubIDGenerator("run"), settings)
	return e
}

func (e *env) destSpace(name string) anyback.Space {
	e.t.Helper()
	return testutil.SeedSpace(e.t, e.store, name)
}

func (e *env) path(name string) string {
	return filepath.Join(e.dir, name)
}

// backup runs a backup of the source space to dest with the given selection.
func (e *env) backup(dest string, sel anyback.SelectRequest, includeFiles bool) *anyback.BackupResult {
	e.t.Helper()
	res, err := e.svc.Backup(context.Background(), anyback.BackupRequest{
		Space:        e.source.Name,
		Select:       sel,
		Target:       anyback.TargetRequest{Dest: dest},
		IncludeFiles: includeFiles,
	})
	if err != nil {
		e.t.Fatalf("Backup() error = %v", err)
	}
	return res
}

func openArchive(t *testing.T, path string) *archive.Archive {
	t.Helper()
	a, err := archive.Open(path)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", path, err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func entryIDs(t *testing.T, path string) []string {
	t.Helper()
	entries, err := openArchive(t, path).ListEntries()
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// fingerprints maps every object of a space to its snapshot fingerprint.
func fingerprints(t *testing.T, store anyback.SpaceService, spaceID string) map[string]string {
	t.Helper()
	ctx := context.Background()
	objs, err := store.ListObjects(ctx, spaceID, anyback.ObjectFilter{IncludeArchived: true})
	if err != nil {
		t.Fatalf("ListObjects() error = %v", err)
	}
	out := make(map[string]string, len(objs))
	for _, o := range objs {
		data, err := store.FetchSnapshot(ctx, spaceID, o.ID)
		if err != nil {
			t.Fatalf("FetchSnapshot(%s) error = %v", o.ID, err)
		}
		fp, err := snapshot.Fingerprint(snapshot.FormatPB, data)
		if err != nil {
			t.Fatalf("Fingerprint(%s) error = %v", o.ID, err)
		}
		out[o.ID] = fp
	}
	return out
}

func writeIDs(t *testing.T, path string, lines ...string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func fixtures(n int) []testutil.Fixture {
	out := make([]testutil.Fixture, n)
	for i := range out {
		out[i] = testutil.Fixture{ID: testutil.ObjectID(100 + i), Name: fmt.Sprintf("Doc %d", i+1), Text: fmt.Sprintf("body %d", i+1)}
	}
	return out
}

package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"anyback-go/internal/snapshot"
)

// Kind selects the container written by Create.
type Kind int

const (
	KindZip Kind = iota
	KindDir
)

func (k Kind) String() string {
	if k == KindDir {
		return "directory"
	}
	return "zip"
}

// KindFor picks the container kind from a destination path: ".zip" paths
// become zip files, anything else a directory.
func KindFor(path string) Kind {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return KindZip
	}
	return KindDir
}

type sink interface {
	put(name string, data []byte) error
	close() error
	discard()
}

// Writer builds an archive in a temporary sibling of its destination. Nothing
// appears at the destination until Finalize succeeds, and the manifest
// sidecar is written only after the archive has been renamed into place.
// A Writer serialises appends and is not reusable.
type Writer struct {
	mu    sync.Mutex
	path  string
	tmp   string
	kind  Kind
	sink  sink
	names map[string]bool
	done  bool

	snapshots int
	blobs     int
}

// Create starts a new archive at path. It fails with ErrAlreadyExists when
// path is already taken.
func Create(path string, kind Kind) (*Writer, error) {
	if _, err := os.Lstat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	dir := filepath.Dir(path)
	pattern := filepath.Base(path) + ".partial-*"

	w := &Writer{path: path, kind: kind, names: make(map[string]bool)}
	switch kind {
	case KindZip:
		f, err := os.CreateTemp(dir, pattern)
		if err != nil {
			return nil, fmt.Errorf("creating temp archive: %w", err)
		}
		w.tmp = f.Name()
		w.sink = newZipSink(f)
	case KindDir:
		tmp, err := os.MkdirTemp(dir, pattern)
		if err != nil {
			return nil, fmt.Errorf("creating temp archive directory: %w", err)
		}
		w.tmp = tmp
		w.sink = &dirSink{root: tmp}
	default:
		return nil, fmt.Errorf("%w: archive kind %d", ErrUnsupportedFormat, kind)
	}
	return w, nil
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) Kind() Kind { return w.kind }

func (w *Writer) put(name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterFinalized
	}
	if w.names[name] {
		return fmt.Errorf("%w: archive item %s", ErrAlreadyExists, name)
	}
	if err := w.sink.put(name, data); err != nil {
		return err
	}
	w.names[name] = true
	return nil
}

// AppendSnapshot adds the snapshot entry for id.
func (w *Writer) AppendSnapshot(id string, format snapshot.Format, data []byte) error {
	if !validEntryName(id) {
		return fmt.Errorf("%w: object id %q", ErrInvalid, id)
	}
	if err := w.put(SnapshotPath(id, format), data); err != nil {
		return err
	}
	w.mu.Lock()
	w.snapshots++
	w.mu.Unlock()
	return nil
}

// AppendFileBlob adds the raw bytes of a file object and returns the path it
// was stored under.
func (w *Writer) AppendFileBlob(id, filename string, data []byte) (string, error) {
	if !validEntryName(id) {
		return "", fmt.Errorf("%w: object id %q", ErrInvalid, id)
	}
	name := snapshot.FilePath(id, filename)
	if err := w.put(name, data); err != nil {
		return "", err
	}
	w.mu.Lock()
	w.blobs++
	w.mu.Unlock()
	return name, nil
}

// Counts returns the number of snapshots and file blobs appended so far.
func (w *Writer) Counts() (snapshots, blobs int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshots, w.blobs
}

// Finalize closes the container, moves it to its destination and then writes
// the manifest sidecar. A nil manifest skips the sidecar.
func (w *Writer) Finalize(m *Manifest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterFinalized
	}
	w.done = true

	if err := w.sink.close(); err != nil {
		os.RemoveAll(w.tmp)
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if _, err := os.Lstat(w.path); err == nil {
		os.RemoveAll(w.tmp)
		return fmt.Errorf("%w: %s", ErrAlreadyExists, w.path)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.RemoveAll(w.tmp)
		return fmt.Errorf("moving archive into place: %w", err)
	}
	if m == nil {
		return nil
	}
	if err := writeSidecar(w.path, m); err != nil {
		return fmt.Errorf("writing manifest sidecar: %w", err)
	}
	return nil
}

// Abort discards everything written so far. It is safe to call after
// Finalize, in which case it does nothing.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	w.sink.discard()
	if err := os.RemoveAll(w.tmp); err != nil {
		return fmt.Errorf("removing partial archive: %w", err)
	}
	return nil
}

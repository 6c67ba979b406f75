// Package archive reads and writes backup archives. An archive is a zip file
// or a plain directory with the same layout:
//
//	objects/<id>.pb | <id>.pb.json | <id>.md   (one snapshot per object)
//	files/<name>_<id><ext>                     (raw file blobs, optional)
//
// plus an optional manifest sidecar named <archive>.manifest.json.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"anyback-go/internal/snapshot"
)

// Source identifies the physical representation of an archive.
type Source string

const (
	SourceZip       Source = "zip"
	SourceDirectory Source = "directory"
)

var (
	zipSignature      = []byte("PK\x03\x04")
	emptyZipSignature = []byte("PK\x05\x06")
)

// FileEntry is one item in the archive container.
type FileEntry struct {
	Path string `json:"path"`
	Size int64  `json:"bytes"`
}

// Entry is one snapshot entry.
type Entry struct {
	ID     string
	Path   string
	Format snapshot.Format
	Size   int64
}

// backend is the storage behind an Archive. Implementations must be safe for
// concurrent reads.
type backend interface {
	files() ([]FileEntry, error)
	// read returns an error wrapping fs.ErrNotExist for missing paths.
	read(name string) ([]byte, error)
	close() error
}

// Archive is an opened, read-only archive. Archives are immutable once
// written, so reads need no locking.
type Archive struct {
	path    string
	source  Source
	backend backend

	fingerprints sync.Map // path -> string
}

// Open sniffs path and opens it with the matching backend.
func Open(path string) (*Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: archive %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	if info.IsDir() {
		return &Archive{path: path, source: SourceDirectory, backend: newDirBackend(path)}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("reading archive header: %w", err)
	}
	head = head[:n]
	if !bytes.Equal(head, zipSignature) && !bytes.Equal(head, emptyZipSignature) {
		f.Close()
		return nil, fmt.Errorf("%w: %s is neither a directory nor a zip file", ErrUnsupportedFormat, path)
	}

	zb, err := newZipBackend(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveInvalid, path, err)
	}
	return &Archive{path: path, source: SourceZip, backend: zb}, nil
}

func (a *Archive) Path() string { return a.path }

func (a *Archive) Source() Source { return a.source }

// Close releases the underlying container.
func (a *Archive) Close() error {
	return a.backend.close()
}

// Files lists every item in the archive, sorted by path.
func (a *Archive) Files() ([]FileEntry, error) {
	return a.backend.files()
}

// snapshotOrder is the format precedence when one id is stored more than once.
var snapshotOrder = []snapshot.Format{snapshot.FormatPB, snapshot.FormatPBJSON, snapshot.FormatMarkdown}

func formatRank(f snapshot.Format) int {
	for i, o := range snapshotOrder {
		if o == f {
			return i
		}
	}
	return len(snapshotOrder)
}

// ListEntries lists the snapshot entries, sorted by path. Each call re-reads
// the container listing. When one id is stored in several formats the entry
// is the one ReadSnapshot would return.
func (a *Archive) ListEntries() ([]Entry, error) {
	files, err := a.backend.files()
	if err != nil {
		return nil, fmt.Errorf("listing archive: %w", err)
	}
	slot := make(map[string]int)
	var entries []Entry
	for _, f := range files {
		id, format, ok := ParseSnapshotPath(f.Path)
		if !ok {
			continue
		}
		e := Entry{ID: id, Path: f.Path, Format: format, Size: f.Size}
		if i, dup := slot[id]; dup {
			if formatRank(format) < formatRank(entries[i].Format) {
				entries[i] = e
			}
			continue
		}
		slot[id] = len(entries)
		entries = append(entries, e)
	}
	return entries, nil
}

// Entry looks up the snapshot entry for id.
func (a *Archive) Entry(id string) (Entry, error) {
	entries, err := a.ListEntries()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
}

// ReadSnapshot returns the snapshot bytes for id and their format.
func (a *Archive) ReadSnapshot(id string) ([]byte, snapshot.Format, error) {
	if !validEntryName(id) {
		return nil, "", fmt.Errorf("%w: %q", ErrObjectNotFound, id)
	}
	for _, f := range snapshotOrder {
		b, err := a.backend.read(SnapshotPath(id, f))
		if err == nil {
			return b, f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("reading snapshot %s: %w", id, err)
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrObjectNotFound, id)
}

// ReadFile returns the raw bytes of any archive item.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	b, err := a.backend.read(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: archive item %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return b, nil
}

// ReadManifest returns the archive manifest. The sidecar takes precedence over
// an in-archive manifest.json. A missing manifest yields (nil, nil); an
// unreadable one yields an error wrapping ErrArchiveInvalid, which callers
// typically report rather than treat as fatal.
func (a *Archive) ReadManifest() (*Manifest, error) {
	m, err := readSidecar(a.path)
	if m != nil || err != nil {
		return m, err
	}

	b, err := a.backend.read(ManifestName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrArchiveInvalid, ManifestName, err)
	}
	m, err = ParseManifest(b)
	if err != nil {
		return nil, fmt.Errorf("%w: in-archive manifest: %v", ErrArchiveInvalid, err)
	}
	return m, nil
}

// Fingerprint returns the content fingerprint of e, computed on first use.
func (a *Archive) Fingerprint(e Entry) (string, error) {
	if v, ok := a.fingerprints.Load(e.Path); ok {
		return v.(string), nil
	}
	b, err := a.ReadFile(e.Path)
	if err != nil {
		return "", err
	}
	fp, err := snapshot.Fingerprint(e.Format, b)
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", e.ID, err)
	}
	a.fingerprints.Store(e.Path, fp)
	return fp, nil
}

// TotalSize sums the sizes of files.
func TotalSize(files []FileEntry) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}

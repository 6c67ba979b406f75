package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// dirBackend serves an unpacked archive directory.
type dirBackend struct {
	root string
	fsys fs.FS
}

func newDirBackend(root string) *dirBackend {
	return &dirBackend{root: root, fsys: os.DirFS(root)}
}

func (b *dirBackend) files() ([]FileEntry, error) {
	var out []FileEntry
	err := fs.WalkDir(b.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, FileEntry{Path: p, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *dirBackend) read(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("invalid archive path %q: %w", name, fs.ErrNotExist)
	}
	return fs.ReadFile(b.fsys, name)
}

func (b *dirBackend) close() error { return nil }

// dirSink writes entries into a staging directory.
type dirSink struct {
	root string
}

func (s *dirSink) put(name string, data []byte) error {
	dest := filepath.Join(s.root, filepath.FromSlash(path.Clean(name)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", name, err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (s *dirSink) close() error { return nil }

func (s *dirSink) discard() {}

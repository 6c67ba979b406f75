package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// zipBackend serves reads from a zip file. zip.File.Open reads through the
// underlying io.ReaderAt, so concurrent reads are safe.
type zipBackend struct {
	f       *os.File
	byName  map[string]*zip.File
	listing []FileEntry
}

func newZipBackend(f *os.File, size int64) (*zipBackend, error) {
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return nil, err
	}
	b := &zipBackend{f: f, byName: make(map[string]*zip.File, len(zr.File))}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		b.byName[zf.Name] = zf
		b.listing = append(b.listing, FileEntry{Path: zf.Name, Size: int64(zf.UncompressedSize64)})
	}
	sort.Slice(b.listing, func(i, j int) bool { return b.listing[i].Path < b.listing[j].Path })
	return b, nil
}

func (b *zipBackend) files() ([]FileEntry, error) {
	out := make([]FileEntry, len(b.listing))
	copy(out, b.listing)
	return out, nil
}

func (b *zipBackend) read(name string) ([]byte, error) {
	zf, ok := b.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (b *zipBackend) close() error {
	return b.f.Close()
}

// zipSink writes entries into a new zip file.
type zipSink struct {
	f  *os.File
	zw *zip.Writer
}

func newZipSink(f *os.File) *zipSink {
	zw := zip.NewWriter(f)
	// Snapshots are small and numerous, so use the fastest deflate level.
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})
	return &zipSink{f: f, zw: zw}
}

func (s *zipSink) put(name string, data []byte) error {
	w, err := s.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (s *zipSink) close() error {
	if err := s.zw.Close(); err != nil {
		s.f.Close()
		return fmt.Errorf("closing zip: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("syncing zip: %w", err)
	}
	return s.f.Close()
}

func (s *zipSink) discard() {
	s.zw.Close()
	s.f.Close()
}

package inspect

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"anyback-go/internal/archive"
	"anyback-go/internal/snapshot"
)

// IndexEntry is the browsable summary of one snapshot entry.
type IndexEntry struct {
	ID        string
	Name      string
	TypeKey   string
	SBType    snapshot.SmartBlockType
	Layout    string
	Archived  bool
	Modified  time.Time
	Size      int64
	Path      string
	Format    snapshot.Format
	Readable  bool
	Error     string
	Links     []string
	Backlinks []string
}

// Index describes an archive for the inspector.
type Index struct {
	Path          string
	Source        archive.Source
	Manifest      *archive.Manifest
	ManifestError string
	FileCount     int
	TotalBytes    int64
	// Entries are sorted by name, then id. Inspector references "#n" are
	// 1-based positions in this order.
	Entries []*IndexEntry

	byID    map[string]*IndexEntry
	objects map[string]snapshot.ObjectInfo
}

// BuildIndex reads every entry of a. Entries that fail to decode stay in the
// index marked unreadable.
func BuildIndex(a *archive.Archive) (*Index, error) {
	files, err := a.Files()
	if err != nil {
		return nil, fmt.Errorf("listing archive: %w", err)
	}
	entries, err := a.ListEntries()
	if err != nil {
		return nil, err
	}

	idx := &Index{
		Path:       a.Path(),
		Source:     a.Source(),
		FileCount:  len(files),
		TotalBytes: archive.TotalSize(files),
		byID:       make(map[string]*IndexEntry, len(entries)),
		objects:    make(map[string]snapshot.ObjectInfo, len(entries)),
	}
	if m, err := a.ReadManifest(); err != nil {
		idx.ManifestError = err.Error()
	} else {
		idx.Manifest = m
	}

	for _, e := range entries {
		ie := &IndexEntry{ID: e.ID, Name: e.ID, Size: e.Size, Path: e.Path, Format: e.Format, Readable: true}
		if e.Format.Structured() {
			idx.fill(a, ie)
		}
		idx.Entries = append(idx.Entries, ie)
		idx.byID[ie.ID] = ie
	}

	for _, ie := range idx.Entries {
		for _, target := range ie.Links {
			if t, ok := idx.byID[target]; ok && target != ie.ID {
				t.Backlinks = append(t.Backlinks, ie.ID)
			}
		}
	}
	sort.SliceStable(idx.Entries, func(i, j int) bool {
		ni, nj := strings.ToLower(idx.Entries[i].Name), strings.ToLower(idx.Entries[j].Name)
		if ni != nj {
			return ni < nj
		}
		return idx.Entries[i].ID < idx.Entries[j].ID
	})
	return idx, nil
}

func (idx *Index) fill(a *archive.Archive, ie *IndexEntry) {
	data, err := a.ReadFile(ie.Path)
	if err == nil {
		var snap *snapshot.Snapshot
		if snap, err = snapshot.DecodeFormat(ie.Format, data); err == nil {
			if name := snap.Name(); name != "" {
				ie.Name = name
			}
			ie.TypeKey = snap.TypeKey()
			ie.SBType = snap.SBType
			if layout, ok := snap.Layout(); ok {
				ie.Layout = snapshot.LayoutName(layout)
			}
			ie.Archived = snap.Archived()
			ie.Modified, _ = snap.LastModified()
			ie.Links = snap.Links()
			idx.objects[ie.ID] = snapshot.InfoOf(ie.ID, snap)
			return
		}
	}
	ie.Readable = false
	ie.Error = err.Error()
}

// Objects returns the link metadata of every readable structured entry.
func (idx *Index) Objects() map[string]snapshot.ObjectInfo {
	return idx.objects
}

// Filter returns the entries whose id, name or type contain query, ignoring
// case. An empty query matches everything.
func (idx *Index) Filter(query string) []*IndexEntry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return idx.Entries
	}
	var out []*IndexEntry
	for _, e := range idx.Entries {
		if strings.Contains(strings.ToLower(e.ID), query) ||
			strings.Contains(strings.ToLower(e.Name), query) ||
			strings.Contains(strings.ToLower(e.TypeKey), query) {
			out = append(out, e)
		}
	}
	return out
}

// Lookup resolves "#n", a full id, or an unambiguous id prefix.
func (idx *Index) Lookup(ref string) (*IndexEntry, error) {
	ref = strings.TrimSpace(ref)
	if n, ok := strings.CutPrefix(ref, "#"); ok {
		i, err := strconv.Atoi(n)
		if err != nil || i < 1 || i > len(idx.Entries) {
			return nil, fmt.Errorf("%w: no entry %s", archive.ErrObjectNotFound, ref)
		}
		return idx.Entries[i-1], nil
	}
	if e, ok := idx.byID[ref]; ok {
		return e, nil
	}
	var match *IndexEntry
	for _, e := range idx.Entries {
		if ref != "" && strings.HasPrefix(e.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("%w: %q matches more than one id", archive.ErrInvalid, ref)
			}
			match = e
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", archive.ErrObjectNotFound, ref)
	}
	return match, nil
}

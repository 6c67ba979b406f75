package archive

import (
	"path"
	"sort"
	"strings"

	"anyback-go/internal/snapshot"
)

const (
	objectsDir = "objects/"
	filesDir   = "files/"
)

// LooksLikeObjectID reports whether s has the shape of a content id
// ("bafy" followed by lowercase base32).
func LooksLikeObjectID(s string) bool {
	if len(s) < 20 || len(s) > 128 || !strings.HasPrefix(s, "bafy") {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// SnapshotPath returns the archive path of a snapshot entry.
func SnapshotPath(id string, f snapshot.Format) string {
	return objectsDir + id + f.Ext()
}

// ParseSnapshotPath recognises objects/<id>.pb, .pb.json and .md.
func ParseSnapshotPath(p string) (string, snapshot.Format, bool) {
	rest, ok := strings.CutPrefix(p, objectsDir)
	if !ok || strings.Contains(rest, "/") {
		return "", "", false
	}
	for _, f := range []snapshot.Format{snapshot.FormatPBJSON, snapshot.FormatPB, snapshot.FormatMarkdown} {
		if id, ok := strings.CutSuffix(rest, f.Ext()); ok && id != "" {
			return id, f, true
		}
	}
	return "", "", false
}

// InferObjectIDs returns the sorted, de-duplicated ids of protobuf snapshots
// under objects/ whose names look like content ids. Archives produced without
// a manifest are restored from this list.
func InferObjectIDs(files []FileEntry) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, f := range files {
		id, format, ok := ParseSnapshotPath(f.Path)
		if !ok || !format.Structured() || !LooksLikeObjectID(id) || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// validEntryName rejects ids that would escape their directory.
func validEntryName(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && path.Clean(id) == id
}

// BlobPath finds the file blob stored for id under files/. Blob names end in
// "_<id>" before the extension.
func BlobPath(files []FileEntry, id string) string {
	f, _ := BlobEntry(files, id)
	return f.Path
}

// BlobEntry is BlobPath with the blob's size.
func BlobEntry(files []FileEntry, id string) (FileEntry, bool) {
	for _, f := range files {
		if strings.HasPrefix(f.Path, filesDir) && strings.Contains(path.Base(f.Path), "_"+id) {
			return f, true
		}
	}
	return FileEntry{}, false
}

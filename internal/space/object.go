// Package space provides the local document stores that backups read from
// and restores write into.
package space

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"anyback-go/internal/anyback"
	"anyback-go/internal/archive"
	"anyback-go/internal/snapshot"
)

// Store is a document store that can also be administered from the CLI.
type Store interface {
	anyback.SpaceService

	CreateSpace(ctx context.Context, name string) (anyback.Space, error)
	ListSpaces(ctx context.Context) ([]anyback.Space, error)
	DeleteSpace(ctx context.Context, ref string) error

	// PutType registers an object type, replacing one with the same id.
	PutType(ctx context.Context, spaceID string, t anyback.ObjectType) error

	// PutObject stores obj unconditionally.
	PutObject(ctx context.Context, spaceID string, obj Object) error
}

// Object is a stored object: its listing metadata, the protobuf snapshot and,
// for file objects, the raw payload.
type Object struct {
	Info     anyback.ObjectInfo
	SBType   snapshot.SmartBlockType
	Snapshot []byte
	File     []byte
}

// typeKeyPrefix prefixes the unique key of object type objects.
const typeKeyPrefix = "ot-"

// ObjectFromSnapshot builds an Object from a protobuf snapshot. id overrides
// the id recorded in the details when set.
func ObjectFromSnapshot(id string, data, file []byte, fileName string) (Object, error) {
	snap, err := snapshot.Decode(data)
	if err != nil {
		return Object{}, fmt.Errorf("%w: decoding snapshot %s: %v", anyback.ErrInvalid, id, err)
	}
	if id == "" {
		id = snap.ID()
	}
	if id == "" {
		return Object{}, fmt.Errorf("%w: snapshot has no id", anyback.ErrInvalid)
	}

	layout, _ := snap.Layout()
	info := anyback.ObjectInfo{
		ID:       id,
		Name:     snap.Name(),
		TypeKey:  snap.TypeKey(),
		Layout:   layout,
		Archived: snap.Archived(),
		Links:    snap.Links(),
	}
	if t, ok := snap.LastModified(); ok {
		info.LastModified = t
	}
	if info.IsFile() {
		info.FileName = fileName
		if info.FileName == "" {
			info.FileName = defaultFileName(snap.Name(), snap.FileExt())
		}
	}
	return Object{Info: info, SBType: snap.SBType, Snapshot: data, File: file}, nil
}

func defaultFileName(name, ext string) string {
	if name == "" {
		name = "file"
	}
	if ext == "" || strings.HasSuffix(strings.ToLower(name), "."+strings.ToLower(ext)) {
		return name
	}
	return name + "." + ext
}

// objectType returns the type described by a type object.
func objectType(obj Object) (anyback.ObjectType, bool) {
	if obj.SBType != snapshot.SmartBlockObjectType {
		return anyback.ObjectType{}, false
	}
	snap, err := snapshot.Decode(obj.Snapshot)
	if err != nil {
		return anyback.ObjectType{}, false
	}
	key := strings.TrimPrefix(snapshot.StringDetail(snap.Details, "uniqueKey"), typeKeyPrefix)
	if key == "" {
		key = strings.ToLower(strings.ReplaceAll(snap.Name(), " ", "_"))
	}
	if key == "" {
		return anyback.ObjectType{}, false
	}
	return anyback.ObjectType{ID: obj.Info.ID, Key: key, Name: snap.Name()}, true
}

// matches reports whether info passes filter.
func matches(info anyback.ObjectInfo, filter anyback.ObjectFilter) bool {
	if info.Archived && !filter.IncludeArchived {
		return false
	}
	if len(filter.TypeKeys) > 0 && !slices.Contains(filter.TypeKeys, info.TypeKey) {
		return false
	}
	return true
}

// pendingImport is one archive entry read by ImportPaths.
type pendingImport struct {
	id  string
	obj Object
	err error
}

// readArchivePaths loads the snapshot entries at paths from the archive,
// together with the file blobs of file objects. Entry failures are reported
// per item; failing to open the archive fails the whole call.
func readArchivePaths(archivePath string, paths []string) ([]pendingImport, error) {
	a, err := archive.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	files, err := a.Files()
	if err != nil {
		return nil, fmt.Errorf("listing archive: %w", err)
	}

	out := make([]pendingImport, 0, len(paths))
	for _, p := range paths {
		id, format, ok := archive.ParseSnapshotPath(p)
		if !ok {
			out = append(out, pendingImport{id: p, err: fmt.Errorf("%w: %s is not a snapshot entry", anyback.ErrInvalid, p)})
			continue
		}
		obj, err := readArchiveEntry(a, files, id, p, format)
		out = append(out, pendingImport{id: id, obj: obj, err: err})
	}
	return out, nil
}

func readArchiveEntry(a *archive.Archive, files []archive.FileEntry, id, p string, format snapshot.Format) (Object, error) {
	if !format.Structured() {
		return Object{}, fmt.Errorf("%w: %s snapshots cannot be imported", anyback.ErrUnsupportedFormat, format)
	}
	data, err := a.ReadFile(p)
	if err != nil {
		return Object{}, err
	}
	if format == snapshot.FormatPBJSON {
		snap, err := snapshot.DecodeJSON(data)
		if err != nil {
			return Object{}, fmt.Errorf("%w: decoding %s: %v", anyback.ErrInvalid, p, err)
		}
		if data, err = snapshot.Encode(snap); err != nil {
			return Object{}, fmt.Errorf("encoding %s: %w", p, err)
		}
	}

	var blob []byte
	var fileName string
	if bp := archive.BlobPath(files, id); bp != "" {
		if blob, err = a.ReadFile(bp); err != nil {
			return Object{}, err
		}
		fileName = blobFileName(path.Base(bp), id)
	}
	return ObjectFromSnapshot(id, data, blob, fileName)
}

// blobFileName recovers "<title><ext>" from a "<title>_<id><ext>" blob name.
func blobFileName(base, id string) string {
	i := strings.LastIndex(base, "_"+id)
	if i < 0 {
		return base
	}
	return base[:i] + base[i+len(id)+1:]
}

func cloneInfo(info anyback.ObjectInfo) anyback.ObjectInfo {
	info.Links = slices.Clone(info.Links)
	return info
}

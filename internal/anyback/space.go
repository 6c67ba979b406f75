package anyback

import (
	"context"
	"time"

	"anyback-go/internal/snapshot"
)

// Space is a resolved workspace.
type Space struct {
	ID   string
	Name string
}

// ObjectInfo is the listing metadata for one object in a space.
type ObjectInfo struct {
	ID           string
	Name         string
	TypeKey      string
	Layout       int
	Archived     bool
	LastModified time.Time
	// Links holds ids of objects this object references.
	Links []string
	// FileName is set for file objects, including the extension.
	FileName string
}

// IsFile reports whether the object carries a binary payload.
func (o ObjectInfo) IsFile() bool { return snapshot.IsFileLayout(o.Layout) }

// ObjectType describes an object type known to a space.
type ObjectType struct {
	ID   string
	Key  string
	Name string
}

// ObjectFilter narrows ListObjects.
type ObjectFilter struct {
	IncludeArchived bool
	// TypeKeys restricts the listing to objects of these type keys.
	TypeKeys []string
}

// ImportOptions are passed through to the space on import.
type ImportOptions struct {
	// Replace overwrites objects that already exist with the same id.
	Replace bool
}

// SnapshotImport is one object submitted by the snapshot transport.
type SnapshotImport struct {
	ID   string
	Data []byte
	// File carries the raw blob of file objects, when the archive has one.
	File     []byte
	FileName string
}

// ImportResult is the per-object result returned by the space.
type ImportResult struct {
	ID  string
	Err error
}

// SpaceService is the document store collaborator. Every method is a
// fallible remote call; retry policy belongs to the implementation.
type SpaceService interface {
	// ResolveSpace looks a space up by id or name. It returns an error
	// wrapping ErrSpaceNotFound when nothing matches.
	ResolveSpace(ctx context.Context, ref string) (Space, error)

	ListObjects(ctx context.Context, spaceID string, filter ObjectFilter) ([]ObjectInfo, error)

	// GetObject returns an error wrapping ErrObjectNotFound for unknown ids.
	GetObject(ctx context.Context, spaceID, id string) (ObjectInfo, error)

	ListTypes(ctx context.Context, spaceID string) ([]ObjectType, error)

	// FetchSnapshot returns the protobuf snapshot of one object.
	FetchSnapshot(ctx context.Context, spaceID, id string) ([]byte, error)

	// FetchFile returns the raw bytes of a file object.
	FetchFile(ctx context.Context, spaceID, id string) ([]byte, error)

	LastModified(ctx context.Context, spaceID, id string) (time.Time, error)

	// ImportSnapshots creates objects from raw snapshots in one call.
	ImportSnapshots(ctx context.Context, spaceID string, items []SnapshotImport, opts ImportOptions) ([]ImportResult, error)

	// ImportPaths imports the given entries of the archive at archivePath,
	// reading them itself.
	ImportPaths(ctx context.Context, spaceID, archivePath string, paths []string, opts ImportOptions) ([]ImportResult, error)

	ObjectExists(ctx context.Context, spaceID, id string) (bool, error)

	DeleteObject(ctx context.Context, spaceID, id string) error
}

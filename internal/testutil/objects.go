package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"anyback-go/internal/anyback"
	"anyback-go/internal/snapshot"
	"anyback-go/internal/space"
)

// ObjectID returns a deterministic content-id shaped object id.
func ObjectID(n int) string {
	return fmt.Sprintf("bafyreitestobject%08d", n)
}

// Fixture describes one object of a seeded space.
type Fixture struct {
	ID       string
	Name     string
	Text     string
	TypeKey  string
	Layout   int
	SBType   snapshot.SmartBlockType
	Archived bool
	Modified time.Time
	Links    []string
	FileExt  string
	// File is stored as the object's payload; fixtures with a file default
	// to the file layout.
	File []byte
}

// Snapshot returns the protobuf snapshot described by f.
func (f Fixture) Snapshot(t *testing.T) []byte {
	t.Helper()

	sbType := f.SBType
	if sbType == 0 {
		sbType = snapshot.SmartBlockPage
	}
	typeKey := f.TypeKey
	if typeKey == "" {
		typeKey = "page"
	}
	layout := f.Layout
	if layout == 0 && f.File != nil {
		layout = snapshot.LayoutFile
	}
	modified := f.Modified
	if modified.IsZero() {
		modified = FixedTime.Add(-24 * time.Hour)
	}

	details := map[string]any{
		snapshot.DetailID:               f.ID,
		snapshot.DetailName:             f.Name,
		snapshot.DetailType:             typeKey,
		snapshot.DetailLayout:           layout,
		snapshot.DetailLastModifiedDate: modified.Unix(),
	}
	if f.Archived {
		details[snapshot.DetailIsArchived] = true
	}
	if f.FileExt != "" {
		details[snapshot.DetailFileExt] = f.FileExt
	}
	if len(f.Links) > 0 {
		links := make([]any, len(f.Links))
		for i, l := range f.Links {
			links[i] = l
		}
		details[snapshot.DetailLinks] = links
	}

	var blocks []*snapshot.Block
	if f.Text != "" {
		blocks = append(blocks,
			snapshot.ContainerBlock(f.ID, f.ID+"-text"),
			snapshot.TextBlock(f.ID+"-text", f.Text, snapshot.TextParagraph),
		)
	}
	snap, err := snapshot.New(sbType, details, blocks...)
	if err != nil {
		t.Fatalf("building snapshot %s: %v", f.ID, err)
	}
	b, err := snapshot.Encode(snap)
	if err != nil {
		t.Fatalf("encoding snapshot %s: %v", f.ID, err)
	}
	return b
}

// NewTestSpace creates an in-memory store with deterministic ids and clock.
func NewTestSpace() *space.MemorySpace {
	return space.NewMemorySpace(FixedClock(), NewStubIDGenerator("space"))
}

// SeedSpace creates a space named name in store and stores the fixtures.
func SeedSpace(t *testing.T, store space.Store, name string, fixtures ...Fixture) anyback.Space {
	t.Helper()

	ctx := context.Background()
	sp, err := store.CreateSpace(ctx, name)
	if err != nil {
		t.Fatalf("CreateSpace(%s) error = %v", name, err)
	}
	for _, f := range fixtures {
		obj, err := space.ObjectFromSnapshot(f.ID, f.Snapshot(t), f.File, "")
		if err != nil {
			t.Fatalf("ObjectFromSnapshot(%s) error = %v", f.ID, err)
		}
		if err := store.PutObject(ctx, sp.ID, obj); err != nil {
			t.Fatalf("PutObject(%s) error = %v", f.ID, err)
		}
	}
	return sp
}

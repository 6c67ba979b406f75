package testutil

import (
	"testing"

	"anyback-go/internal/archive"
	"anyback-go/internal/snapshot"
)

// WriteArchive writes a pb archive of the fixtures to path. Fixtures with a
// file get their blob stored under files/. A nil manifest writes no sidecar.
func WriteArchive(t *testing.T, path string, m *archive.Manifest, fixtures ...Fixture) {
	t.Helper()

	w, err := archive.Create(path, archive.KindFor(path))
	if err != nil {
		t.Fatalf("archive.Create(%s) error = %v", path, err)
	}
	for _, f := range fixtures {
		if err := w.AppendSnapshot(f.ID, snapshot.FormatPB, f.Snapshot(t)); err != nil {
			w.Abort()
			t.Fatalf("AppendSnapshot(%s) error = %v", f.ID, err)
		}
		if f.File != nil {
			name := f.Name
			if f.FileExt != "" {
				name += "." + f.FileExt
			}
			if _, err := w.AppendFileBlob(f.ID, name, f.File); err != nil {
				w.Abort()
				t.Fatalf("AppendFileBlob(%s) error = %v", f.ID, err)
			}
		}
	}
	if err := w.Finalize(m); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
}

// ManifestFor returns a full-backup manifest listing the fixtures.
func ManifestFor(spaceID, spaceName string, fixtures ...Fixture) *archive.Manifest {
	m := &archive.Manifest{
		SchemaVersion:   archive.SchemaVersion,
		Tool:            "anyback/test",
		CreatedAt:       FixedTime.Format("2006-01-02T15:04:05Z07:00"),
		SourceSpaceID:   spaceID,
		SourceSpaceName: spaceName,
		Format:          string(snapshot.FormatPB),
		ObjectCount:     len(fixtures),
		Kind:            archive.KindFull,
	}
	for _, f := range fixtures {
		m.Objects = append(m.Objects, archive.ObjectDescriptor{ID: f.ID, Name: f.Name})
	}
	return m
}

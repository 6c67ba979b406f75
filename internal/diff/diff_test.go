package diff_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"anyback-go/internal/archive"
	"anyback-go/internal/diff"
	"anyback-go/internal/snapshot"
	"anyback-go/internal/testutil"
)

func open(t *testing.T, path string) *archive.Archive {
	t.Helper()
	a, err := archive.Open(path)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", path, err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// writeFormat writes the fixtures as entries of format f.
func writeFormat(t *testing.T, path string, f snapshot.Format, fixtures ...testutil.Fixture) {
	t.Helper()
	w, err := archive.Create(path, archive.KindFor(path))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for _, fx := range fixtures {
		snap, err := snapshot.Decode(fx.Snapshot(t))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		data, err := snapshot.EncodeFormat(f, snap)
		if err != nil {
			t.Fatalf("EncodeFormat(%s) error = %v", f, err)
		}
		if err := w.AppendSnapshot(fx.ID, f, data); err != nil {
			t.Fatalf("AppendSnapshot() error = %v", err)
		}
	}
	if err := w.Finalize(nil); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	one := testutil.Fixture{ID: testutil.ObjectID(1), Name: "One", Text: "first"}
	two := testutil.Fixture{ID: testutil.ObjectID(2), Name: "Two", Text: "second"}
	twoEdited := testutil.Fixture{ID: testutil.ObjectID(2), Name: "Two", Text: "second, edited"}
	three := testutil.Fixture{ID: testutil.ObjectID(3), Name: "Three"}

	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.zip")
	pathB := filepath.Join(dir, "b")
	testutil.WriteArchive(t, pathA, nil, one, two)
	testutil.WriteArchive(t, pathB, nil, twoEdited, three)

	t.Run("same archive is empty", func(t *testing.T) {
		res, err := diff.Compare(ctx, open(t, pathA), open(t, pathA))
		if err != nil {
			t.Fatalf("Compare() error = %v", err)
		}
		if !res.Empty() {
			t.Errorf("Compare(A, A) = %+v, want empty", res)
		}
	})

	t.Run("added removed and changed", func(t *testing.T) {
		res, err := diff.Compare(ctx, open(t, pathA), open(t, pathB))
		if err != nil {
			t.Fatalf("Compare() error = %v", err)
		}
		if len(res.OnlyA) != 1 || res.OnlyA[0] != one.ID {
			t.Errorf("OnlyA = %v, want [%s]", res.OnlyA, one.ID)
		}
		if len(res.OnlyB) != 1 || res.OnlyB[0] != three.ID {
			t.Errorf("OnlyB = %v, want [%s]", res.OnlyB, three.ID)
		}
		if len(res.Changed) != 1 || res.Changed[0].ID != two.ID {
			t.Fatalf("Changed = %+v, want only %s", res.Changed, two.ID)
		}
		if res.Changed[0].Old == res.Changed[0].New {
			t.Error("Changed entry has equal fingerprints")
		}
	})

	t.Run("pb against pb-json", func(t *testing.T) {
		pathJSON := filepath.Join(t.TempDir(), "json.zip")
		writeFormat(t, pathJSON, snapshot.FormatPBJSON, one, two)

		res, err := diff.Compare(ctx, open(t, pathA), open(t, pathJSON))
		if err != nil {
			t.Fatalf("Compare() error = %v", err)
		}
		if !res.Empty() {
			t.Errorf("Compare(pb, pb-json) = %+v, want empty", res)
		}
	})

	t.Run("markdown against pb", func(t *testing.T) {
		pathMD := filepath.Join(t.TempDir(), "md.zip")
		writeFormat(t, pathMD, snapshot.FormatMarkdown, one)

		_, err := diff.Compare(ctx, open(t, pathA), open(t, pathMD))
		if !errors.Is(err, archive.ErrUnsupportedFormat) {
			t.Errorf("Compare(pb, markdown) error = %v, want ErrUnsupportedFormat", err)
		}
	})

	t.Run("mixed formats in one archive", func(t *testing.T) {
		pathMixed := filepath.Join(t.TempDir(), "mixed.zip")
		w, err := archive.Create(pathMixed, archive.KindZip)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := w.AppendSnapshot(one.ID, snapshot.FormatPB, one.Snapshot(t)); err != nil {
			t.Fatalf("AppendSnapshot() error = %v", err)
		}
		if err := w.AppendSnapshot(two.ID, snapshot.FormatMarkdown, []byte("# Two\n")); err != nil {
			t.Fatalf("AppendSnapshot() error = %v", err)
		}
		if err := w.Finalize(nil); err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}

		_, err = diff.Compare(ctx, open(t, pathMixed), open(t, pathA))
		if !errors.Is(err, archive.ErrUnsupportedFormat) {
			t.Errorf("Compare(mixed) error = %v, want ErrUnsupportedFormat", err)
		}
	})
}

package inspect_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"anyback-go/internal/archive"
	"anyback-go/internal/inspect"
	"anyback-go/internal/snapshot"
	"anyback-go/internal/testutil"
)

var (
	page = testutil.Fixture{ID: testutil.ObjectID(1), Name: "Meeting notes", Text: "agenda for monday"}
	task = testutil.Fixture{ID: testutil.ObjectID(2), Name: "Buy milk", TypeKey: "task", Layout: snapshot.LayoutTodo, Links: []string{testutil.ObjectID(1)}}
	file = testutil.Fixture{ID: testutil.ObjectID(3), Name: "Report", FileExt: "pdf", File: []byte("%PDF-1.7 body")}
	kind = testutil.Fixture{ID: testutil.ObjectID(4), Name: "Task", TypeKey: "ot-task", SBType: snapshot.SmartBlockObjectType}
)

func openFixtures(t *testing.T) *archive.Archive {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.zip")
	fixtures := []testutil.Fixture{page, task, file, kind}
	testutil.WriteArchive(t, path, testutil.ManifestFor("space-1", "Work", fixtures...), fixtures...)
	a, err := archive.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestExtract(t *testing.T) {
	a := openFixtures(t)

	t.Run("document renders markdown", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "notes.md")
		got, err := inspect.Extract(a, page.ID, out)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if got != inspect.KindMarkdown {
			t.Errorf("Extract() kind = %s, want markdown", got)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if !strings.Contains(string(data), "agenda for monday") {
			t.Errorf("extracted markdown = %q, want the page text", data)
		}
	})

	t.Run("file object writes raw payload", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "report.pdf")
		got, err := inspect.Extract(a, file.ID, out)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if got != inspect.KindRaw {
			t.Errorf("Extract() kind = %s, want raw", got)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if !bytes.Equal(data, file.File) {
			t.Errorf("extracted payload = %q, want %q", data, file.File)
		}
	})

	t.Run("types are not extractable", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "type.md")
		_, err := inspect.Extract(a, kind.ID, out)
		if !errors.Is(err, inspect.ErrUnsupportedExtractKind) {
			t.Errorf("Extract() error = %v, want ErrUnsupportedExtractKind", err)
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Errorf("output exists after failed extract")
		}
	})

	t.Run("missing object", func(t *testing.T) {
		_, err := inspect.Extract(a, "bafyreimissing", filepath.Join(t.TempDir(), "x.md"))
		if !errors.Is(err, archive.ErrObjectNotFound) {
			t.Errorf("Extract() error = %v, want ErrObjectNotFound", err)
		}
	})

	t.Run("existing output is refused", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "taken.md")
		if err := os.WriteFile(out, []byte("keep"), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := inspect.Extract(a, page.ID, out)
		if !errors.Is(err, archive.ErrAlreadyExists) {
			t.Errorf("Extract() error = %v, want ErrAlreadyExists", err)
		}
		if data, _ := os.ReadFile(out); string(data) != "keep" {
			t.Errorf("existing output was overwritten: %q", data)
		}
	})
}

func TestPayloadPath(t *testing.T) {
	details, err := structpb.NewStruct(map[string]any{
		"name":     "Holiday",
		"fileExt":  "jpg",
		"fileHash": "bafkreihash123",
	})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		files []archive.FileEntry
		want  string
	}{
		{
			name: "files dir with id wins",
			files: []archive.FileEntry{
				{Path: "objects/obj1.pb"},
				{Path: "other/holiday.jpg"},
				{Path: "files/holiday_obj1.jpg"},
			},
			want: "files/holiday_obj1.jpg",
		},
		{
			name: "hash token outside files dir",
			files: []archive.FileEntry{
				{Path: "blobs/bafkreihash123"},
				{Path: "notes.txt"},
			},
			want: "blobs/bafkreihash123",
		},
		{
			name: "first of equal scores",
			files: []archive.FileEntry{
				{Path: "files/a.jpg"},
				{Path: "files/b.jpg"},
			},
			want: "files/a.jpg",
		},
		{
			name: "snapshots and manifests are skipped",
			files: []archive.FileEntry{
				{Path: "objects/obj1.pb.json"},
				{Path: "manifest.json"},
				{Path: "objects/obj1.md"},
			},
			want: "",
		},
		{
			name:  "nothing matches",
			files: []archive.FileEntry{{Path: "readme.txt"}},
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inspect.PayloadPath("obj1", details, tt.files); got != tt.want {
				t.Errorf("PayloadPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildIndex(t *testing.T) {
	idx, err := inspect.BuildIndex(openFixtures(t))
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	if len(idx.Entries) != 4 {
		t.Fatalf("len(Entries) = %d, want 4", len(idx.Entries))
	}
	if idx.Manifest == nil || idx.Manifest.SourceSpaceName != "Work" {
		t.Errorf("Manifest = %+v, want the sidecar", idx.Manifest)
	}
	if idx.Source != archive.SourceZip {
		t.Errorf("Source = %s, want zip", idx.Source)
	}

	var names []string
	for _, e := range idx.Entries {
		names = append(names, e.Name)
	}
	if got, want := strings.Join(names, ","), "Buy milk,Meeting notes,Report,Task"; got != want {
		t.Errorf("entry order = %s, want %s", got, want)
	}

	notes, err := idx.Lookup("#2")
	if err != nil {
		t.Fatalf("Lookup(#2) error = %v", err)
	}
	if notes.ID != page.ID {
		t.Errorf("Lookup(#2) = %s, want %s", notes.ID, page.ID)
	}
	if len(notes.Backlinks) != 1 || notes.Backlinks[0] != task.ID {
		t.Errorf("Backlinks = %v, want [%s]", notes.Backlinks, task.ID)
	}

	if got := idx.Filter("TASK"); len(got) != 2 {
		t.Errorf("Filter(TASK) = %d entries, want 2", len(got))
	}
	if got := idx.Filter(""); len(got) != 4 {
		t.Errorf("Filter(\"\") = %d entries, want 4", len(got))
	}

	lookups := []struct {
		ref     string
		wantErr error
	}{
		{ref: "#0", wantErr: archive.ErrNotFound},
		{ref: "#9", wantErr: archive.ErrNotFound},
		{ref: "bafyreitestobject", wantErr: archive.ErrInvalid},
		{ref: "nope", wantErr: archive.ErrNotFound},
	}
	for _, tt := range lookups {
		if _, err := idx.Lookup(tt.ref); !errors.Is(err, tt.wantErr) {
			t.Errorf("Lookup(%q) error = %v, want %v", tt.ref, err, tt.wantErr)
		}
	}
	if e, err := idx.Lookup("bafyreitestobject00000003"); err != nil || e.ID != file.ID {
		t.Errorf("Lookup(full id) = %v, %v; want %s", e, err, file.ID)
	}
}

func TestBuildIndex_UnreadableEntry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "export")
	w, err := archive.Create(dir, archive.KindDir)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.AppendSnapshot("bafyreibroken", snapshot.FormatPB, []byte{0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("AppendSnapshot() error = %v", err)
	}
	if err := w.Finalize(nil); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	a, err := archive.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()

	idx, err := inspect.BuildIndex(a)
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	if len(idx.Entries) != 1 || idx.Entries[0].Readable || idx.Entries[0].Error == "" {
		t.Errorf("Entries = %+v, want one unreadable entry with an error", idx.Entries)
	}
	if idx.Manifest != nil || idx.ManifestError != "" {
		t.Errorf("manifest = %+v / %q, want missing", idx.Manifest, idx.ManifestError)
	}
}

func TestInspector_Session(t *testing.T) {
	in, err := inspect.NewInspector(openFixtures(t), inspect.Options{CacheBytes: 1 << 20})
	if err != nil {
		t.Fatalf("NewInspector() error = %v", err)
	}

	input := strings.Join([]string{
		"ls milk",
		"show #2",
		"show #2",
		"show " + kind.ID,
		"bogus",
		"stats",
		"quit",
		"ls",
	}, "\n")
	var out bytes.Buffer
	if err := in.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := out.String()

	for _, want := range []string{
		"1 of 4 entries",
		"agenda for monday",
		"backlinks: " + task.ID,
		"no preview for this kind of object",
		`unknown command "bogus"`,
		"hits:      1",
		"renders:   2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("session output missing %q\n%s", want, got)
		}
	}
	if strings.Contains(got, "4 of 4 entries") {
		t.Errorf("commands after quit were executed")
	}
}

func TestInspector_ShowFilePayload(t *testing.T) {
	in, err := inspect.NewInspector(openFixtures(t), inspect.Options{})
	if err != nil {
		t.Fatalf("NewInspector() error = %v", err)
	}
	e, p, err := in.Preview(file.ID)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if e.Layout != "file" || p.Kind != inspect.KindRaw || !bytes.Equal(p.Data, file.File) {
		t.Errorf("Preview() = %s/%s %q, want raw file payload", e.Layout, p.Kind, p.Data)
	}
	if s := in.Cache().Stats(); s.Budget != inspect.DefaultCacheBytes {
		t.Errorf("Budget = %d, want default %d", s.Budget, inspect.DefaultCacheBytes)
	}
}

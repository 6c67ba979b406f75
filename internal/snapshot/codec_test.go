package snapshot

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func samplePage(t *testing.T) *Snapshot {
	t.Helper()
	s, err := New(SmartBlockPage, map[string]any{
		"id":               "bafyreipage",
		"name":             "Weekly notes",
		"layout":           0,
		"lastModifiedDate": 1717243200,
		"links":            []any{"bafyreiother"},
	},
		ContainerBlock("bafyreipage", "title", "p1"),
		TextBlock("title", "Weekly notes", TextTitle),
		TextBlock("p1", "first paragraph", TextParagraph),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.ObjectTypes = []string{"ot-page"}
	return s
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	s := samplePage(t)
	b, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.SBType != SmartBlockPage {
		t.Errorf("SBType = %v, want Page", got.SBType)
	}
	if got.ID() != "bafyreipage" || got.Name() != "Weekly notes" {
		t.Errorf("details = (%q, %q)", got.ID(), got.Name())
	}
	if len(got.Blocks) != 3 || got.Blocks[1].Text.Style != TextTitle {
		t.Fatalf("blocks not preserved: %+v", got.Blocks)
	}
	if len(got.ObjectTypes) != 1 || got.ObjectTypes[0] != "ot-page" {
		t.Errorf("ObjectTypes = %v", got.ObjectTypes)
	}
	if links := got.Links(); len(links) != 1 || links[0] != "bafyreiother" {
		t.Errorf("Links() = %v", links)
	}

	again, err := Encode(got)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Equal(b, again) {
		t.Error("re-encoding changed the bytes")
	}
}

func TestDecode_PreservesUnknownFields(t *testing.T) {
	b, err := Encode(samplePage(t))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	// Field 99 is not part of the model.
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	s, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	out, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Contains(out, []byte("future")) {
		t.Error("unknown field was dropped on re-encode")
	}
}

func TestDecode_MissingData(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"empty", nil},
		{"type only", protowire.AppendVarint(protowire.AppendTag(nil, 1, protowire.VarintType), 0x10)},
		{"empty change", appendMessage(nil, 2, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.b)
			if !errors.Is(err, ErrMissingData) {
				t.Errorf("Decode() error = %v, want ErrMissingData", err)
			}
		})
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("Decode() expected error for malformed bytes")
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	s := samplePage(t)
	s.Blocks = append(s.Blocks, &Block{
		ID:   "f1",
		File: &File{Hash: "bafyfile", Name: "photo.png", Type: FileTypeImage, Size: 1234, State: FileStateDone},
	})

	b, err := EncodeJSON(s)
	if err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}
	if !bytes.Contains(b, []byte(`"sbType": "Page"`)) {
		t.Errorf("EncodeJSON() missing sbType name:\n%s", b)
	}

	got, err := DecodeJSON(b)
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	f := got.Blocks[3].File
	if f == nil || f.Size != 1234 || f.Type != FileTypeImage || f.State != FileStateDone {
		t.Errorf("file block = %+v", f)
	}
	if layout, ok := got.Layout(); !ok || layout != LayoutBasic {
		t.Errorf("Layout() = %d, %v", layout, ok)
	}
}

func TestDecodeJSON_NumericEnums(t *testing.T) {
	doc := `{"sbType":16,"snapshot":{"data":{"blocks":[{"id":"a","text":{"text":"x","style":9}}]}}}`
	s, err := DecodeJSON([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if s.SBType != SmartBlockPage {
		t.Errorf("SBType = %v", s.SBType)
	}
	if s.Blocks[0].Text.Style != TextMarked {
		t.Errorf("Style = %v, want Marked", s.Blocks[0].Text.Style)
	}
}

func TestDecodeJSON_MissingData(t *testing.T) {
	_, err := DecodeJSON([]byte(`{"sbType":"Page","snapshot":{}}`))
	if !errors.Is(err, ErrMissingData) {
		t.Errorf("DecodeJSON() error = %v, want ErrMissingData", err)
	}
}

func TestFingerprint_PBMatchesPBJSON(t *testing.T) {
	s := samplePage(t)
	pb, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	js, err := EncodeJSON(s)
	if err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}

	fpb, err := Fingerprint(FormatPB, pb)
	if err != nil {
		t.Fatalf("Fingerprint(pb) error = %v", err)
	}
	fjs, err := Fingerprint(FormatPBJSON, js)
	if err != nil {
		t.Fatalf("Fingerprint(pb-json) error = %v", err)
	}
	if fpb != fjs {
		t.Errorf("fingerprints differ: %s vs %s", fpb, fjs)
	}

	if err := s.SetDetail("name", "Renamed"); err != nil {
		t.Fatal(err)
	}
	changed, _ := Encode(s)
	fchanged, _ := Fingerprint(FormatPB, changed)
	if fchanged == fpb {
		t.Error("fingerprint did not change after editing the name")
	}
}

func TestFingerprint_MarkdownLineEndings(t *testing.T) {
	a, _ := Fingerprint(FormatMarkdown, []byte("# Title\r\nbody\r\n"))
	b, _ := Fingerprint(FormatMarkdown, []byte("# Title\nbody\n"))
	if a != b {
		t.Errorf("line endings changed the fingerprint: %s vs %s", a, b)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatPB, false},
		{"pb", FormatPB, false},
		{"PB-JSON", FormatPBJSON, false},
		{"markdown", FormatMarkdown, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

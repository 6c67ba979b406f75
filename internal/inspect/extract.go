// Package inspect extracts single objects from archives and serves the
// interactive archive browser.
package inspect

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"anyback-go/internal/archive"
	"anyback-go/internal/snapshot"
)

// ErrUnsupportedExtractKind is returned for objects that have no standalone
// representation, such as types and relations.
var ErrUnsupportedExtractKind = fmt.Errorf("%w: object kind cannot be extracted", archive.ErrUnsupportedFormat)

// Kind is the representation Extract wrote.
type Kind string

const (
	KindMarkdown Kind = "markdown"
	KindRaw      Kind = "raw"
)

// Extract writes object id to out: raw payload bytes for file objects,
// rendered markdown for documents. out must not exist.
func Extract(a *archive.Archive, id, out string) (Kind, error) {
	kind, data, err := Render(a, id, nil)
	if err != nil {
		return "", err
	}
	if err := archive.WriteFileExclusive(out, data); err != nil {
		return "", err
	}
	return kind, nil
}

// Render produces the bytes Extract would write. index resolves link titles;
// when nil it is built from the archive.
func Render(a *archive.Archive, id string, index map[string]snapshot.ObjectInfo) (Kind, []byte, error) {
	data, format, err := a.ReadSnapshot(id)
	if err != nil {
		return "", nil, err
	}
	if format == snapshot.FormatMarkdown {
		return KindMarkdown, data, nil
	}

	snap, err := snapshot.DecodeFormat(format, data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: decoding %s: %v", archive.ErrArchiveInvalid, id, err)
	}
	if !snap.SBType.Extractable() {
		return "", nil, fmt.Errorf("%w: %s is a %s", ErrUnsupportedExtractKind, id, snap.SBType)
	}

	if snap.IsFile() {
		files, err := a.Files()
		if err != nil {
			return "", nil, fmt.Errorf("listing archive: %w", err)
		}
		p := PayloadPath(id, snap.Details, files)
		if p == "" {
			return "", nil, fmt.Errorf("%w: payload of file object %s", archive.ErrNotFound, id)
		}
		blob, err := a.ReadFile(p)
		if err != nil {
			return "", nil, err
		}
		return KindRaw, blob, nil
	}

	if index == nil {
		if index, err = ObjectIndex(a); err != nil {
			return "", nil, err
		}
	}
	return KindMarkdown, []byte(snapshot.RenderMarkdown(snap, index)), nil
}

// payloadTokenKeys are the details whose values may appear in a blob path.
var payloadTokenKeys = []string{
	"source", "fileHash", "hash", "fileObjectId", "targetObjectId", "fileName", snapshot.DetailName,
}

// PayloadPath picks the archive item most likely to hold the raw payload of
// file object id. Snapshot entries and manifests are never candidates. Paths
// score 30 for living under files/ and 25 for each detail token of at least
// three characters they contain. The first best-scoring path wins.
func PayloadPath(id string, details *structpb.Struct, files []archive.FileEntry) string {
	var tokens []string
	add := func(v string) {
		if v = strings.ToLower(strings.TrimSpace(v)); len(v) >= 3 {
			tokens = append(tokens, v)
		}
	}
	add(id)
	for _, key := range payloadTokenKeys {
		add(snapshot.StringDetail(details, key))
	}
	if ext := strings.TrimPrefix(strings.TrimSpace(snapshot.StringDetail(details, snapshot.DetailFileExt)), "."); ext != "" {
		add("." + ext)
	}

	best, bestScore := "", 0
	for _, f := range files {
		lower := strings.ToLower(f.Path)
		if strings.HasSuffix(lower, ".pb") || strings.HasSuffix(lower, ".pb.json") ||
			lower == archive.ManifestName {
			continue
		}
		if _, _, ok := archive.ParseSnapshotPath(f.Path); ok {
			continue
		}
		score := 0
		if strings.HasPrefix(lower, "files/") {
			score += 30
		}
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				score += 25
			}
		}
		if score > bestScore {
			best, bestScore = f.Path, score
		}
	}
	return best
}

// ObjectIndex reads the details of every structured snapshot in a for link
// rendering. Unreadable entries are skipped.
func ObjectIndex(a *archive.Archive) (map[string]snapshot.ObjectInfo, error) {
	entries, err := a.ListEntries()
	if err != nil {
		return nil, err
	}
	out := make(map[string]snapshot.ObjectInfo, len(entries))
	for _, e := range entries {
		if !e.Format.Structured() {
			continue
		}
		data, err := a.ReadFile(e.Path)
		if err != nil {
			continue
		}
		snap, err := snapshot.DecodeFormat(e.Format, data)
		if err != nil {
			continue
		}
		out[e.ID] = snapshot.InfoOf(e.ID, snap)
	}
	return out, nil
}

package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Format is the serialization used for a snapshot entry.
type Format string

const (
	FormatPB       Format = "pb"
	FormatPBJSON   Format = "pb-json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format name as given on the command line.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPB, FormatPBJSON, FormatMarkdown:
		return f, nil
	case "":
		return FormatPB, nil
	default:
		return "", fmt.Errorf("unknown format %q (expected pb, pb-json or markdown)", s)
	}
}

// Ext returns the file extension used for entries of this format.
func (f Format) Ext() string {
	switch f {
	case FormatPBJSON:
		return ".pb.json"
	case FormatMarkdown:
		return ".md"
	default:
		return ".pb"
	}
}

// Structured reports whether the format can be decoded into a Snapshot.
func (f Format) Structured() bool {
	return f == FormatPB || f == FormatPBJSON
}

// DecodeFormat decodes snapshot bytes of a structured format.
func DecodeFormat(f Format, b []byte) (*Snapshot, error) {
	switch f {
	case FormatPB:
		return Decode(b)
	case FormatPBJSON:
		return DecodeJSON(b)
	default:
		return nil, fmt.Errorf("format %s has no structured form", f)
	}
}

// EncodeFormat encodes s in the given format. Markdown output is rendered
// without a cross-object index.
func EncodeFormat(f Format, s *Snapshot) ([]byte, error) {
	switch f {
	case FormatPB:
		return Encode(s)
	case FormatPBJSON:
		return EncodeJSON(s)
	case FormatMarkdown:
		return []byte(RenderMarkdown(s, nil)), nil
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
}

// Canonical returns the canonical protobuf encoding of a structured entry.
// pb and pb-json captures of the same content share one canonical form.
func Canonical(f Format, b []byte) ([]byte, error) {
	s, err := DecodeFormat(f, b)
	if err != nil {
		return nil, err
	}
	return Encode(s)
}

// Fingerprint derives a content fingerprint of the form "sha256:<hex>".
// Structured entries are hashed in canonical form so incidental re-encoding
// (map order, field order) does not register as a change. Markdown is hashed
// with normalised line endings.
func Fingerprint(f Format, b []byte) (string, error) {
	var payload []byte
	if f.Structured() {
		canonical, err := Canonical(f, b)
		if err != nil {
			return "", fmt.Errorf("canonicalizing snapshot: %w", err)
		}
		payload = canonical
	} else {
		payload = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	}
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

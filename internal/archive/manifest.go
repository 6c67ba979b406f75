package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// SchemaVersion is the manifest schema written by this tool.
	SchemaVersion = 1
	// ManifestName is the in-archive manifest path some producers use.
	ManifestName  = "manifest.json"
	sidecarSuffix = ".manifest.json"
)

// Backup kinds recorded in the manifest.
const (
	KindFull        = "full"
	KindSelective   = "selective"
	KindIncremental = "incremental"
)

// ObjectDescriptor identifies one captured object in the manifest.
type ObjectDescriptor struct {
	ID           string `json:"id"`
	NewID        string `json:"new_id,omitempty"`
	Name         string `json:"name,omitempty"`
	Type         string `json:"type,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// Options records the include flags a backup ran with.
type Options struct {
	IncludeFiles    bool `json:"include_files"`
	IncludeNested   bool `json:"include_nested"`
	IncludeArchived bool `json:"include_archived"`
}

// Manifest describes how an archive was produced. It is written once, as a
// sidecar next to the archive, after the archive itself is in place.
type Manifest struct {
	SchemaVersion    int                `json:"schema_version"`
	Tool             string             `json:"tool"`
	CreatedAt        string             `json:"created_at"`
	CreatedAtDisplay string             `json:"created_at_display,omitempty"`
	SourceSpaceID    string             `json:"source_space_id"`
	SourceSpaceName  string             `json:"source_space_name"`
	Format           string             `json:"format"`
	ObjectCount      int                `json:"object_count"`
	Objects          []ObjectDescriptor `json:"objects"`
	Kind             string             `json:"kind,omitempty"`
	Mode             string             `json:"mode,omitempty"`
	Since            string             `json:"since,omitempty"`
	SinceDisplay     string             `json:"since_display,omitempty"`
	Until            string             `json:"until,omitempty"`
	UntilDisplay     string             `json:"until_display,omitempty"`
	TypeIDs          []string           `json:"type_ids,omitempty"`
	Options          *Options           `json:"options,omitempty"`
}

// IDs returns the captured object ids in manifest order.
func (m *Manifest) IDs() []string {
	ids := make([]string, 0, len(m.Objects))
	for _, o := range m.Objects {
		ids = append(ids, o.ID)
	}
	return ids
}

// Descriptor returns the descriptor for id, if the manifest lists it.
func (m *Manifest) Descriptor(id string) (ObjectDescriptor, bool) {
	for _, o := range m.Objects {
		if o.ID == id {
			return o, true
		}
	}
	return ObjectDescriptor{}, false
}

// Marshal renders the manifest as indented JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	out := *m
	if out.Objects == nil {
		out.Objects = []ObjectDescriptor{}
	}
	return json.MarshalIndent(&out, "", "  ")
}

// ParseManifest decodes and validates manifest JSON.
func ParseManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest json: %w", err)
	}
	if m.SchemaVersion < 1 || m.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("unsupported manifest schema version %d", m.SchemaVersion)
	}
	if m.SourceSpaceID == "" {
		return nil, errors.New("manifest is missing source_space_id")
	}
	return &m, nil
}

// SidecarPath returns the manifest sidecar path for an archive path.
func SidecarPath(archivePath string) string {
	base := filepath.Base(archivePath)
	if base == "." || base == string(filepath.Separator) {
		base = "archive"
	}
	return filepath.Join(filepath.Dir(archivePath), base+sidecarSuffix)
}

func readSidecar(archivePath string) (*Manifest, error) {
	path := SidecarPath(archivePath)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading sidecar manifest %s: %v", ErrArchiveInvalid, path, err)
	}
	m, err := ParseManifest(b)
	if err != nil {
		return nil, fmt.Errorf("%w: sidecar manifest %s: %v", ErrArchiveInvalid, path, err)
	}
	return m, nil
}

// writeSidecar writes the manifest next to the archive via temp file and
// rename, so a reader never observes a half-written manifest.
func writeSidecar(archivePath string, m *Manifest) error {
	b, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return WriteFileAtomic(SidecarPath(archivePath), b)
}

// WriteFileAtomic writes b to path through a temp file in the same directory.
func WriteFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	success = true
	return nil
}

// WriteFileExclusive writes b to path atomically and refuses to replace an
// existing file.
func WriteFileExclusive(path string, b []byte) error {
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	return WriteFileAtomic(path, b)
}

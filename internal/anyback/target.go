package anyback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"anyback-go/internal/archive"
)

// TargetRequest carries the --dest, --dir and --prefix flags.
type TargetRequest struct {
	Dest   string
	Dir    string
	Prefix string
}

// Target is a validated archive destination.
type Target struct {
	Path string
	Kind archive.Kind
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SanitizePrefix makes a user supplied prefix safe for a file name. An empty
// result becomes "backup".
func SanitizePrefix(prefix string) string {
	s := unsafeNameChars.ReplaceAllString(prefix, "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return "backup"
	}
	return s
}

// ArchiveName builds the generated archive file name for a space.
func ArchiveName(prefix, spaceID string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s.zip", SanitizePrefix(prefix), spaceID, now.Format("20060102-150405"))
}

// ResolveTarget validates the destination flags and picks the archive path.
// Generated names are always zip archives; --dest picks zip or directory from
// its extension.
func ResolveTarget(req TargetRequest, spaceID string, now time.Time) (Target, error) {
	if req.Dest != "" && req.Dir != "" {
		return Target{}, fmt.Errorf("%w: --dest cannot be combined with --dir", ErrInvalid)
	}
	if req.Dest != "" && req.Prefix != "" {
		return Target{}, fmt.Errorf("%w: --dest cannot be combined with --prefix", ErrInvalid)
	}

	if req.Dest != "" {
		if _, err := os.Lstat(req.Dest); err == nil {
			return Target{}, fmt.Errorf("%w: destination %s", ErrAlreadyExists, req.Dest)
		}
		if err := requireDir(filepath.Dir(req.Dest)); err != nil {
			return Target{}, err
		}
		return Target{Path: req.Dest, Kind: archive.KindFor(req.Dest)}, nil
	}

	dir := req.Dir
	if dir == "" {
		dir = "."
	}
	if err := requireDir(dir); err != nil {
		return Target{}, err
	}
	path := filepath.Join(dir, ArchiveName(req.Prefix, spaceID, now))
	if _, err := os.Lstat(path); err == nil {
		return Target{}, fmt.Errorf("%w: destination %s", ErrAlreadyExists, path)
	}
	return Target{Path: path, Kind: archive.KindZip}, nil
}

func requireDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDestinationNotFound, dir)
		}
		return fmt.Errorf("checking destination directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalid, dir)
	}
	return nil
}

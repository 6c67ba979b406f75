package anyback

import (
	"context"
	"io"
	"time"
)

// Vault is a publish target for finished archives. Keys are flat names such
// as "backup_<space>_<stamp>.zip" or "<archive>.manifest.json".
type Vault interface {
	Name() string

	// Put stores size bytes read from r under key, replacing any previous
	// object with that key.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the object stored under key to w. Unknown keys return an
	// error wrapping ErrNotFound.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns all stored objects sorted by key.
	List(ctx context.Context) ([]VaultObject, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

// VaultObject describes one stored item.
type VaultObject struct {
	Key      string
	Size     int64
	Modified time.Time
}

package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"anyback-go/internal/anyback"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It holds published archives in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name    string
	objects map[string]memoryObject
	now     func() time.Time
	mu      sync.RWMutex
}

type memoryObject struct {
	data     []byte
	modified time.Time
}

var _ anyback.Vault = (*MemoryVault)(nil)

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

func (m *MemoryVault) Name() string { return m.name }

// Put stores the object under key, replacing any previous version.
func (m *MemoryVault) Put(_ context.Context, key string, r io.Reader, size int64) error {
	if err := validKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, modified: m.now()}
	return nil
}

// Get writes the object stored under key to w.
func (m *MemoryVault) Get(_ context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: vault object %s", anyback.ErrNotFound, key)
	}

	if _, err := io.Copy(w, bytes.NewReader(obj.data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// List returns all stored objects sorted by key.
func (m *MemoryVault) List(_ context.Context) ([]anyback.VaultObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]anyback.VaultObject, 0, len(m.objects))
	for key, obj := range m.objects {
		out = append(out, anyback.VaultObject{Key: key, Size: int64(len(obj.data)), Modified: obj.modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ValidateSetup always succeeds for memory vaults.
func (m *MemoryVault) ValidateSetup(context.Context) error {
	return nil
}

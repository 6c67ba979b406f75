package space

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"anyback-go/internal/anyback"
)

// MemorySpace is an in-memory Store. It backs tests and throwaway sessions.
type MemorySpace struct {
	mu     sync.RWMutex
	spaces map[string]*memorySpace
	clock  anyback.Clock
	idgen  anyback.IDGenerator
}

type memorySpace struct {
	space   anyback.Space
	created time.Time
	types   map[string]anyback.ObjectType
	objects map[string]Object
}

var _ Store = (*MemorySpace)(nil)

// NewMemorySpace returns an empty store.
func NewMemorySpace(clock anyback.Clock, idgen anyback.IDGenerator) *MemorySpace {
	return &MemorySpace{
		spaces: make(map[string]*memorySpace),
		clock:  clock,
		idgen:  idgen,
	}
}

func (m *MemorySpace) CreateSpace(_ context.Context, name string) (anyback.Space, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return anyback.Space{}, fmt.Errorf("%w: space name must not be empty", anyback.ErrInvalid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.spaces {
		if s.space.Name == name {
			return anyback.Space{}, fmt.Errorf("%w: space %q", anyback.ErrAlreadyExists, name)
		}
	}
	sp := anyback.Space{ID: m.idgen.New(), Name: name}
	m.spaces[sp.ID] = &memorySpace{
		space:   sp,
		created: m.clock.Now(),
		types:   make(map[string]anyback.ObjectType),
		objects: make(map[string]Object),
	}
	return sp, nil
}

func (m *MemorySpace) ListSpaces(context.Context) ([]anyback.Space, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]anyback.Space, 0, len(m.spaces))
	for _, s := range m.spaces {
		out = append(out, s.space)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemorySpace) DeleteSpace(ctx context.Context, ref string) error {
	sp, err := m.ResolveSpace(ctx, ref)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.spaces, sp.ID)
	m.mu.Unlock()
	return nil
}

// ResolveSpace matches ref against space ids, then names, then names
// ignoring case.
func (m *MemorySpace) ResolveSpace(_ context.Context, ref string) (anyback.Space, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return anyback.Space{}, fmt.Errorf("%w: space reference must not be empty", anyback.ErrInvalid)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.spaces[ref]; ok {
		return s.space, nil
	}
	var folded []anyback.Space
	for _, s := range m.spaces {
		if s.space.Name == ref {
			return s.space, nil
		}
		if strings.EqualFold(s.space.Name, ref) {
			folded = append(folded, s.space)
		}
	}
	if len(folded) == 1 {
		return folded[0], nil
	}
	return anyback.Space{}, fmt.Errorf("%w: %s", anyback.ErrSpaceNotFound, ref)
}

// lookup returns the space with id. Callers hold m.mu.
func (m *MemorySpace) lookup(spaceID string) (*memorySpace, error) {
	s, ok := m.spaces[spaceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", anyback.ErrSpaceNotFound, spaceID)
	}
	return s, nil
}

func (m *MemorySpace) object(spaceID, id string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.lookup(spaceID)
	if err != nil {
		return Object{}, err
	}
	obj, ok := s.objects[id]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", anyback.ErrObjectNotFound, id)
	}
	return obj, nil
}

func (m *MemorySpace) ListObjects(_ context.Context, spaceID string, filter anyback.ObjectFilter) ([]anyback.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.lookup(spaceID)
	if err != nil {
		return nil, err
	}
	var out []anyback.ObjectInfo
	for _, obj := range s.objects {
		if matches(obj.Info, filter) {
			out = append(out, cloneInfo(obj.Info))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemorySpace) GetObject(_ context.Context, spaceID, id string) (anyback.ObjectInfo, error) {
	obj, err := m.object(spaceID, id)
	if err != nil {
		return anyback.ObjectInfo{}, err
	}
	return cloneInfo(obj.Info), nil
}

// ListTypes returns the registered types plus any type key used by an object
// that has no registered type.
func (m *MemorySpace) ListTypes(_ context.Context, spaceID string) ([]anyback.ObjectType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.lookup(spaceID)
	if err != nil {
		return nil, err
	}
	types := make([]anyback.ObjectType, 0, len(s.types))
	for _, t := range s.types {
		types = append(types, t)
	}
	var used []string
	for _, obj := range s.objects {
		used = append(used, obj.Info.TypeKey)
	}
	return withUsedKeys(types, used), nil
}

func (m *MemorySpace) FetchSnapshot(_ context.Context, spaceID, id string) ([]byte, error) {
	obj, err := m.object(spaceID, id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(obj.Snapshot), nil
}

func (m *MemorySpace) FetchFile(_ context.Context, spaceID, id string) ([]byte, error) {
	obj, err := m.object(spaceID, id)
	if err != nil {
		return nil, err
	}
	if obj.File == nil {
		return nil, fmt.Errorf("%w: file payload of %s", anyback.ErrNotFound, id)
	}
	return slices.Clone(obj.File), nil
}

func (m *MemorySpace) LastModified(_ context.Context, spaceID, id string) (time.Time, error) {
	obj, err := m.object(spaceID, id)
	if err != nil {
		return time.Time{}, err
	}
	return obj.Info.LastModified, nil
}

func (m *MemorySpace) ObjectExists(_ context.Context, spaceID, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.lookup(spaceID)
	if err != nil {
		return false, err
	}
	_, ok := s.objects[id]
	return ok, nil
}

func (m *MemorySpace) DeleteObject(_ context.Context, spaceID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(spaceID)
	if err != nil {
		return err
	}
	if _, ok := s.objects[id]; !ok {
		return fmt.Errorf("%w: %s", anyback.ErrObjectNotFound, id)
	}
	delete(s.objects, id)
	return nil
}

func (m *MemorySpace) PutType(_ context.Context, spaceID string, t anyback.ObjectType) error {
	if t.ID == "" || t.Key == "" {
		return fmt.Errorf("%w: object type needs an id and a key", anyback.ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(spaceID)
	if err != nil {
		return err
	}
	s.types[t.ID] = t
	return nil
}

func (m *MemorySpace) PutObject(_ context.Context, spaceID string, obj Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(spaceID)
	if err != nil {
		return err
	}
	s.put(obj)
	return nil
}

func (s *memorySpace) put(obj Object) {
	obj.Info = cloneInfo(obj.Info)
	obj.Snapshot = slices.Clone(obj.Snapshot)
	obj.File = slices.Clone(obj.File)
	s.objects[obj.Info.ID] = obj
	if t, ok := objectType(obj); ok {
		s.types[t.ID] = t
	}
}

func (m *MemorySpace) importObject(spaceID string, obj Object, opts anyback.ImportOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(spaceID)
	if err != nil {
		return err
	}
	if _, exists := s.objects[obj.Info.ID]; exists && !opts.Replace {
		return fmt.Errorf("%w: object %s", anyback.ErrAlreadyExists, obj.Info.ID)
	}
	s.put(obj)
	return nil
}

func (m *MemorySpace) requireSpace(spaceID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.lookup(spaceID)
	return err
}

func (m *MemorySpace) ImportSnapshots(_ context.Context, spaceID string, items []anyback.SnapshotImport, opts anyback.ImportOptions) ([]anyback.ImportResult, error) {
	if err := m.requireSpace(spaceID); err != nil {
		return nil, err
	}
	results := make([]anyback.ImportResult, 0, len(items))
	for _, item := range items {
		obj, err := ObjectFromSnapshot(item.ID, item.Data, item.File, item.FileName)
		if err == nil {
			err = m.importObject(spaceID, obj, opts)
		}
		results = append(results, anyback.ImportResult{ID: item.ID, Err: err})
	}
	return results, nil
}

func (m *MemorySpace) ImportPaths(_ context.Context, spaceID, archivePath string, paths []string, opts anyback.ImportOptions) ([]anyback.ImportResult, error) {
	if err := m.requireSpace(spaceID); err != nil {
		return nil, err
	}

	pending, err := readArchivePaths(archivePath, paths)
	if err != nil {
		return nil, err
	}
	results := make([]anyback.ImportResult, 0, len(pending))
	for _, p := range pending {
		err := p.err
		if err == nil {
			err = m.importObject(spaceID, p.obj, opts)
		}
		results = append(results, anyback.ImportResult{ID: p.id, Err: err})
	}
	return results, nil
}

// withUsedKeys appends a synthetic type for every used key that no type in
// types covers, and sorts the result by key.
func withUsedKeys(types []anyback.ObjectType, used []string) []anyback.ObjectType {
	known := make(map[string]bool, len(types)*2)
	for _, t := range types {
		known[t.ID] = true
		known[t.Key] = true
	}
	for _, key := range used {
		if key == "" || known[key] {
			continue
		}
		known[key] = true
		types = append(types, anyback.ObjectType{ID: key, Key: key, Name: key})
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Key < types[j].Key })
	return types
}

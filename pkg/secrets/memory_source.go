package secrets

import (
	"context"
	"sort"
	"sync"
)

// MemorySource is a simple in-memory implementation of Source.
type MemorySource struct {
	mu    sync.RWMutex
	items map[Reference]Sealed
}

var (
	_ Source = (*MemorySource)(nil)
	_ Writer = (*MemorySource)(nil)
	_ Lister = (*MemorySource)(nil)
)

func NewMemorySource(seed ...Secret) *MemorySource {
	m := &MemorySource{items: make(map[Reference]Sealed)}
	for _, s := range seed {
		m.items[normalize(s.Service, s.Key)] = s.CipherText
	}
	return m
}

func (m *MemorySource) Lookup(_ context.Context, ref Reference) (Sealed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sealed, ok := m.items[normalize(ref.Service, ref.Key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(Sealed, len(sealed))
	copy(out, sealed)
	return out, nil
}

func (m *MemorySource) Store(_ context.Context, ref Reference, sealed Sealed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[normalize(ref.Service, ref.Key)] = append(Sealed(nil), sealed...)
	return nil
}

func (m *MemorySource) Delete(_ context.Context, ref Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, normalize(ref.Service, ref.Key))
	return nil
}

func (m *MemorySource) List(_ context.Context) ([]Reference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reference, 0, len(m.items))
	for ref := range m.items {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out, nil
}

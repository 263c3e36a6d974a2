package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local Store. It backs tests and the
// store.backend=memory configuration.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[Namespace]map[string]*Record
	clock  int64 // logical clock for UpdatedAt so ordering is deterministic
	closed bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Namespace]map[string]*Record)}
}

func (m *MemoryStore) tick() int64 {
	m.clock++
	return m.clock
}

func (m *MemoryStore) bucket(ns Namespace) map[string]*Record {
	b, ok := m.data[ns]
	if !ok {
		b = make(map[string]*Record)
		m.data[ns] = b
	}
	return b
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, ns Namespace, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	r, ok := m.data[ns][key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.Value = append([]byte(nil), r.Value...)
	return &cp, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, ns Namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	b := m.bucket(ns)
	r, ok := b[key]
	if !ok {
		r = &Record{Key: key}
		b[key] = r
	}
	r.Value = append([]byte(nil), value...)
	r.UpdatedAt = m.tick()
	return nil
}

// Incr implements Store.
func (m *MemoryStore) Incr(_ context.Context, ns Namespace, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	b := m.bucket(ns)
	r, ok := b[key]
	if !ok {
		r = &Record{Key: key}
		b[key] = r
	}
	r.Frequency += delta
	r.UpdatedAt = m.tick()
	return r.Frequency, nil
}

// SetFrequency implements Store.
func (m *MemoryStore) SetFrequency(_ context.Context, ns Namespace, key string, freq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	r, ok := m.data[ns][key]
	if !ok {
		return ErrNotFound
	}
	r.Frequency = freq
	r.UpdatedAt = m.tick()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, ns Namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data[ns], key)
	return nil
}

// Scan implements Store.
func (m *MemoryStore) Scan(_ context.Context, ns Namespace) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.ranked(ns), nil
}

func (m *MemoryStore) ranked(ns Namespace) []Record {
	out := make([]Record, 0, len(m.data[ns]))
	for _, r := range m.data[ns] {
		cp := *r
		cp.Value = append([]byte(nil), r.Value...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, ns Namespace) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.data[ns]), nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(_ context.Context, ns Namespace, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if keep < 0 {
		keep = 0
	}
	ranked := m.ranked(ns)
	if len(ranked) <= keep {
		return 0, nil
	}
	var n int64
	for _, r := range ranked[keep:] {
		delete(m.data[ns], r.Key)
		n++
	}
	return n, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

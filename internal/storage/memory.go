package storage

import (
	"bytes"
	"sort"
	"sync"
)

// NewMemStore returns an in-memory Store. It is used by tests and by nodes
// configured with the memory backend.
func NewMemStore() Store {
	return &kvStore{db: &memBackend{data: make(map[string][]byte)}}
}

type memBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func (m *memBackend) get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *memBackend) commit(b *batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range b.ops {
		switch op.kind {
		case opSet:
			v := make([]byte, len(op.value))
			copy(v, op.value)
			m.data[string(op.key)] = v
		case opDelete:
			delete(m.data, string(op.key))
		case opDeleteRange:
			for k := range m.data {
				kb := []byte(k)
				if bytes.Compare(kb, op.key) >= 0 && (op.end == nil || bytes.Compare(kb, op.end) < 0) {
					delete(m.data, k)
				}
			}
		}
	}
	return nil
}

func (m *memBackend) iterate(fn func(key, value []byte)) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn([]byte(k), m.data[k])
	}
	return nil
}

func (m *memBackend) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

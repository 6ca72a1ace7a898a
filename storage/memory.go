package storage

import (
	"bytes"
	"sync"
)

// memoryStore is an in-memory Store, grounded on the teacher's MemDatabase
// (storage/database's memory_database.go test backend) - used here both in
// tests and as the default Store when no on-disk backend is configured.
type memoryStore struct {
	mu   sync.RWMutex
	data map[Namespace]map[string][]byte
}

// NewMemoryStore returns a Store backed by an in-process map.
func NewMemoryStore() Store {
	return &memoryStore{data: make(map[Namespace]map[string][]byte)}
}

func (m *memoryStore) bucket(ns Namespace) map[string][]byte {
	b, ok := m.data[ns]
	if !ok {
		b = make(map[string][]byte)
		m.data[ns] = b
	}
	return b
}

func (m *memoryStore) Put(ns Namespace, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.bucket(ns)[string(key)] = v
	return nil
}

func (m *memoryStore) Get(ns Namespace, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.bucket(ns)[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *memoryStore) Has(ns Namespace, key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bucket(ns)[string(key)]
	return ok, nil
}

func (m *memoryStore) Delete(ns Namespace, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bucket(ns), string(key))
	return nil
}

func (m *memoryStore) Iterate(ns Namespace, prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.bucket(ns) {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if !fn([]byte(k), v) {
			break
		}
	}
	return nil
}

func (m *memoryStore) Close() error { return nil }

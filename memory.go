package prefstore

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory implements Driver with thread-safe in-memory storage.
// Values live for the lifetime of the Memory value.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an in-memory Driver instance.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = clone(value)
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = clone(value)
	return true, nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

// Keys returns all keys under prefix matching pattern, sorted.
func (m *Memory) Keys(ctx context.Context, prefix, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []string
	for key := range m.data {
		ok, err := MatchKey(prefix, pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, key)
		}
	}
	sort.Strings(result)
	return result, nil
}

// Clear removes all keys with the given prefix.
func (m *Memory) Clear(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.data {
		if strings.HasPrefix(key, prefix+":") {
			delete(m.data, key)
		}
	}
	return nil
}

// CompareAndSwap replaces the value only if the stored bytes equal oldValue.
// It returns false for a missing key.
func (m *Memory) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.data[key]
	if !ok || !bytes.Equal(cur, oldValue) {
		return false, nil
	}
	m.data[key] = clone(newValue)
	return true, nil
}

// Len returns the number of stored keys across all namespaces.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func clone(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

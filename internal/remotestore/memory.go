package remotestore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process record store for dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]map[string]any)}
}

// Insert adds a copy of record under entityType.
func (m *MemoryStore) Insert(entityType string, record map[string]any) {
	cp := make(map[string]any, len(record))
	for k, v := range record {
		cp[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[entityType] = append(m.records[entityType], cp)
}

func (m *MemoryStore) Count(ctx context.Context, entityType, field string, value any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, rec := range m.records[entityType] {
		if v, ok := rec[field]; ok && equal(v, value) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Exists(ctx context.Context, entityType string, filter map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(filter) == 0 {
		return false, fmt.Errorf("exists requires a non-empty filter")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records[entityType] {
		match := true
		for k, want := range filter {
			if v, ok := rec[k]; !ok || !equal(v, want) {
				match = false
				break
			}
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func equal(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

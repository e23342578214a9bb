package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used in DEV_MODE and in tests.
// Items are held as JSON so reads never alias caller memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string, out any) error {
	s.mu.Lock()
	raw, ok := s.items[key]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, item any) error {
	return s.PutIf(ctx, key, item, Condition{})
}

func (s *MemoryStore) PutIf(_ context.Context, key string, item any, cond Condition) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cond.unconditional() {
		ok, err := s.allowed(key, cond)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConditionFailed
		}
	}
	s.items[key] = raw
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// PutRaw stores raw bytes at key without encoding.
func (s *MemoryStore) PutRaw(key string, raw []byte) {
	s.mu.Lock()
	s.items[key] = raw
	s.mu.Unlock()
}

// Len returns the number of stored items.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) allowed(key string, cond Condition) (bool, error) {
	raw, exists := s.items[key]
	if !exists {
		return cond.IfAbsent, nil
	}
	if !cond.checksExisting() {
		return false, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	for name, want := range cond.Equal {
		got, ok := fields[name]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false, nil
		}
	}
	for _, name := range cond.Missing {
		if v, ok := fields[name]; ok && v != nil {
			return false, nil
		}
	}
	return true, nil
}

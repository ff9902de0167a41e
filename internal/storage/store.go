package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrEmptyKey = errors.New("storage key must not be empty")

// Store is client-local durable key/value storage. Implementations apply a
// SetItems or RemoveItems call as a unit.
type Store interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItems(ctx context.Context, items map[string]string) error
	RemoveItems(ctx context.Context, keys ...string) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (s *MemoryStore) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStore) SetItems(_ context.Context, items map[string]string) error {
	if err := validateKeys(items); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range items {
		s.items[k] = v
	}
	return nil
}

func (s *MemoryStore) RemoveItems(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

func validateKeys(items map[string]string) error {
	for k := range items {
		if strings.TrimSpace(k) == "" {
			return ErrEmptyKey
		}
	}
	return nil
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps all items in one JSON object on disk. Writes go through a
// temp file and rename so a crash never leaves a half-written state file.
type FileStore struct {
	path string

	mu    sync.RWMutex
	items map[string]string
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage file path is required")
	}

	s := &FileStore{
		path:  path,
		items: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[key]
	return v, ok, nil
}

func (s *FileStore) SetItems(_ context.Context, items map[string]string) error {
	if err := validateKeys(items); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := cloneItems(s.items)
	for k, v := range items {
		s.items[k] = v
	}
	if err := s.persistLocked(); err != nil {
		s.items = prev
		return err
	}
	return nil
}

func (s *FileStore) RemoveItems(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirty := false
	prev := cloneItems(s.items)
	for _, k := range keys {
		if _, ok := s.items[k]; ok {
			delete(s.items, k)
			dirty = true
		}
	}
	if !dirty {
		return nil
	}
	if err := s.persistLocked(); err != nil {
		s.items = prev
		return err
	}
	return nil
}

func (s *FileStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read storage file: %w", err)
	}
	if len(b) == 0 {
		return nil
	}

	decoded := make(map[string]string)
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("decode storage file: %w", err)
	}
	for k, v := range decoded {
		if strings.TrimSpace(k) == "" {
			continue
		}
		s.items[k] = v
	}
	return nil
}

func (s *FileStore) persistLocked() error {
	b, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir storage dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write storage file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace storage file: %w", err)
	}
	return nil
}

func cloneItems(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Package storage implements the host-owned value store backing the
// GM_setValue family of bridge operations.
//
// The on-disk format is a single JSON object: top-level keys are storage
// keys, values are arbitrary JSON. Mutations are write-through — the
// whole file is rewritten synchronously as part of each Set/Delete. A
// failed write is logged and the in-memory mutation stands; this weak
// durability is a deliberate tradeoff.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Store is a mutex-guarded key-value map with write-through persistence.
type Store struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	values map[string]json.RawMessage
}

// Open loads the store from path. An absent or corrupt file starts the
// store empty; neither is fatal. An empty path keeps the store purely
// in-memory.
func Open(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:   path,
		logger: logger,
		values: make(map[string]json.RawMessage),
	}
	if path == "" {
		return s
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("storage file unreadable, starting empty",
				zap.String("path", path), zap.Error(err))
		}
		return s
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		logger.Warn("storage file corrupt, starting empty",
			zap.String("path", path), zap.Error(err))
		s.values = make(map[string]json.RawMessage)
	}
	return s
}

// Get returns the raw JSON value for key.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key and persists before returning.
func (s *Store) Set(key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.persistLocked()
}

// Delete removes key and persists before returning. Deleting an absent
// key is a no-op (the file is still rewritten).
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	s.persistLocked()
}

// List returns the surviving keys in sorted order.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush writes the current contents to disk. Used on shutdown paths
// where the error matters to the caller.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

func (s *Store) persistLocked() {
	if err := s.writeLocked(); err != nil {
		// In-memory mutation stands; completion events still fire.
		s.logger.Warn("storage write-through failed", zap.String("path", s.path), zap.Error(err))
	}
}

func (s *Store) writeLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write storage: %w", err)
	}
	return nil
}

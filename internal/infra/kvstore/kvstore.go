// Package kvstore is the client's local persistent key-value store.
// Values are JSON blobs; the whole store is one file rewritten atomically.
package kvstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

// ErrLocked is returned when another process holds the store.
var ErrLocked = errors.New("kvstore: locked by another process")

type document struct {
	Values map[string]json.RawMessage `json:"values"`
}

// FileStore persists values to a single JSON file. An exclusive flock on
// path+".lock" is held from Open until Close.
type FileStore struct {
	path string
	lock *flock.Flock

	mu  sync.RWMutex
	doc document
}

// LockConfig bounds how long Open waits for the file lock.
type LockConfig struct {
	Retry    time.Duration
	MaxRetry int
}

// DefaultLockConfig waits up to about two seconds.
func DefaultLockConfig() LockConfig {
	return LockConfig{Retry: 100 * time.Millisecond, MaxRetry: 20}
}

// Open loads (or creates) the store at path.
func Open(path string, cfg LockConfig) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := acquire(lock, cfg); err != nil {
		return nil, err
	}

	s := &FileStore{
		path: path,
		lock: lock,
		doc:  document{Values: make(map[string]json.RawMessage)},
	}
	if err := s.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

func acquire(lock *flock.Flock, cfg LockConfig) error {
	attempts := cfg.MaxRetry
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to attempt lock: %w", err)
		}
		if locked {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(cfg.Retry)
		}
	}
	return fmt.Errorf("%s: %w", lock.Path(), ErrLocked)
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		// A corrupt cache is discarded; every value in it is rebuildable.
		slog.Warn("discarding unreadable local store", "component", "kvstore", "path", s.path, "error", err)
		s.doc = document{Values: make(map[string]json.RawMessage)}
		return nil
	}
	if s.doc.Values == nil {
		s.doc.Values = make(map[string]json.RawMessage)
	}
	return nil
}

func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

// Get decodes the value at key into v. It reports false when key is absent.
func (s *FileStore) Get(key string, v any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.doc.Values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores v at key and flushes the file.
func (s *FileStore) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Values[key] = raw
	return s.save()
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Values[key]; !ok {
		return nil
	}
	delete(s.doc.Values, key)
	return s.save()
}

// Keys lists keys with the given prefix in sorted order.
func (s *FileStore) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.doc.Values, prefix), nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Close releases the file lock.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	err := s.lock.Unlock()
	s.lock = nil
	return err
}

// ─── In-Memory ──────────────────────────────────────────────────────────────

// MemStore is a volatile KVStore for tests and ephemeral sessions.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]json.RawMessage)}
}

func (m *MemStore) Get(key string, v any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *MemStore) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.values, prefix), nil
}

func sortedKeys(values map[string]json.RawMessage, prefix string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

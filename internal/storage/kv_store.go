package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("storage key not found")

// KVStore is a small string key/value store backed by a single JSON
// snapshot file. With an empty path it is purely in-memory, which is the
// mode tests use.
type KVStore struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

func NewKVStore() *KVStore {
	return &KVStore{values: make(map[string]string)}
}

func NewPersistentKVStore(path string) (*KVStore, error) {
	s := &KVStore{
		path:   path,
		values: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KVStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *KVStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]string, len(s.values)+1)
	for k, v := range s.values {
		next[k] = v
	}
	next[key] = value
	if err := s.persistSnapshotLocked(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

func (s *KVStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	next := make(map[string]string, len(s.values))
	for k, v := range s.values {
		if k != key {
			next[k] = v
		}
	}
	if err := s.persistSnapshotLocked(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

type persistedKVState struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

func (s *KVStore) load() error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var state persistedKVState
	if err := json.Unmarshal(raw, &state); err != nil {
		return err
	}
	if state.Version != 1 {
		return errors.New("storage snapshot payload is invalid")
	}
	if state.Values != nil {
		s.values = state.Values
	}
	return nil
}

func (s *KVStore) persistSnapshotLocked(values map[string]string) error {
	if s.path == "" {
		return nil
	}
	payload, err := json.Marshal(persistedKVState{Version: 1, Values: values})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, payload, 0o600)
}

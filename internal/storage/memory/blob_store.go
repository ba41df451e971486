// Package memory keeps descriptor files in process memory. It satisfies the
// same store and mirror contracts as the local and GCS backends and is used
// where nothing should touch disk.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// BlobStore maps object keys to their content.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates an empty in-memory store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Exists reports whether key has been written.
func (s *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

// PutObject stores a copy of the reader's content under key.
func (s *BlobStore) PutObject(_ context.Context, key string, _ string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	s.mu.Lock()
	s.data[key] = body
	s.mu.Unlock()
	return "memory://" + key, nil
}

// Get returns the content stored under key.
func (s *BlobStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), body...), true
}

// Keys lists every stored key in lexical order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Package memory stores archived icons in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Object is one stored blob.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject stores a copy of data and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns the blob stored at path.
func (s *BlobStore) Object(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Len reports the number of stored blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

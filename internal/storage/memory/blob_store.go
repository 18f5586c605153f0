// Package memory keeps mirrored images in-process for development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/catalog-image-sourcer/internal/storage"
)

// Object is one stored image.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore stores images in memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

var _ storage.Provider = (*BlobStore)(nil)

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// Save copies data under objectName and returns a memory:// URI.
func (s *BlobStore) Save(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("save %s: %w", objectName, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectName] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	return "memory://" + objectName, nil
}

// Get returns a copy of the stored object.
func (s *BlobStore) Get(objectName string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectName]
	if !ok {
		return Object{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, true
}

// Names lists stored object names in lexical order.
func (s *BlobStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

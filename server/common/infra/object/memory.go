package object

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process stand-in for Store when no object storage is
// configured. Presigned URLs use the memory:// scheme.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *MemoryStore) PutWithThumbnail(_ context.Context, objectKey string, data []byte, contentType string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey] = bytes.Clone(data)
	m.types[objectKey] = contentType
	thumb, err := Thumbnail(bytes.NewReader(data))
	if err != nil {
		return objectKey, "", nil
	}
	thumbKey := ThumbnailKey(objectKey)
	m.objects[thumbKey] = thumb
	m.types[thumbKey] = thumbnailMIME
	return objectKey, thumbKey, nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("object %s does not exist", key)
	}
	return "memory://" + key, nil
}

func (m *MemoryStore) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, key)
		delete(m.types, key)
	}
	return nil
}

// Object returns a stored object and its content type.
func (m *MemoryStore) Object(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, m.types[key], ok
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

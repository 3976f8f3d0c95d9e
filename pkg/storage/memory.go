package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[Location]Object
	public  map[Location]bool
}

// NewMemory creates an empty store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		objects: make(map[Location]Object),
		public:  make(map[Location]bool),
	}
}

func (s *MemoryStore) Get(ctx context.Context, bucket, key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[Location{bucket, key}]
	if !ok {
		return Object{}, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, nil
}

func (s *MemoryStore) Put(ctx context.Context, bucket, key string, obj Object, publicRead bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := Location{bucket, key}
	obj.Data = append([]byte(nil), obj.Data...)
	s.objects[loc] = obj
	s.public[loc] = publicRead
	return nil
}

func (s *MemoryStore) PublicURL(bucket, key string) string {
	return S3PublicURL(bucket, key)
}

// IsPublic reports whether the object was stored public-read.
func (s *MemoryStore) IsPublic(bucket, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.public[Location{bucket, key}]
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

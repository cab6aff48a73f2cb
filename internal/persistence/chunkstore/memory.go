package chunkstore

import (
	"context"
	"sync"
)

// MemStore keeps blobs in memory. It backs tests and the "memory" backend.
type MemStore struct {
	mu    sync.Mutex
	blobs map[Key][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{blobs: map[Key][]byte{}}
}

func (s *MemStore) Load(ctx context.Context, k Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[k]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *MemStore) Save(ctx context.Context, k Key, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[k] = append([]byte(nil), blob...)
	s.mu.Unlock()
	return nil
}

// Len reports how many blobs are stored.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

func (s *MemStore) Close() error { return nil }

package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps one file per chunk: <base>/<world>/<dimension>/<index>.chunk.zst.
type FileStore struct {
	base string
}

func NewFileStore(base string) (*FileStore, error) {
	if base == "" {
		return nil, fmt.Errorf("empty base dir")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{base: base}, nil
}

func (s *FileStore) Path(k Key) string {
	return filepath.Join(s.base, k.World, k.Dimension, fmt.Sprintf("%d.chunk.zst", k.Index))
}

func (s *FileStore) Load(ctx context.Context, k Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.Path(k))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", k, err)
	}
	return b, nil
}

// Save writes to a temp file and renames it over the old blob.
func (s *FileStore) Save(ctx context.Context, k Key, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(k)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("write chunk %s: %w", k, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename chunk %s: %w", k, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

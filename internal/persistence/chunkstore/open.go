package chunkstore

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Open builds the store named by backend ("file", "sqlite", "postgres" or
// "memory").
func Open(ctx context.Context, backend, dataDir, dsn string, maxConns int32, log *zap.Logger) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(filepath.Join(dataDir, "chunks"))
	case "sqlite":
		path := dsn
		if path == "" {
			path = filepath.Join(dataDir, "chunks.sqlite")
		}
		return OpenSQLite(path)
	case "postgres":
		return OpenPostgres(ctx, dsn, maxConns, log.Named("chunkstore"))
	case "memory":
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

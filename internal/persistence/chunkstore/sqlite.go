package chunkstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps blobs in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; workers serialize through the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			world TEXT NOT NULL,
			dimension TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			blob BLOB NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (world, dimension, chunk_index)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, k Key) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM chunks WHERE world = ? AND dimension = ? AND chunk_index = ?`,
		k.World, k.Dimension, k.Index,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", k, err)
	}
	return blob, nil
}

func (s *SQLiteStore) Save(ctx context.Context, k Key, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (world, dimension, chunk_index, blob, saved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(world, dimension, chunk_index) DO UPDATE SET blob = excluded.blob, saved_at = excluded.saved_at`,
		k.World, k.Dimension, k.Index, blob, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save chunk %s: %w", k, err)
	}
	return nil
}

// Count returns the number of stored chunks for world/dimension.
func (s *SQLiteStore) Count(ctx context.Context, world, dimension string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE world = ? AND dimension = ?`, world, dimension,
	).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Armario/internal/armario/store"
	dbpkg "github.com/BrandonDHaskell/Armario/internal/db"
)

// KV stores blobs in the kv_blobs table. Reads go straight to the pool;
// writes are serialised through the db worker.
type KV struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewKV(db *sql.DB, writer *dbpkg.Worker) *KV {
	return &KV{db: db, writer: writer}
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, store.ErrNotFound
	}

	var v []byte
	err := s.db.QueryRowContext(ctx, `
SELECT value FROM kv_blobs WHERE key = ?;
`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get %s: %w", key, err)
	}
	return v, nil
}

func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("Put: empty key")
	}
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO kv_blobs(key, value, updated_at_ms) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at_ms = excluded.updated_at_ms;
`, key, value, nowMs); err != nil {
			return fmt.Errorf("Put %s: %w", key, err)
		}
		return nil
	})
}

func (s *KV) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM kv_blobs WHERE key = ?;
`, key); err != nil {
			return fmt.Errorf("Delete %s: %w", key, err)
		}
		return nil
	})
}

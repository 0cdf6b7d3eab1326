package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// Blobs maps kv_blobs keys to pre-encoded values. Existing keys are kept.
	Blobs map[string][]byte
}

// SeedDev pre-populates a dev database so the simulated cabinet starts with
// a few enrolled users. It never overwrites rows that already exist.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	for key, value := range opt.Blobs {
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO kv_blobs(key, value, updated_at_ms)
VALUES (?, ?, ?);`, key, value, now); err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}

	return nil
}

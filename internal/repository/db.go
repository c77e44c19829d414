package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type scanner interface {
	Scan(dest ...any) error
}

// DB wraps the pool so every money transaction starts with a bounded lock wait.
type DB struct {
	pool        *sql.DB
	lockTimeout time.Duration
}

func NewDB(pool *sql.DB, lockTimeout time.Duration) *DB {
	return &DB{pool: pool, lockTimeout: lockTimeout}
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := d.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}

	if d.lockTimeout > 0 {
		// set_config with is_local=true scopes the timeout to this tx only.
		// Rounded up: "0ms" would disable the timeout.
		ms := fmt.Sprintf("%dms", max(d.lockTimeout.Milliseconds(), 1))
		if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("BeginTx: set lock_timeout: %w", err)
		}
	}
	return tx, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrKeyContended means another request released or swept the key while this
// one was trying to claim it. The caller should retry.
var ErrKeyContended = errors.New("idempotency key contended")

// IdempotencyKey is one caller's use of an Idempotency-Key. StatusCode is nil
// while the first request carrying the key is still running.
type IdempotencyKey struct {
	Key          string
	Username     string
	RequestHash  string
	StatusCode   *int
	ResponseBody []byte
	CreatedAt    time.Time
	CompletedAt  *time.Time
	ExpiresAt    time.Time
}

func (k *IdempotencyKey) Completed() bool {
	return k.StatusCode != nil
}

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Reserve claims key for username. It reports true when the caller now owns
// the key. Otherwise it returns the live row that already holds it. An
// expired row is replaced.
func (r *IdempotencyRepository) Reserve(ctx context.Context, key, username, requestHash string, ttl time.Duration) (*IdempotencyKey, bool, error) {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys
		WHERE idempotency_key = $1 AND username = $2 AND expires_at <= now()`,
		key, username,
	); err != nil {
		return nil, false, fmt.Errorf("Reserve: purge expired: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (idempotency_key, username, request_hash, expires_at)
		VALUES ($1, $2, $3, now() + make_interval(secs => $4))
		ON CONFLICT (idempotency_key, username) DO NOTHING`,
		key, username, requestHash, ttl.Seconds(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("Reserve: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("Reserve: rows affected: %w", err)
	}
	if inserted == 1 {
		return nil, true, nil
	}

	existing, err := r.get(ctx, key, username)
	if err != nil {
		return nil, false, fmt.Errorf("Reserve: %w", err)
	}
	return existing, false, nil
}

// Complete stores the response for a reserved key.
func (r *IdempotencyRepository) Complete(ctx context.Context, key, username string, statusCode int, body []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE idempotency_keys
		SET status_code = $1, response_body = $2, completed_at = now()
		WHERE idempotency_key = $3 AND username = $4 AND status_code IS NULL`,
		statusCode, body, key, username,
	)
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Complete: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Complete: no reservation for key %q", key)
	}
	return nil
}

// Release drops an unfinished reservation so the key can be retried.
func (r *IdempotencyRepository) Release(ctx context.Context, key, username string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys
		WHERE idempotency_key = $1 AND username = $2 AND status_code IS NULL`,
		key, username,
	)
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) CleanExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("CleanExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("CleanExpired: rows affected: %w", err)
	}
	return n, nil
}

func (r *IdempotencyRepository) get(ctx context.Context, key, username string) (*IdempotencyKey, error) {
	var (
		k      IdempotencyKey
		status sql.NullInt32
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT idempotency_key, username, request_hash, status_code, response_body,
			created_at, completed_at, expires_at
		FROM idempotency_keys
		WHERE idempotency_key = $1 AND username = $2`,
		key, username,
	).Scan(&k.Key, &k.Username, &k.RequestHash, &status, &k.ResponseBody,
		&k.CreatedAt, &k.CompletedAt, &k.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Released or swept between the insert and this read.
		return nil, fmt.Errorf("get: key %q vanished: %w", key, ErrKeyContended)
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	if status.Valid {
		code := int(status.Int32)
		k.StatusCode = &code
	}
	return &k, nil
}

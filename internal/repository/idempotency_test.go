package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	purgeExpiredKey = regexp.QuoteMeta(`DELETE FROM idempotency_keys
		WHERE idempotency_key = $1 AND username = $2 AND expires_at <= now()`)
	insertKey = regexp.QuoteMeta(`INSERT INTO idempotency_keys`)
	selectKey = regexp.QuoteMeta(`FROM idempotency_keys
		WHERE idempotency_key = $1 AND username = $2`)
)

func keyRow(status any, body []byte) *sqlmock.Rows {
	now := time.Now().UTC()
	var completedAt any
	if status != nil {
		completedAt = now
	}
	return sqlmock.NewRows([]string{
		"idempotency_key", "username", "request_hash", "status_code", "response_body",
		"created_at", "completed_at", "expires_at",
	}).AddRow("k-1", "alice", "hash", status, body, now, completedAt, now.Add(time.Hour))
}

func TestIdempotencyRepository_Reserve(t *testing.T) {
	tests := []struct {
		name          string
		inserted      int64
		existing      *sqlmock.Rows
		wantReserved  bool
		wantCompleted bool
	}{
		{name: "fresh key", inserted: 1, wantReserved: true},
		{name: "in flight", inserted: 0, existing: keyRow(nil, nil)},
		{name: "completed", inserted: 0, existing: keyRow(201, []byte(`{"success":true}`)), wantCompleted: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewIdempotencyRepository(db)

			mock.ExpectExec(purgeExpiredKey).WithArgs("k-1", "alice").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(insertKey).
				WithArgs("k-1", "alice", "hash", float64(60)).
				WillReturnResult(sqlmock.NewResult(0, tc.inserted))
			if tc.existing != nil {
				mock.ExpectQuery(selectKey).WithArgs("k-1", "alice").WillReturnRows(tc.existing)
			}

			existing, reserved, err := repo.Reserve(context.Background(), "k-1", "alice", "hash", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tc.wantReserved, reserved)
			if tc.wantReserved {
				assert.Nil(t, existing)
			} else {
				require.NotNil(t, existing)
				assert.Equal(t, tc.wantCompleted, existing.Completed())
			}
			if tc.wantCompleted {
				assert.Equal(t, 201, *existing.StatusCode)
				assert.NotNil(t, existing.CompletedAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIdempotencyRepository_ReserveLosesRace(t *testing.T) {
	db, mock := newMock(t)
	repo := NewIdempotencyRepository(db)

	mock.ExpectExec(purgeExpiredKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectKey).WillReturnRows(sqlmock.NewRows([]string{"idempotency_key"}))

	_, _, err := repo.Reserve(context.Background(), "k-1", "alice", "hash", time.Minute)
	require.ErrorIs(t, err, ErrKeyContended)
}

func TestIdempotencyRepository_CompleteWithoutReservation(t *testing.T) {
	db, mock := newMock(t)
	repo := NewIdempotencyRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE idempotency_keys`)).
		WithArgs(201, []byte(`{}`), "k-1", "alice").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Complete(context.Background(), "k-1", "alice", 201, []byte(`{}`))
	require.Error(t, err)
}

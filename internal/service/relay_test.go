package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/customer-ledger/internal/config"
	"github.com/josh-kwaku/customer-ledger/internal/domain"
	"github.com/josh-kwaku/customer-ledger/internal/repository"
	"github.com/josh-kwaku/customer-ledger/internal/service/ledger"
	"github.com/josh-kwaku/customer-ledger/internal/testutil"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []domain.OutboxEvent
	failFor   map[int64]bool
	onPublish func(ctx context.Context)
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{failFor: make(map[int64]bool)}
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	p.mu.Lock()
	if p.failFor[event.CustomerID] {
		p.mu.Unlock()
		return errors.New("bus unavailable")
	}
	p.published = append(p.published, event)
	hook := p.onPublish
	p.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	return ctx.Err()
}

func (p *recordingPublisher) setFailing(customerID int64, failing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failFor[customerID] = failing
}

func (p *recordingPublisher) transactionIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int64, 0, len(p.published))
	for _, e := range p.published {
		ids = append(ids, e.TransactionID)
	}
	return ids
}

func setupRelay(t *testing.T, db *sql.DB, pub *recordingPublisher, maxAttempts int) (*OutboxRelay, *ledger.Service) {
	t.Helper()

	relay := NewOutboxRelay(
		repository.NewOutboxRepository(db),
		repository.NewDB(db, 2*time.Second),
		pub,
		slog.Default(),
		time.Hour,
		100,
		maxAttempts,
	)
	svc := ledger.NewService(
		repository.NewCustomerRepository(db),
		repository.NewAccountRepository(db),
		repository.NewTransactionRepository(db),
		repository.NewOutboxRepository(db),
		repository.NewDB(db, 2*time.Second),
		relay,
		&config.Config{ListDefaultLimit: 50, ListMaxLimit: 200},
	)
	return relay, svc
}

func outboxEvent(t *testing.T, db *sql.DB, transactionID int64) domain.OutboxEvent {
	t.Helper()
	events, err := repository.NewOutboxRepository(db).GetByTransactionID(context.Background(), transactionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

func makeDue(t *testing.T, db *sql.DB, customerID int64) {
	t.Helper()
	_, err := db.Exec(
		`UPDATE outbox_events SET next_attempt_at = now() - interval '1 second'
		 WHERE customer_id = $1 AND status = 'pending'`,
		customerID,
	)
	require.NoError(t, err)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 1500 * time.Millisecond},
		{3, 2250 * time.Millisecond},
		{40, 5 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestOutboxRelay_NotifyNeverBlocks(t *testing.T) {
	relay := NewOutboxRelay(nil, nil, newRecordingPublisher(), slog.Default(), time.Hour, 10, 3)

	for i := 0; i < 5; i++ {
		relay.Notify()
	}
	assert.Len(t, relay.wake, 1)
}

func TestOutboxRelay_PublishesInWriteOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	pub := newRecordingPublisher()
	relay, svc := setupRelay(t, db, pub, 3)
	ctx := context.Background()

	acct := testutil.SeedAccountType(t, db, "savings", domain.AccountStatusActive)
	a := testutil.SeedCustomer(t, db, acct.ID, "relay_a", 1000)
	b := testutil.SeedCustomer(t, db, acct.ID, "relay_b", 1000)

	c1, err := svc.Credit(ctx, a.ID, 100)
	require.NoError(t, err)
	tr, err := svc.Transfer(ctx, a.ID, b.Username, 300)
	require.NoError(t, err)

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{c1.ID, tr.Debit.ID, tr.Credit.ID}, pub.transactionIDs())

	assert.Equal(t, 0, testutil.CountOutboxEvents(t, db, domain.OutboxStatusPending))
	assert.Equal(t, 3, testutil.CountOutboxEvents(t, db, domain.OutboxStatusDispatched))

	dispatched := outboxEvent(t, db, c1.ID)
	assert.Equal(t, 1, dispatched.Attempts)
	assert.NotNil(t, dispatched.DispatchedAt)

	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelay_FailureHoldsBackCustomer(t *testing.T) {
	db := testutil.SetupTestDB(t)
	pub := newRecordingPublisher()
	relay, svc := setupRelay(t, db, pub, 5)
	ctx := context.Background()

	acct := testutil.SeedAccountType(t, db, "savings", domain.AccountStatusActive)
	a := testutil.SeedCustomer(t, db, acct.ID, "held_a", 0)
	b := testutil.SeedCustomer(t, db, acct.ID, "held_b", 0)

	a1, err := svc.Credit(ctx, a.ID, 10)
	require.NoError(t, err)
	b1, err := svc.Credit(ctx, b.ID, 10)
	require.NoError(t, err)
	a2, err := svc.Credit(ctx, a.ID, 20)
	require.NoError(t, err)

	pub.setFailing(a.ID, true)

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{b1.ID}, pub.transactionIDs())

	failed := outboxEvent(t, db, a1.ID)
	assert.Equal(t, domain.OutboxStatusPending, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "bus unavailable")
	assert.True(t, failed.NextAttemptAt.After(time.Now()))

	held := outboxEvent(t, db, a2.ID)
	assert.Equal(t, domain.OutboxStatusPending, held.Status)
	assert.Zero(t, held.Attempts)

	// a2 is due but stays behind a1 until a1 goes out.
	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pub.setFailing(a.ID, false)
	makeDue(t, db, a.ID)

	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{b1.ID, a1.ID, a2.ID}, pub.transactionIDs())
	assert.Equal(t, 0, testutil.CountOutboxEvents(t, db, domain.OutboxStatusPending))
}

func TestOutboxRelay_MarksFailedAfterMaxAttempts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	pub := newRecordingPublisher()
	relay, svc := setupRelay(t, db, pub, 2)
	ctx := context.Background()

	acct := testutil.SeedAccountType(t, db, "savings", domain.AccountStatusActive)
	a := testutil.SeedCustomer(t, db, acct.ID, "doomed_a", 0)

	rec, err := svc.Credit(ctx, a.ID, 10)
	require.NoError(t, err)
	pub.setFailing(a.ID, true)

	_, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	makeDue(t, db, a.ID)
	_, err = relay.RelayOnce(ctx)
	require.NoError(t, err)

	event := outboxEvent(t, db, rec.ID)
	assert.Equal(t, domain.OutboxStatusFailed, event.Status)
	assert.Equal(t, 2, event.Attempts)
	assert.Empty(t, pub.transactionIDs())

	// The ledger keeps the credit whatever happens to its event.
	assert.Equal(t, int64(10), testutil.GetBalance(t, db, a.ID))

	backlog, err := repository.NewOutboxRepository(db).Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, backlog.Pending)
	assert.Equal(t, 1, backlog.Failed)
	assert.Nil(t, backlog.OldestPending)
}

func TestOutboxRelay_NotifyWakesStartedRelay(t *testing.T) {
	db := testutil.SetupTestDB(t)
	pub := newRecordingPublisher()
	relay, svc := setupRelay(t, db, pub, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	acct := testutil.SeedAccountType(t, db, "savings", domain.AccountStatusActive)
	a := testutil.SeedCustomer(t, db, acct.ID, "woken_a", 0)

	rec, err := svc.Credit(context.Background(), a.ID, 25)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ids := pub.transactionIDs()
		return len(ids) == 1 && ids[0] == rec.ID
	}, 5*time.Second, 20*time.Millisecond)
}

func TestOutboxRelay_StopCommitsBatchInFlight(t *testing.T) {
	db := testutil.SetupTestDB(t)
	pub := newRecordingPublisher()
	relay, svc := setupRelay(t, db, pub, 3)

	ctx, cancel := context.WithCancel(context.Background())
	var publishErr error
	pub.onPublish = func(publishCtx context.Context) {
		cancel()
		publishErr = publishCtx.Err()
	}

	acct := testutil.SeedAccountType(t, db, "savings", domain.AccountStatusActive)
	a := testutil.SeedCustomer(t, db, acct.ID, "stopping_a", 0)
	rec, err := svc.Credit(context.Background(), a.ID, 40)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		relay.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}

	assert.NoError(t, publishErr)
	assert.Equal(t, domain.OutboxStatusDispatched, outboxEvent(t, db, rec.ID).Status)
	assert.Equal(t, []int64{rec.ID}, pub.transactionIDs())
}

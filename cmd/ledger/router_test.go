package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/customer-ledger/internal/auth"
	"github.com/josh-kwaku/customer-ledger/internal/domain"
	"github.com/josh-kwaku/customer-ledger/internal/handler"
	"github.com/josh-kwaku/customer-ledger/internal/repository"
)

const routerSecret = "router-secret"

type stubLedger struct {
	credits int
}

func (s *stubLedger) ResolveCustomer(_ context.Context, username string) (*domain.Customer, error) {
	if username != "alice" {
		return nil, domain.ErrNotFound
	}
	return &domain.Customer{ID: 1, Username: "alice"}, nil
}

func (s *stubLedger) Credit(_ context.Context, customerID, amount int64) (*domain.TransactionRecord, error) {
	s.credits++
	rec := domain.NewCreditRecord(domain.TransactionTypeCredit, customerID, amount, time.Now().UTC())
	rec.ID = int64(s.credits)
	return rec, nil
}

func (s *stubLedger) Debit(context.Context, int64, int64) (*domain.TransactionRecord, error) {
	return nil, domain.ErrInsufficientFunds
}

func (s *stubLedger) Transfer(context.Context, int64, string, int64) (*domain.TransferResult, error) {
	return nil, domain.ErrSelfTransfer
}

func (s *stubLedger) GetTransactionForCustomer(context.Context, int64, int64) (*domain.TransactionRecord, error) {
	return nil, domain.ErrNotFound
}

func (s *stubLedger) ListTransactionsForCustomer(context.Context, int64, int, int) ([]domain.TransactionRecord, int, error) {
	return nil, 0, nil
}

type mapIdempotencyStore map[string]*repository.IdempotencyKey

func (m mapIdempotencyStore) Reserve(_ context.Context, key, username, hash string, ttl time.Duration) (*repository.IdempotencyKey, bool, error) {
	if k, ok := m[username+"/"+key]; ok {
		return k, false, nil
	}
	m[username+"/"+key] = &repository.IdempotencyKey{Key: key, Username: username, RequestHash: hash, ExpiresAt: time.Now().Add(ttl)}
	return m[username+"/"+key], true, nil
}

func (m mapIdempotencyStore) Complete(_ context.Context, key, username string, status int, body []byte) error {
	k := m[username+"/"+key]
	now := time.Now()
	k.StatusCode, k.ResponseBody, k.CompletedAt = &status, body, &now
	return nil
}

func (m mapIdempotencyStore) Release(_ context.Context, key, username string) error {
	delete(m, username+"/"+key)
	return nil
}

func bearer(t *testing.T, username string) string {
	t.Helper()
	token, err := auth.GenerateToken(username, routerSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouter(t *testing.T) {
	stub := &stubLedger{}
	router := newRouter(
		handler.NewTransactionHandler(stub),
		handler.NewHealthHandler(nil, nil, nil),
		routerSecret,
		mapIdempotencyStore{},
	)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		username   string
		idemKey    string
		wantStatus int
	}{
		{"liveness is public", http.MethodGet, "/health", "", "", "", http.StatusOK},
		{"docs are public", http.MethodGet, "/docs/openapi.yaml", "", "", "", http.StatusOK},
		{"api needs a token", http.MethodGet, "/api/v1/transactions", "", "", "", http.StatusUnauthorized},
		{"list", http.MethodGet, "/api/v1/transactions", "", "alice", "", http.StatusOK},
		{"unknown customer", http.MethodGet, "/api/v1/transactions", "", "mallory", "", http.StatusForbidden},
		{"get missing", http.MethodGet, "/api/v1/transactions/99", "", "alice", "", http.StatusNotFound},
		{"credit needs a key", http.MethodPost, "/api/v1/transactions/credit", `{"amount":5}`, "alice", "", http.StatusBadRequest},
		{"credit", http.MethodPost, "/api/v1/transactions/credit", `{"amount":5}`, "alice", "k-1", http.StatusCreated},
		{"debit", http.MethodPost, "/api/v1/transactions/debit", `{"amount":5}`, "alice", "k-2", http.StatusUnprocessableEntity},
		{"transfer", http.MethodPost, "/api/v1/transactions/transfer", `{"to_username":"alice","amount":5}`, "alice", "k-3", http.StatusUnprocessableEntity},
		{"wrong method", http.MethodDelete, "/api/v1/transactions/1", "", "alice", "k-4", http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
			if tc.username != "" {
				req.Header.Set("Authorization", bearer(t, tc.username))
			}
			if tc.idemKey != "" {
				req.Header.Set("Idempotency-Key", tc.idemKey)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouter_ReplaysCredit(t *testing.T) {
	stub := &stubLedger{}
	router := newRouter(
		handler.NewTransactionHandler(stub),
		handler.NewHealthHandler(nil, nil, nil),
		routerSecret,
		mapIdempotencyStore{},
	)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/credit", bytes.NewBufferString(`{"amount":5}`))
		req.Header.Set("Authorization", bearer(t, "alice"))
		req.Header.Set("Idempotency-Key", "same")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first, second := send(), send()
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 1, stub.credits)

	var a, b handler.APIResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.Data, b.Data)
}

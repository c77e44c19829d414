package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/customer-ledger/internal/auth"
	"github.com/josh-kwaku/customer-ledger/internal/handler"
	"github.com/josh-kwaku/customer-ledger/internal/logging"
	"github.com/josh-kwaku/customer-ledger/internal/repository"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	maxIdempotencyKey = 255
	maxWriteBody      = 1 << 20
)

// IdempotencyStore holds one reservation per caller and key.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key, username, requestHash string, ttl time.Duration) (*repository.IdempotencyKey, bool, error)
	Complete(ctx context.Context, key, username string, statusCode int, body []byte) error
	Release(ctx context.Context, key, username string) error
}

// Idempotency makes writes safe to retry. The first request with a key
// reserves it and runs. A repeat gets the stored response once that request
// has finished, or IDEMPOTENCY_IN_PROGRESS while it is still running. Server
// errors and conflicts release the key so the caller can retry it.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(idempotencyHeader)
			if key == "" || len(key) > maxIdempotencyKey {
				handler.RespondAppError(w, handler.ErrMissingIdempotencyKey, nil)
				return
			}

			username, ok := auth.UsernameFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWriteBody))
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			log := logging.FromContext(r.Context())
			reqHash := requestHash(r.Method, r.URL.Path, body)

			existing, reserved, err := store.Reserve(r.Context(), key, username, reqHash, idempotencyTTL)
			switch {
			case errors.Is(err, repository.ErrKeyContended):
				handler.RespondAppError(w, handler.ErrIdempotencyInProgress, nil)
				return
			case err != nil:
				log.Error("idempotency reservation failed", "error", err)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			case !reserved:
				replay(w, existing, reqHash, log)
				return
			}

			// The outcome must be recorded even if the client has gone away.
			storeCtx := context.WithoutCancel(r.Context())
			ran := false
			defer func() {
				if ran {
					return
				}
				if err := store.Release(storeCtx, key, username); err != nil {
					log.Error("idempotency release failed", "error", err)
				}
			}()

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if retryable(rec.statusCode) {
				return
			}

			// The handler's effects are committed from here on. A reservation
			// that cannot be completed stays in progress until it expires and
			// is never freed for a second run.
			ran = true
			if err := completeWithRetry(storeCtx, store, key, username, rec.statusCode, rec.body.Bytes()); err != nil {
				log.Error("idempotency completion failed, key held until expiry", "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, existing *repository.IdempotencyKey, reqHash string, log *slog.Logger) {
	if existing.RequestHash != reqHash {
		handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
		return
	}
	if !existing.Completed() {
		handler.RespondAppError(w, handler.ErrIdempotencyInProgress, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotent-Replayed", "true")
	w.WriteHeader(*existing.StatusCode)
	if _, err := w.Write(existing.ResponseBody); err != nil {
		log.Error("failed to write idempotent replay", "error", err)
	}
}

var completeBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.WithMaxRetries(b, 4)
}

func completeWithRetry(ctx context.Context, store IdempotencyStore, key, username string, status int, body []byte) error {
	return backoff.Retry(func() error {
		return store.Complete(ctx, key, username, status, body)
	}, backoff.WithContext(completeBackOff(), ctx))
}

func retryable(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusConflict
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/josh-kwaku/customer-ledger/internal/auth"
	"github.com/josh-kwaku/customer-ledger/internal/domain"
	"github.com/josh-kwaku/customer-ledger/internal/logging"
)

type customerResolver interface {
	ResolveCustomer(ctx context.Context, username string) (*domain.Customer, error)
}

// callerFromRequest turns the authenticated username into the customer the
// request acts for.
func callerFromRequest(r *http.Request, resolver customerResolver) (*domain.Customer, *AppError) {
	username, ok := auth.UsernameFromContext(r.Context())
	if !ok {
		return nil, ErrMissingToken
	}

	c, err := resolver.ResolveCustomer(r.Context(), username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrUnknownCustomer
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("caller lookup failed", "username", username, "error", err)
		return nil, appErrorFor(err)
	}
	return c, nil
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
	"github.com/josh-kwaku/customer-ledger/internal/logging"
)

type ledgerService interface {
	customerResolver
	Credit(ctx context.Context, customerID, amount int64) (*domain.TransactionRecord, error)
	Debit(ctx context.Context, customerID, amount int64) (*domain.TransactionRecord, error)
	Transfer(ctx context.Context, fromCustomerID int64, toUsername string, amount int64) (*domain.TransferResult, error)
	GetTransactionForCustomer(ctx context.Context, id, customerID int64) (*domain.TransactionRecord, error)
	ListTransactionsForCustomer(ctx context.Context, customerID int64, limit, offset int) ([]domain.TransactionRecord, int, error)
}

type TransactionHandler struct {
	ledger ledgerService
}

func NewTransactionHandler(ledger ledgerService) *TransactionHandler {
	return &TransactionHandler{ledger: ledger}
}

// Amount rules belong to the ledger, which checks them after resolving both
// parties. Request validation covers shape only.
type amountRequest struct {
	Amount int64 `json:"amount"`
}

type transferRequest struct {
	ToUsername string `json:"to_username"`
	Amount     int64  `json:"amount"`
}

func (r transferRequest) Validate() []FieldError {
	var errs []FieldError

	if r.ToUsername == "" {
		errs = append(errs, FieldError{Field: "to_username", Message: "required"})
	}

	return errs
}

// Amounts are in minor units.
type transactionDTO struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	CustomerID int64     `json:"customer_id"`
	Credit     *int64    `json:"credit"`
	Debit      *int64    `json:"debit"`
	Amount     int64     `json:"amount"`
	RefID      *int64    `json:"ref_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toTransactionDTO(rec *domain.TransactionRecord) transactionDTO {
	return transactionDTO{
		ID:         rec.ID,
		Type:       string(rec.Type),
		CustomerID: rec.CustomerID,
		Credit:     rec.Credit,
		Debit:      rec.Debit,
		Amount:     rec.Amount(),
		RefID:      rec.RefID,
		CreatedAt:  rec.CreatedAt,
	}
}

type transferDTO struct {
	Debit  transactionDTO `json:"debit"`
	Credit transactionDTO `json:"credit"`
}

type transactionListDTO struct {
	Items  []transactionDTO `json:"items"`
	Total  int              `json:"total"`
	Offset int              `json:"offset"`
}

func (h *TransactionHandler) Credit(w http.ResponseWriter, r *http.Request) {
	h.singleLeg(w, r, "credit", h.ledger.Credit)
}

func (h *TransactionHandler) Debit(w http.ResponseWriter, r *http.Request) {
	h.singleLeg(w, r, "debit", h.ledger.Debit)
}

func (h *TransactionHandler) singleLeg(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	apply func(ctx context.Context, customerID, amount int64) (*domain.TransactionRecord, error),
) {
	log := logging.FromContext(r.Context())

	caller, appErr := callerFromRequest(r, h.ledger)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	rec, err := apply(r.Context(), caller.ID, req.Amount)
	if err != nil {
		log.Warn(op+" failed", "customer_id", caller.ID, "amount", req.Amount, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/transactions/%d", rec.ID))
	RespondSuccess(w, http.StatusCreated, toTransactionDTO(rec))
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	caller, appErr := callerFromRequest(r, h.ledger)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	result, err := h.ledger.Transfer(r.Context(), caller.ID, req.ToUsername, req.Amount)
	if err != nil {
		log.Warn("transfer failed",
			"customer_id", caller.ID,
			"to_username", req.ToUsername,
			"amount", req.Amount,
			"error", err,
		)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/transactions/%d", result.Debit.ID))
	RespondSuccess(w, http.StatusCreated, transferDTO{
		Debit:  toTransactionDTO(result.Debit),
		Credit: toTransactionDTO(result.Credit),
	})
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, appErr := callerFromRequest(r, h.ledger)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	rec, err := h.ledger.GetTransactionForCustomer(r.Context(), id, caller.ID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("transaction lookup failed", "transaction_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toTransactionDTO(rec))
}

func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, appErr := callerFromRequest(r, h.ledger)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	limit, offset, fields := parsePage(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	records, total, err := h.ledger.ListTransactionsForCustomer(r.Context(), caller.ID, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Warn("transaction list failed", "customer_id", caller.ID, "error", err)
		RespondDomainError(w, err)
		return
	}

	items := make([]transactionDTO, 0, len(records))
	for i := range records {
		items = append(items, toTransactionDTO(&records[i]))
	}

	RespondSuccess(w, http.StatusOK, transactionListDTO{
		Items:  items,
		Total:  total,
		Offset: offset,
	})
}

// parsePage reads limit and offset. A missing limit is 0, which the ledger
// replaces with its default page size.
func parsePage(r *http.Request) (int, int, []FieldError) {
	var (
		limit, offset int
		errs          []FieldError
		err           error
	)

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			errs = append(errs, FieldError{Field: "limit", Message: "must be a non-negative integer"})
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			errs = append(errs, FieldError{Field: "offset", Message: "must be a non-negative integer"})
		}
	}

	return limit, offset, errs
}

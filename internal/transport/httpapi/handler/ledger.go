package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pineos/referral-ledger/internal/ledger"
	"github.com/pineos/referral-ledger/pkg/money"
)

// IdempotencyKeyHeader carries the client-chosen idempotency key for
// mutation requests.
const IdempotencyKeyHeader = "Idempotency-Key"

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// LedgerService defines the ledger operations the handler depends on
type LedgerService interface {
	Credit(ctx context.Context, req ledger.CreditRequest, idempotencyKey string) (*ledger.Entry, bool, error)
	Debit(ctx context.Context, req ledger.DebitRequest, idempotencyKey string) (*ledger.Entry, bool, error)
	Reverse(ctx context.Context, req ledger.ReversalRequest, idempotencyKey string) (*ledger.Entry, bool, error)
	Entries(ctx context.Context, userID *string, limit, offset int) ([]*ledger.Entry, int64, error)
	Balance(ctx context.Context, userID string) (*ledger.Balance, error)
}

// LedgerHandler handles ledger mutation and query requests
type LedgerHandler struct {
	service LedgerService
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(service LedgerService) *LedgerHandler {
	return &LedgerHandler{service: service}
}

// IdempotentResponse wraps a mutation result with its replay marker.
// is_duplicate is true when the entry was created by an earlier request
// with the same idempotency key.
type IdempotentResponse struct {
	Data        *ledger.Entry `json:"data"`
	IsDuplicate bool          `json:"is_duplicate"`
}

// Credit handles POST /api/v1/ledger/credit
func (h *LedgerHandler) Credit(w http.ResponseWriter, r *http.Request) {
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	var req ledger.CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, "invalid request body", http.StatusUnprocessableEntity)
		return
	}

	entry, isDuplicate, err := h.service.Credit(r.Context(), req, key)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondMutation(w, entry, isDuplicate)
}

// Debit handles POST /api/v1/ledger/debit
func (h *LedgerHandler) Debit(w http.ResponseWriter, r *http.Request) {
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	var req ledger.DebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, "invalid request body", http.StatusUnprocessableEntity)
		return
	}

	entry, isDuplicate, err := h.service.Debit(r.Context(), req, key)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondMutation(w, entry, isDuplicate)
}

// reverseRequest is the wire shape for a reversal; entry_id arrives as a
// string so a malformed UUID yields a validation error, not a decode error.
type reverseRequest struct {
	EntryID   string                 `json:"entry_id"`
	Reason    string                 `json:"reason"`
	ExtraData map[string]interface{} `json:"extra_data,omitempty"`
}

// Reverse handles POST /api/v1/ledger/reverse
func (h *LedgerHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	var body reverseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, "invalid request body", http.StatusUnprocessableEntity)
		return
	}

	entryID, err := uuid.Parse(body.EntryID)
	if err != nil {
		respondError(w, r, "entry_id must be a valid UUID", http.StatusUnprocessableEntity)
		return
	}

	req := ledger.ReversalRequest{
		EntryID:   entryID,
		Reason:    body.Reason,
		ExtraData: body.ExtraData,
	}

	entry, isDuplicate, err := h.service.Reverse(r.Context(), req, key)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondMutation(w, entry, isDuplicate)
}

// EntriesResponse is a page of ledger entries. page and page_size are
// derived from the limit/offset query parameters.
type EntriesResponse struct {
	Entries  []*ledger.Entry `json:"entries"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// GetEntries handles GET /api/v1/ledger/entries
func (h *LedgerHandler) GetEntries(w http.ResponseWriter, r *http.Request) {
	var userID *string
	if v := r.URL.Query().Get("user_id"); v != "" {
		userID = &v
	}

	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil || limit < 1 || limit > maxLimit {
		respondError(w, r, "limit must be between 1 and 1000", http.StatusUnprocessableEntity)
		return
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		respondError(w, r, "offset must be a non-negative integer", http.StatusUnprocessableEntity)
		return
	}

	entries, total, err := h.service.Entries(r.Context(), userID, limit, offset)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, EntriesResponse{
		Entries:  entries,
		Total:    total,
		Page:     offset/limit + 1,
		PageSize: limit,
	}, http.StatusOK)
}

// BalanceResponse is the per-user balance view. balance_dollars is a
// display convenience derived from balance_cents.
type BalanceResponse struct {
	UserID         string  `json:"user_id"`
	BalanceCents   int64   `json:"balance_cents"`
	BalanceDollars float64 `json:"balance_dollars"`
	Version        int     `json:"version"`
	UpdatedAt      string  `json:"updated_at"`
}

// GetBalance handles GET /api/v1/ledger/balance/{user_id}
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		respondError(w, r, "user_id is required", http.StatusUnprocessableEntity)
		return
	}

	balance, err := h.service.Balance(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, BalanceResponse{
		UserID:         balance.UserID,
		BalanceCents:   balance.BalanceCents,
		BalanceDollars: money.Dollars(balance.BalanceCents),
		Version:        balance.Version,
		UpdatedAt:      balance.UpdatedAt.UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// idempotencyKey extracts the required Idempotency-Key header; on absence
// it writes the error response and reports false.
func (h *LedgerHandler) idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		respondError(w, r, "Idempotency-Key header is required", http.StatusUnprocessableEntity)
		return "", false
	}
	return key, true
}

// respondMutation writes the idempotent envelope: 201 for a fresh entry,
// 200 for a replay.
func respondMutation(w http.ResponseWriter, entry *ledger.Entry, isDuplicate bool) {
	status := http.StatusCreated
	if isDuplicate {
		status = http.StatusOK
	}
	respondJSON(w, IdempotentResponse{Data: entry, IsDuplicate: isDuplicate}, status)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

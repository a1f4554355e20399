package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pineos/referral-ledger/internal/ledger"
	"github.com/pineos/referral-ledger/internal/rules"
	apperrors "github.com/pineos/referral-ledger/internal/shared/errors"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondWithJSON is an alias for respondJSON (for compatibility)
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondError sends an error response with an explicit status code
func respondError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	respondJSON(w, ErrorResponse{
		Error:     message,
		RequestID: chimiddleware.GetReqID(r.Context()),
	}, statusCode)
}

// respondWithError is an alias for respondError (for compatibility)
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondDomainError maps a domain error to its HTTP status and writes the
// error envelope.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	respondJSON(w, ErrorResponse{
		Error:     errorMessage(err),
		Detail:    errorDetail(err),
		RequestID: chimiddleware.GetReqID(r.Context()),
	}, statusForError(err))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, rules.ErrInvalidRule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrCannotReverseReversal):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrIdempotencyConflict),
		errors.Is(err, ledger.ErrAlreadyReversed):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, ledger.ErrBalanceNotFound),
		errors.Is(err, rules.ErrRuleNotFound):
		return http.StatusNotFound
	}

	if appErr := apperrors.GetAppError(err); appErr != nil {
		switch appErr.Code {
		case apperrors.ErrCodeValidation:
			return http.StatusUnprocessableEntity
		case apperrors.ErrCodeNotFound:
			return http.StatusNotFound
		case apperrors.ErrCodeConflict, apperrors.ErrCodeIdempotencyConflict, apperrors.ErrCodeAlreadyReversed:
			return http.StatusConflict
		case apperrors.ErrCodeInsufficientBalance:
			return http.StatusBadRequest
		}
	}

	return http.StatusInternalServerError
}

// errorMessage keeps 5xx responses opaque; client errors carry the domain
// message.
func errorMessage(err error) string {
	if statusForError(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

func errorDetail(err error) string {
	switch {
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		return "idempotency key was already used with a different request payload"
	case errors.Is(err, ledger.ErrAlreadyReversed):
		return "entry has already been reversed"
	}
	return ""
}

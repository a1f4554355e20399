package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pineos/referral-ledger/internal/rules"
)

// RuleStore defines the rule management operations the handler depends on
type RuleStore interface {
	CreateRule(ctx context.Context, name string, description *string, def rules.Definition) (*rules.Rule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]*rules.Rule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*rules.Rule, error)
}

// RuleEvaluator defines the evaluation operation the handler depends on
type RuleEvaluator interface {
	EvaluateEvent(ctx context.Context, event map[string]interface{}, ruleID *uuid.UUID) (*rules.Result, error)
}

// RuleHandler handles rule management and evaluation requests
type RuleHandler struct {
	store     RuleStore
	evaluator RuleEvaluator
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(store RuleStore, evaluator RuleEvaluator) *RuleHandler {
	return &RuleHandler{store: store, evaluator: evaluator}
}

type createRuleRequest struct {
	Name        string           `json:"name"`
	Description *string          `json:"description,omitempty"`
	RuleJSON    rules.Definition `json:"rule_json"`
}

// CreateRule handles POST /api/v1/rules
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, "invalid request body", http.StatusUnprocessableEntity)
		return
	}

	rule, err := h.store.CreateRule(r.Context(), req.Name, req.Description, req.RuleJSON)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, rule, http.StatusCreated)
}

// RulesResponse is the rule listing envelope
type RulesResponse struct {
	Rules []*rules.Rule `json:"rules"`
	Total int           `json:"total"`
}

// ListRules handles GET /api/v1/rules
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"

	list, err := h.store.ListRules(r.Context(), activeOnly)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}

	respondJSON(w, RulesResponse{Rules: list, Total: len(list)}, http.StatusOK)
}

// GetRule handles GET /api/v1/rules/{id}
func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, "rule id must be a valid UUID", http.StatusUnprocessableEntity)
		return
	}

	rule, err := h.store.GetRule(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, rule, http.StatusOK)
}

type evaluateRequest struct {
	EventData map[string]interface{} `json:"event_data"`
	RuleID    *string                `json:"rule_id,omitempty"`
}

// EvaluateEvent handles POST /api/v1/rules/evaluate
func (h *RuleHandler) EvaluateEvent(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	if req.EventData == nil {
		respondError(w, r, "event_data is required", http.StatusUnprocessableEntity)
		return
	}

	var ruleID *uuid.UUID
	if req.RuleID != nil {
		id, err := uuid.Parse(*req.RuleID)
		if err != nil {
			respondError(w, r, "rule_id must be a valid UUID", http.StatusUnprocessableEntity)
			return
		}
		ruleID = &id
	}

	result, err := h.evaluator.EvaluateEvent(r.Context(), req.EventData, ruleID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, result, http.StatusOK)
}

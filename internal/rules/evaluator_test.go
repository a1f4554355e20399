package rules

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pineos/referral-ledger/internal/ledger"
	"github.com/pineos/referral-ledger/pkg/logger"
)

// MockRepository is a mock implementation of Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, rule *Rule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockRepository) List(ctx context.Context, activeOnly bool) ([]*Rule, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Rule), args.Error(1)
}

func (m *MockRepository) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Rule), args.Error(1)
}

// MockCreditor is a mock implementation of Creditor
type MockCreditor struct {
	mock.Mock
}

func (m *MockCreditor) Credit(ctx context.Context, req ledger.CreditRequest, idempotencyKey string) (*ledger.Entry, bool, error) {
	args := m.Called(ctx, req, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*ledger.Entry), args.Bool(1), args.Error(2)
}

func newRule(def Definition) *Rule {
	now := time.Now().UTC()
	return &Rule{
		ID:         uuid.New(),
		Name:       "test rule",
		Definition: def,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestEvalCondition_Operators(t *testing.T) {
	event := map[string]interface{}{
		"event_type":   "signup",
		"amount_cents": float64(5000),
		"country":      "US",
		"tags":         []interface{}{"promo", "vip"},
		"purchase": map[string]interface{}{
			"total": float64(120),
		},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equal string", Condition{Field: "event_type", Operator: OpEqual, Value: "signup"}, true},
		{"equal mismatch", Condition{Field: "event_type", Operator: OpEqual, Value: "purchase"}, false},
		{"equal int vs float", Condition{Field: "amount_cents", Operator: OpEqual, Value: 5000}, true},
		{"not equal", Condition{Field: "event_type", Operator: OpNotEqual, Value: "purchase"}, true},
		{"greater", Condition{Field: "amount_cents", Operator: OpGreater, Value: 4999}, true},
		{"greater false on equal", Condition{Field: "amount_cents", Operator: OpGreater, Value: 5000}, false},
		{"less", Condition{Field: "amount_cents", Operator: OpLess, Value: 5001}, true},
		{"greater or equal", Condition{Field: "amount_cents", Operator: OpGreaterOrEqual, Value: 5000}, true},
		{"less or equal", Condition{Field: "amount_cents", Operator: OpLessOrEqual, Value: 5000}, true},
		{"string ordering", Condition{Field: "country", Operator: OpGreater, Value: "UA"}, true},
		{"in list", Condition{Field: "country", Operator: OpIn, Value: []interface{}{"US", "CA"}}, true},
		{"not in list", Condition{Field: "country", Operator: OpNotIn, Value: []interface{}{"DE", "FR"}}, true},
		{"contains list element", Condition{Field: "tags", Operator: OpContains, Value: "vip"}, true},
		{"contains substring", Condition{Field: "event_type", Operator: OpContains, Value: "sign"}, true},
		{"contains miss", Condition{Field: "tags", Operator: OpContains, Value: "basic"}, false},
		{"nested path", Condition{Field: "purchase.total", Operator: OpGreaterOrEqual, Value: 100}, true},
		{"missing path is false", Condition{Field: "purchase.currency", Operator: OpEqual, Value: "USD"}, false},
		{"missing root is false", Condition{Field: "referrer", Operator: OpNotEqual, Value: "x"}, false},
		{"type mismatch compare is false", Condition{Field: "event_type", Operator: OpGreater, Value: 5}, false},
		{"unknown operator is false", Condition{Field: "event_type", Operator: "~=", Value: "signup"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalCondition(tt.cond, event))
		})
	}
}

func TestEvalConditions_Logic(t *testing.T) {
	event := map[string]interface{}{"a": float64(1), "b": float64(2)}

	hit := Condition{Field: "a", Operator: OpEqual, Value: 1}
	miss := Condition{Field: "b", Operator: OpEqual, Value: 99}

	assert.True(t, evalConditions(nil, event, LogicAnd))
	assert.True(t, evalConditions([]Condition{hit, hit}, event, LogicAnd))
	assert.False(t, evalConditions([]Condition{hit, miss}, event, LogicAnd))
	assert.True(t, evalConditions([]Condition{hit, miss}, event, LogicOr))
	assert.False(t, evalConditions([]Condition{miss, miss}, event, LogicOr))

	// Unknown logic behaves as AND
	assert.False(t, evalConditions([]Condition{hit, miss}, event, Logic("XOR")))
}

func TestDeriveIdempotencyKey_Deterministic(t *testing.T) {
	a := DeriveIdempotencyKey("referral_bonus", "alice", "evt-1")
	b := DeriveIdempotencyKey("referral_bonus", "alice", "evt-1")
	c := DeriveIdempotencyKey("referral_bonus", "alice", "evt-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestEvaluateEvent_CreditDispatch(t *testing.T) {
	repo := new(MockRepository)
	creditor := new(MockCreditor)
	log := logger.NewDefault("test")

	rule := newRule(Definition{
		Conditions: []Condition{{Field: "event_type", Operator: OpEqual, Value: "signup"}},
		Actions:    []Action{{Type: ActionCredit, User: "referrer_id", AmountCents: 500, RewardID: "referral_bonus"}},
		Logic:      LogicAnd,
	})
	repo.On("List", mock.Anything, true).Return([]*Rule{rule}, nil)

	event := map[string]interface{}{
		"event_type":  "signup",
		"event_id":    "evt-1",
		"referrer_id": "alice",
	}

	wantKey := DeriveIdempotencyKey("referral_bonus", "alice", "evt-1")
	entry := &ledger.Entry{ID: uuid.New(), UserID: "alice", AmountCents: 500}
	creditor.On("Credit", mock.Anything, mock.MatchedBy(func(req ledger.CreditRequest) bool {
		return req.UserID == "alice" &&
			req.AmountCents == 500 &&
			req.RewardID != nil && *req.RewardID == "referral_bonus" &&
			req.RewardStatus != nil && *req.RewardStatus == ledger.RewardStatusConfirmed
	}), wantKey).Return(entry, false, nil)

	evaluator := NewEvaluator(repo, creditor, log)
	result, err := evaluator.EvaluateEvent(context.Background(), event, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RulesEvaluated)
	assert.Equal(t, 1, result.RulesTriggered)
	require.Len(t, result.Results, 1)
	require.Len(t, result.Results[0].ActionsExecuted, 1)

	action := result.Results[0].ActionsExecuted[0]
	assert.True(t, action.Success)
	assert.Equal(t, entry.ID.String(), action.EntryID)
	assert.False(t, action.IsDuplicate)

	creditor.AssertExpectations(t)
}

func TestEvaluateEvent_ReplayIsDuplicate(t *testing.T) {
	repo := new(MockRepository)
	creditor := new(MockCreditor)

	rule := newRule(Definition{
		Conditions: []Condition{},
		Actions:    []Action{{Type: ActionCredit, User: "referrer_id", AmountCents: 500, RewardID: "referral_bonus"}},
		Logic:      LogicAnd,
	})
	repo.On("List", mock.Anything, true).Return([]*Rule{rule}, nil)

	entry := &ledger.Entry{ID: uuid.New()}
	creditor.On("Credit", mock.Anything, mock.Anything, mock.Anything).Return(entry, true, nil)

	evaluator := NewEvaluator(repo, creditor, logger.NewDefault("test"))
	event := map[string]interface{}{"event_id": "evt-1", "referrer_id": "alice"}

	result, err := evaluator.EvaluateEvent(context.Background(), event, nil)
	require.NoError(t, err)
	assert.True(t, result.Results[0].ActionsExecuted[0].IsDuplicate)
}

func TestEvaluateEvent_ConditionsNotMet(t *testing.T) {
	repo := new(MockRepository)
	creditor := new(MockCreditor)

	rule := newRule(Definition{
		Conditions: []Condition{{Field: "event_type", Operator: OpEqual, Value: "purchase"}},
		Actions:    []Action{{Type: ActionCredit, User: "referrer_id", AmountCents: 500, RewardID: "r"}},
		Logic:      LogicAnd,
	})
	repo.On("List", mock.Anything, true).Return([]*Rule{rule}, nil)

	evaluator := NewEvaluator(repo, creditor, logger.NewDefault("test"))
	result, err := evaluator.EvaluateEvent(context.Background(), map[string]interface{}{"event_type": "signup"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RulesEvaluated)
	assert.Equal(t, 0, result.RulesTriggered)
	assert.False(t, result.Results[0].ConditionsMet)
	assert.Empty(t, result.Results[0].ActionsExecuted)
	creditor.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
}

func TestEvaluateEvent_UserFieldMissing(t *testing.T) {
	repo := new(MockRepository)
	creditor := new(MockCreditor)

	rule := newRule(Definition{
		Conditions: []Condition{},
		Actions:    []Action{{Type: ActionCredit, User: "referrer_id", AmountCents: 500, RewardID: "r"}},
		Logic:      LogicAnd,
	})
	repo.On("List", mock.Anything, true).Return([]*Rule{rule}, nil)

	evaluator := NewEvaluator(repo, creditor, logger.NewDefault("test"))
	result, err := evaluator.EvaluateEvent(context.Background(), map[string]interface{}{"event_id": "evt-1"}, nil)
	require.NoError(t, err)

	action := result.Results[0].ActionsExecuted[0]
	assert.False(t, action.Success)
	assert.Contains(t, action.Error, "referrer_id")
	creditor.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
}

func TestEvaluateEvent_DebitNotImplemented(t *testing.T) {
	repo := new(MockRepository)
	creditor := new(MockCreditor)

	rule := newRule(Definition{
		Conditions: []Condition{},
		Actions:    []Action{{Type: ActionDebit, User: "referrer_id", AmountCents: 500, RewardID: "r"}},
		Logic:      LogicAnd,
	})
	repo.On("List", mock.Anything, true).Return([]*Rule{rule}, nil)

	evaluator := NewEvaluator(repo, creditor, logger.NewDefault("test"))
	result, err := evaluator.EvaluateEvent(context.Background(), map[string]interface{}{"referrer_id": "alice"}, nil)
	require.NoError(t, err)

	action := result.Results[0].ActionsExecuted[0]
	assert.False(t, action.Success)
	assert.Equal(t, "debit action not implemented", action.Error)
}

func TestEvaluateEvent_ActionFailureDoesNotAbort(t *testing.T) {
	repo := new(MockRepository)
	creditor := new(MockCreditor)

	rule := newRule(Definition{
		Conditions: []Condition{},
		Actions: []Action{
			{Type: ActionCredit, User: "referrer_id", AmountCents: 500, RewardID: "first"},
			{Type: ActionCredit, User: "referrer_id", AmountCents: 300, RewardID: "second"},
		},
		Logic: LogicAnd,
	})
	repo.On("List", mock.Anything, true).Return([]*Rule{rule}, nil)

	entry := &ledger.Entry{ID: uuid.New()}
	creditor.On("Credit", mock.Anything, mock.MatchedBy(func(req ledger.CreditRequest) bool {
		return req.RewardID != nil && *req.RewardID == "first"
	}), mock.Anything).Return(nil, false, assert.AnError)
	creditor.On("Credit", mock.Anything, mock.MatchedBy(func(req ledger.CreditRequest) bool {
		return req.RewardID != nil && *req.RewardID == "second"
	}), mock.Anything).Return(entry, false, nil)

	evaluator := NewEvaluator(repo, creditor, logger.NewDefault("test"))
	event := map[string]interface{}{"event_id": "evt-1", "referrer_id": "alice"}

	result, err := evaluator.EvaluateEvent(context.Background(), event, nil)
	require.NoError(t, err)

	require.Len(t, result.Results[0].ActionsExecuted, 2)
	assert.False(t, result.Results[0].ActionsExecuted[0].Success)
	assert.True(t, result.Results[0].ActionsExecuted[1].Success)
}

func TestEvaluateEvent_RuleFilter(t *testing.T) {
	repo := new(MockRepository)
	creditor := new(MockCreditor)

	ruleA := newRule(Definition{
		Conditions: []Condition{},
		Actions:    []Action{{Type: ActionCredit, User: "referrer_id", AmountCents: 500, RewardID: "a"}},
		Logic:      LogicAnd,
	})
	ruleB := newRule(Definition{
		Conditions: []Condition{},
		Actions:    []Action{{Type: ActionCredit, User: "referrer_id", AmountCents: 300, RewardID: "b"}},
		Logic:      LogicAnd,
	})
	repo.On("List", mock.Anything, true).Return([]*Rule{ruleA, ruleB}, nil)

	entry := &ledger.Entry{ID: uuid.New()}
	creditor.On("Credit", mock.Anything, mock.Anything, mock.Anything).Return(entry, false, nil)

	evaluator := NewEvaluator(repo, creditor, logger.NewDefault("test"))
	event := map[string]interface{}{"event_id": "evt-1", "referrer_id": "alice"}

	result, err := evaluator.EvaluateEvent(context.Background(), event, &ruleA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesEvaluated)
	assert.Equal(t, ruleA.ID.String(), result.Results[0].RuleID)

	// Filtering by an id that is not among the active rules evaluates nothing
	missing := uuid.New()
	result, err = evaluator.EvaluateEvent(context.Background(), event, &missing)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RulesEvaluated)
	assert.Empty(t, result.Results)
}

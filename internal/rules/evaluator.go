package rules

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pineos/referral-ledger/internal/ledger"
	"github.com/pineos/referral-ledger/pkg/logger"
)

// Evaluator matches event payloads against stored rules and dispatches the
// actions of matching rules to the ledger.
//
// Evaluation itself is idempotent: credit actions derive their idempotency
// key deterministically from (reward_id, user_id, event_id), so replaying
// the same event produces the same keys and therefore at most one ledger
// mutation per action.
type Evaluator struct {
	repo   Repository
	ledger Creditor
	log    *logger.Logger
}

// NewEvaluator creates a new rule evaluator.
func NewEvaluator(repo Repository, creditor Creditor, log *logger.Logger) *Evaluator {
	return &Evaluator{
		repo:   repo,
		ledger: creditor,
		log:    log.WithField("component", "rule_evaluator"),
	}
}

// ActionResult reports the outcome of a single dispatched action. Failures
// are recorded here rather than aborting the evaluation run.
type ActionResult struct {
	Success     bool   `json:"success"`
	ActionType  string `json:"action_type,omitempty"`
	EntryID     string `json:"entry_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	IsDuplicate bool   `json:"is_duplicate,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RuleResult reports how a single rule fared against the event.
type RuleResult struct {
	RuleID          string         `json:"rule_id"`
	RuleName        string         `json:"rule_name"`
	ConditionsMet   bool           `json:"conditions_met"`
	ActionsExecuted []ActionResult `json:"actions_executed"`
}

// Result is the overall outcome of an evaluation run.
type Result struct {
	EventData      map[string]interface{} `json:"event_data"`
	RulesEvaluated int                    `json:"rules_evaluated"`
	RulesTriggered int                    `json:"rules_triggered"`
	Results        []RuleResult           `json:"results"`
}

// EvaluateEvent evaluates the event against all active rules, or against
// the single active rule named by ruleID.
func (e *Evaluator) EvaluateEvent(ctx context.Context, event map[string]interface{}, ruleID *uuid.UUID) (*Result, error) {
	active, err := e.repo.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	rules := active
	if ruleID != nil {
		rules = rules[:0:0]
		for _, r := range active {
			if r.ID == *ruleID {
				rules = append(rules, r)
			}
		}
	}

	results := make([]RuleResult, 0, len(rules))
	triggered := 0

	for _, rule := range rules {
		met := evalConditions(rule.Definition.Conditions, event, rule.Definition.Logic)

		rr := RuleResult{
			RuleID:          rule.ID.String(),
			RuleName:        rule.Name,
			ConditionsMet:   met,
			ActionsExecuted: []ActionResult{},
		}

		if met {
			triggered++
			e.log.Info("rule triggered", "rule_id", rule.ID, "rule_name", rule.Name)
			for _, action := range rule.Definition.Actions {
				rr.ActionsExecuted = append(rr.ActionsExecuted, e.executeAction(ctx, action, event))
			}
		}

		results = append(results, rr)
	}

	return &Result{
		EventData:      event,
		RulesEvaluated: len(results),
		RulesTriggered: triggered,
		Results:        results,
	}, nil
}

// executeAction dispatches one action. Only credit is wired to the ledger;
// every failure mode is reported in the result, never as an error.
func (e *Evaluator) executeAction(ctx context.Context, action Action, event map[string]interface{}) ActionResult {
	switch action.Type {
	case ActionCredit:
		userID := stringify(event[action.User])
		if userID == "" {
			return ActionResult{
				Success: false,
				Error:   fmt.Sprintf("user field %q not found in event data", action.User),
			}
		}

		rewardID := action.RewardID
		status := ledger.RewardStatusConfirmed
		req := ledger.CreditRequest{
			UserID:       userID,
			AmountCents:  action.AmountCents,
			RewardID:     &rewardID,
			RewardStatus: &status,
			ExtraData: map[string]interface{}{
				"source":     "rule_engine",
				"action":     action,
				"event_data": event,
				"timestamp":  time.Now().UTC().Format(time.RFC3339),
			},
		}

		key := DeriveIdempotencyKey(action.RewardID, userID, stringify(event["event_id"]))

		entry, isDuplicate, err := e.ledger.Credit(ctx, req, key)
		if err != nil {
			e.log.Warn("credit action failed", "user_id", userID, "reward_id", action.RewardID, "error", err)
			return ActionResult{Success: false, Error: err.Error()}
		}

		return ActionResult{
			Success:     true,
			ActionType:  string(ActionCredit),
			EntryID:     entry.ID.String(),
			UserID:      userID,
			AmountCents: action.AmountCents,
			IsDuplicate: isDuplicate,
		}

	case ActionDebit:
		return ActionResult{Success: false, Error: "debit action not implemented"}

	default:
		return ActionResult{Success: false, Error: fmt.Sprintf("unknown action type: %s", action.Type)}
	}
}

// DeriveIdempotencyKey builds the deterministic idempotency key for a
// rule-engine credit: a UUIDv5 over "{reward_id}:{user_id}:{event_id}" in
// the DNS namespace. The same event always maps to the same key.
func DeriveIdempotencyKey(rewardID, userID, eventID string) string {
	name := fmt.Sprintf("%s:%s:%s", rewardID, userID, eventID)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

// evalConditions combines condition results with the rule's logic.
// An empty condition list trivially matches; unknown logic behaves as AND.
func evalConditions(conditions []Condition, event map[string]interface{}, logic Logic) bool {
	if len(conditions) == 0 {
		return true
	}

	if logic == LogicOr {
		for _, c := range conditions {
			if evalCondition(c, event) {
				return true
			}
		}
		return false
	}

	for _, c := range conditions {
		if !evalCondition(c, event) {
			return false
		}
	}
	return true
}

// evalCondition evaluates a single condition. Type mismatches and
// unresolvable paths make the condition false, never an error.
func evalCondition(cond Condition, event map[string]interface{}) bool {
	actual, ok := resolvePath(event, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case OpEqual:
		return jsonEqual(actual, cond.Value)
	case OpNotEqual:
		return !jsonEqual(actual, cond.Value)
	case OpGreater:
		c, ok := compareValues(actual, cond.Value)
		return ok && c > 0
	case OpLess:
		c, ok := compareValues(actual, cond.Value)
		return ok && c < 0
	case OpGreaterOrEqual:
		c, ok := compareValues(actual, cond.Value)
		return ok && c >= 0
	case OpLessOrEqual:
		c, ok := compareValues(actual, cond.Value)
		return ok && c <= 0
	case OpIn:
		return contains(cond.Value, actual)
	case OpNotIn:
		return !contains(cond.Value, actual)
	case OpContains:
		return contains(actual, cond.Value)
	default:
		return false
	}
}

// resolvePath walks a dot-separated path through nested maps.
// Any missing intermediate or terminal segment fails the resolution.
func resolvePath(event map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = event
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// jsonEqual is structural equality over decoded JSON values, with numeric
// types compared by value so 5 and 5.0 are equal.
func jsonEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values when they are comparable: numbers with
// numbers, strings with strings. Anything else is incomparable.
func compareValues(a, b interface{}) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

// contains reports whether item is a member of collection: element of a
// list, substring of a string, or key of a map.
func contains(collection, item interface{}) bool {
	switch c := collection.(type) {
	case []interface{}:
		for _, elem := range c {
			if jsonEqual(elem, item) {
				return true
			}
		}
		return false
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case map[string]interface{}:
		s, ok := item.(string)
		if !ok {
			return false
		}
		_, exists := c[s]
		return exists
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// stringify renders a scalar event value as a string identifier.
// Missing or null values map to the empty string.
func stringify(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

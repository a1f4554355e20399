package rules

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pineos/referral-ledger/pkg/money"
)

// Logic combines the results of a rule's conditions.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
	OpContains       Operator = "contains"
)

// IsValid reports whether the operator is part of the closed operator set.
func (o Operator) IsValid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual,
		OpIn, OpNotIn, OpContains:
		return true
	}
	return false
}

// ActionType identifies what a matched rule does.
type ActionType string

const (
	ActionCredit ActionType = "credit"
	ActionDebit  ActionType = "debit"
)

// IsValid reports whether the action type is known.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionCredit, ActionDebit:
		return true
	}
	return false
}

// Condition is a single predicate over the event payload. Field is a
// dot-separated path into the event map; Value stays a general JSON value.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Action is a side effect executed when a rule matches. User names the
// top-level event key holding the target user id.
type Action struct {
	Type        ActionType `json:"type"`
	User        string     `json:"user"`
	AmountCents int64      `json:"amount_cents"`
	RewardID    string     `json:"reward_id"`
}

// Definition is the rule body stored in rule_json. The schema is shared
// with human rule authors and the natural-language translator, so it is
// validated fail-fast before a rule is accepted.
type Definition struct {
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	Logic      Logic       `json:"logic"`
}

// Validate rejects definitions with unknown operators, action types or
// logic. A missing logic field defaults to AND.
func (d *Definition) Validate() error {
	if d.Conditions == nil {
		return fmt.Errorf("%w: conditions array is required", ErrInvalidRule)
	}
	if len(d.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidRule)
	}

	if d.Logic == "" {
		d.Logic = LogicAnd
	}
	if d.Logic != LogicAnd && d.Logic != LogicOr {
		return fmt.Errorf("%w: logic must be AND or OR, got %q", ErrInvalidRule, d.Logic)
	}

	for i, c := range d.Conditions {
		if c.Field == "" {
			return fmt.Errorf("%w: condition %d has empty field", ErrInvalidRule, i)
		}
		if !c.Operator.IsValid() {
			return fmt.Errorf("%w: condition %d has unknown operator %q", ErrInvalidRule, i, c.Operator)
		}
	}

	for i, a := range d.Actions {
		if !a.Type.IsValid() {
			return fmt.Errorf("%w: action %d has unknown type %q", ErrInvalidRule, i, a.Type)
		}
		if a.User == "" {
			return fmt.Errorf("%w: action %d has empty user field", ErrInvalidRule, i)
		}
		if err := money.ValidateAmount(a.AmountCents); err != nil {
			return fmt.Errorf("%w: action %d: %v", ErrInvalidRule, i, err)
		}
		if a.RewardID == "" {
			return fmt.Errorf("%w: action %d has empty reward_id", ErrInvalidRule, i)
		}
	}

	return nil
}

// Rule is a stored rule definition.
type Rule struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Definition  Definition `json:"rule_json"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

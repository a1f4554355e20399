package rules

import "errors"

var (
	// ErrInvalidRule tags rule definitions that fail schema validation.
	ErrInvalidRule = errors.New("invalid rule definition")

	// ErrRuleNotFound is returned when a rule id does not exist.
	ErrRuleNotFound = errors.New("rule not found")
)

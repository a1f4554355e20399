package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pineos/referral-ledger/pkg/logger"
)

// Store manages rule definitions. Definitions are validated before they are
// accepted so the evaluator never sees an unknown operator or action type.
type Store struct {
	repo Repository
	log  *logger.Logger
}

// NewStore creates a new rule store.
func NewStore(repo Repository, log *logger.Logger) *Store {
	return &Store{
		repo: repo,
		log:  log.WithField("component", "rules"),
	}
}

// CreateRule validates and persists a new rule. New rules are active.
func (s *Store) CreateRule(ctx context.Context, name string, description *string, def Definition) (*Rule, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if len(name) > 255 {
		return nil, fmt.Errorf("%w: name exceeds 255 bytes", ErrInvalidRule)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rule := &Rule{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Definition:  def,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.log.Info("rule created", "rule_id", rule.ID, "name", rule.Name)
	return rule, nil
}

// ListRules returns rules, optionally only the active ones.
func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]*Rule, error) {
	return s.repo.List(ctx, activeOnly)
}

// GetRule returns a rule by id.
func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return s.repo.Get(ctx, id)
}

package rules

import (
	"context"

	"github.com/google/uuid"

	"github.com/pineos/referral-ledger/internal/ledger"
)

// Repository defines the persistence operations for rule definitions.
type Repository interface {
	Create(ctx context.Context, rule *Rule) error
	List(ctx context.Context, activeOnly bool) ([]*Rule, error)
	Get(ctx context.Context, id uuid.UUID) (*Rule, error)
}

// Creditor is the slice of the ledger engine the evaluator drives.
type Creditor interface {
	Credit(ctx context.Context, req ledger.CreditRequest, idempotencyKey string) (*ledger.Entry, bool, error)
}

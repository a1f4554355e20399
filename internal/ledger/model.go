package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pineos/referral-ledger/pkg/money"
)

// EntryType identifies the monetary effect of a ledger entry.
type EntryType string

const (
	EntryTypeCredit   EntryType = "credit"
	EntryTypeDebit    EntryType = "debit"
	EntryTypeReversal EntryType = "reversal"
)

// IsValid reports whether the entry type is one of the known values.
func (t EntryType) IsValid() bool {
	switch t {
	case EntryTypeCredit, EntryTypeDebit, EntryTypeReversal:
		return true
	}
	return false
}

// RewardStatus is the lifecycle annotation for reward-tagged entries.
// It is informational only; no state machine is enforced.
type RewardStatus string

const (
	RewardStatusPending   RewardStatus = "pending"
	RewardStatusConfirmed RewardStatus = "confirmed"
	RewardStatusPaid      RewardStatus = "paid"
	RewardStatusReversed  RewardStatus = "reversed"
)

// IsValid reports whether the reward status is one of the known values.
func (s RewardStatus) IsValid() bool {
	switch s {
	case RewardStatusPending, RewardStatusConfirmed, RewardStatusPaid, RewardStatusReversed:
		return true
	}
	return false
}

// Entry is an immutable ledger entry. Once inserted it is never updated
// or deleted; reversals are expressed as new entries linked through
// RelatedEntryID.
type Entry struct {
	ID             uuid.UUID              `json:"id"`
	UserID         string                 `json:"user_id"`
	EntryType      EntryType              `json:"entry_type"`
	AmountCents    int64                  `json:"amount_cents"`
	RewardID       *string                `json:"reward_id"`
	RewardStatus   *RewardStatus          `json:"reward_status"`
	IdempotencyKey string                 `json:"idempotency_key"`
	RelatedEntryID *uuid.UUID             `json:"related_entry_id"`
	ExtraData      map[string]interface{} `json:"extra_data"`
	CreatedAt      time.Time              `json:"created_at"`
}

// RequestHash returns the request hash recorded in the entry's audit data,
// or an empty string when absent.
func (e *Entry) RequestHash() string {
	if e.ExtraData == nil {
		return ""
	}
	if h, ok := e.ExtraData["request_hash"].(string); ok {
		return h
	}
	return ""
}

// Balance is the derived per-user balance row, maintained atomically with
// the entries that move it.
type Balance struct {
	UserID       string    `json:"user_id"`
	BalanceCents int64     `json:"balance_cents"`
	Version      int       `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreditRequest describes a credit mutation.
type CreditRequest struct {
	UserID       string                 `json:"user_id"`
	AmountCents  int64                  `json:"amount_cents"`
	RewardID     *string                `json:"reward_id,omitempty"`
	RewardStatus *RewardStatus          `json:"reward_status,omitempty"`
	ExtraData    map[string]interface{} `json:"extra_data,omitempty"`
}

// Validate checks the request fields against the ledger's invariants.
func (r *CreditRequest) Validate() error {
	if err := validateUserID(r.UserID); err != nil {
		return err
	}
	if err := money.ValidateAmount(r.AmountCents); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if r.RewardStatus != nil && !r.RewardStatus.IsValid() {
		return fmt.Errorf("%w: unknown reward status %q", ErrValidation, *r.RewardStatus)
	}
	return nil
}

// DebitRequest describes a debit mutation.
type DebitRequest struct {
	UserID      string                 `json:"user_id"`
	AmountCents int64                  `json:"amount_cents"`
	ExtraData   map[string]interface{} `json:"extra_data,omitempty"`
}

// Validate checks the request fields against the ledger's invariants.
func (r *DebitRequest) Validate() error {
	if err := validateUserID(r.UserID); err != nil {
		return err
	}
	if err := money.ValidateAmount(r.AmountCents); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ReversalRequest asks for an offsetting entry against a previous one.
// A reversal always covers the full original amount.
type ReversalRequest struct {
	EntryID   uuid.UUID              `json:"entry_id"`
	Reason    string                 `json:"reason"`
	ExtraData map[string]interface{} `json:"extra_data,omitempty"`
}

// Validate checks the request fields.
func (r *ReversalRequest) Validate() error {
	if r.EntryID == uuid.Nil {
		return fmt.Errorf("%w: entry_id is required", ErrValidation)
	}
	if r.Reason == "" {
		return fmt.Errorf("%w: reason is required", ErrValidation)
	}
	return nil
}

func validateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if len(userID) > 255 {
		return fmt.Errorf("%w: user_id exceeds 255 bytes", ErrValidation)
	}
	return nil
}

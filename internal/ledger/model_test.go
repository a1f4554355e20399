package ledger

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCreditRequestValidate(t *testing.T) {
	valid := RewardStatusConfirmed
	invalid := RewardStatus("shipped")

	tests := []struct {
		name    string
		req     CreditRequest
		wantErr bool
	}{
		{"valid", CreditRequest{UserID: "alice", AmountCents: 500}, false},
		{"valid with status", CreditRequest{UserID: "alice", AmountCents: 500, RewardStatus: &valid}, false},
		{"missing user", CreditRequest{AmountCents: 500}, true},
		{"user too long", CreditRequest{UserID: strings.Repeat("a", 256), AmountCents: 500}, true},
		{"zero amount", CreditRequest{UserID: "alice", AmountCents: 0}, true},
		{"negative amount", CreditRequest{UserID: "alice", AmountCents: -100}, true},
		{"amount above cap", CreditRequest{UserID: "alice", AmountCents: 1_000_000_001}, true},
		{"unknown reward status", CreditRequest{UserID: "alice", AmountCents: 500, RewardStatus: &invalid}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDebitRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     DebitRequest
		wantErr bool
	}{
		{"valid", DebitRequest{UserID: "alice", AmountCents: 500}, false},
		{"missing user", DebitRequest{AmountCents: 500}, true},
		{"zero amount", DebitRequest{UserID: "alice", AmountCents: 0}, true},
		{"amount above cap", DebitRequest{UserID: "alice", AmountCents: 1_000_000_001}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReversalRequestValidate(t *testing.T) {
	assert.NoError(t, (&ReversalRequest{EntryID: uuid.New(), Reason: "fraud"}).Validate())
	assert.ErrorIs(t, (&ReversalRequest{Reason: "fraud"}).Validate(), ErrValidation)
	assert.ErrorIs(t, (&ReversalRequest{EntryID: uuid.New()}).Validate(), ErrValidation)
}

func TestEntryTypeIsValid(t *testing.T) {
	assert.True(t, EntryTypeCredit.IsValid())
	assert.True(t, EntryTypeDebit.IsValid())
	assert.True(t, EntryTypeReversal.IsValid())
	assert.False(t, EntryType("transfer").IsValid())
}

func TestRewardStatusIsValid(t *testing.T) {
	assert.True(t, RewardStatusPending.IsValid())
	assert.True(t, RewardStatusConfirmed.IsValid())
	assert.True(t, RewardStatusPaid.IsValid())
	assert.True(t, RewardStatusReversed.IsValid())
	assert.False(t, RewardStatus("archived").IsValid())
}

func TestEntryRequestHash(t *testing.T) {
	e := &Entry{ExtraData: map[string]interface{}{"request_hash": "abc123"}}
	assert.Equal(t, "abc123", e.RequestHash())

	assert.Empty(t, (&Entry{}).RequestHash())
	assert.Empty(t, (&Entry{ExtraData: map[string]interface{}{"request_hash": 7}}).RequestHash())
}

//go:build integration

package ledger_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pineos/referral-ledger/internal/ledger"
)

// Ten goroutines race the same idempotency key. Exactly one entry may be
// created and the balance moves exactly once; every caller gets the same
// entry back.
func TestConcurrentCredit_SameKey(t *testing.T) {
	svc, _, ctx := setupTest(t)

	const workers = 10
	req := ledger.CreditRequest{UserID: "alice", AmountCents: 500}

	var wg sync.WaitGroup
	var fresh, duplicates, failures int64
	entryIDs := make([]uuid.UUID, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, isDuplicate, err := svc.Credit(ctx, req, "shared-key")
			if err != nil {
				atomic.AddInt64(&failures, 1)
				return
			}
			entryIDs[i] = entry.ID
			if isDuplicate {
				atomic.AddInt64(&duplicates, 1)
			} else {
				atomic.AddInt64(&fresh, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(0), failures)
	assert.Equal(t, int64(1), fresh)
	assert.Equal(t, int64(workers-1), duplicates)

	var seen uuid.UUID
	for _, id := range entryIDs {
		if id == uuid.Nil {
			continue
		}
		if seen == uuid.Nil {
			seen = id
		}
		assert.Equal(t, seen, id)
	}

	_, total, err := svc.Entries(ctx, nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	balance, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.BalanceCents)
}

// Distinct keys from many goroutines all land, and the balance reconciles
// with the sum of the entries.
func TestConcurrentCredit_DistinctKeys(t *testing.T) {
	svc, _, ctx := setupTest(t)

	const workers = 20
	var wg sync.WaitGroup
	var failures int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Credit(ctx, ledger.CreditRequest{UserID: "alice", AmountCents: 100}, uuid.NewString())
			if err != nil {
				atomic.AddInt64(&failures, 1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(0), failures)

	balance, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*100), balance.BalanceCents)
	assert.Equal(t, workers+1, balance.Version)

	_, total, err := svc.Entries(ctx, nil, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), total)
}

// Concurrent debits can never drive the balance negative. With 10 racing
// debits of 100 against a balance of 500, exactly 5 succeed.
func TestConcurrentDebit_NonNegativeInvariant(t *testing.T) {
	svc, _, ctx := setupTest(t)

	_, _, err := svc.Credit(ctx, ledger.CreditRequest{UserID: "alice", AmountCents: 500}, "seed")
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	var succeeded, insufficient int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Debit(ctx, ledger.DebitRequest{UserID: "alice", AmountCents: 100}, uuid.NewString())
			switch {
			case err == nil:
				atomic.AddInt64(&succeeded, 1)
			case errors.Is(err, ledger.ErrInsufficientBalance):
				atomic.AddInt64(&insufficient, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), succeeded)
	assert.Equal(t, int64(5), insufficient)

	balance, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.BalanceCents)
}

// Goroutines race to reverse the same entry; only one wins. The credit is
// the user's entire balance, so after the winner commits the funds are gone.
// Losers must still see the committed reversal and report the entry as
// already reversed, never as insufficient funds.
func TestConcurrentReverse_SingleWinner(t *testing.T) {
	svc, _, ctx := setupTest(t)

	original, _, err := svc.Credit(ctx, ledger.CreditRequest{UserID: "alice", AmountCents: 500}, "credit-1")
	require.NoError(t, err)

	const workers = 4
	var wg sync.WaitGroup
	var succeeded, alreadyReversed, insufficient int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Reverse(ctx, ledger.ReversalRequest{EntryID: original.ID, Reason: "race"}, uuid.NewString())
			switch {
			case err == nil:
				atomic.AddInt64(&succeeded, 1)
			case errors.Is(err, ledger.ErrAlreadyReversed):
				atomic.AddInt64(&alreadyReversed, 1)
			case errors.Is(err, ledger.ErrInsufficientBalance):
				atomic.AddInt64(&insufficient, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), succeeded)
	assert.Equal(t, int64(workers-1), alreadyReversed)
	assert.Equal(t, int64(0), insufficient)

	balance, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.BalanceCents)
}

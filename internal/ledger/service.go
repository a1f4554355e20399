package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pineos/referral-ledger/pkg/logger"
)

// Service is the transactional ledger engine. Every mutation appends an
// immutable entry and updates the derived balance inside a single database
// transaction; the per-user balance row lock serializes concurrent
// mutations for the same user.
//
// Mutations never retry internally. Retries are the caller's responsibility
// and are safe because of the idempotency key protocol: the pre-check
// short-circuits obvious duplicates, and the unique index on
// idempotency_key resolves races at insert time.
type Service struct {
	repo  Repository
	cache IdempotencyCache
	log   *logger.Logger
}

// NewService creates a new ledger service. cache may be nil; it is an
// optional fast path for duplicate detection.
func NewService(repo Repository, cache IdempotencyCache, log *logger.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		log:   log.WithField("component", "ledger"),
	}
}

// Credit credits a user's account.
// Returns the entry and whether the request was a duplicate replay.
func (s *Service) Credit(ctx context.Context, req CreditRequest, idempotencyKey string) (*Entry, bool, error) {
	if idempotencyKey == "" {
		return nil, false, fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	hash, err := RequestHash(req)
	if err != nil {
		return nil, false, err
	}

	if entry, err := s.findDuplicate(ctx, idempotencyKey, hash); err != nil {
		return nil, false, err
	} else if entry != nil {
		return entry, true, nil
	}

	status := RewardStatusPending
	if req.RewardStatus != nil {
		status = *req.RewardStatus
	}

	entry := &Entry{
		ID:             uuid.New(),
		UserID:         req.UserID,
		EntryType:      EntryTypeCredit,
		AmountCents:    req.AmountCents,
		RewardID:       req.RewardID,
		RewardStatus:   &status,
		IdempotencyKey: idempotencyKey,
		ExtraData:      mergeExtraData(req.ExtraData, hash, "credit"),
		CreatedAt:      time.Now().UTC(),
	}

	txCtx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = s.repo.RollbackTx(txCtx)
		}
	}()

	balance, err := s.repo.LockBalance(txCtx, req.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock balance: %w", err)
	}

	if err := s.repo.InsertEntry(txCtx, entry); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			// Another request with the same key won the insert race.
			return s.resolveRace(ctx, idempotencyKey, hash)
		}
		return nil, false, fmt.Errorf("failed to insert entry: %w", err)
	}

	balance.BalanceCents += req.AmountCents
	if err := s.applyBalance(txCtx, balance); err != nil {
		return nil, false, err
	}

	if err := s.repo.CommitTx(txCtx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	s.cacheOutcome(ctx, idempotencyKey, hash, entry.ID)
	s.log.Info("credit applied", "user_id", req.UserID, "amount_cents", req.AmountCents, "entry_id", entry.ID)

	return entry, false, nil
}

// Debit debits a user's account. The sufficient-funds check happens under
// the balance row lock, after which the non-negative invariant cannot be
// violated by a concurrent mutation.
func (s *Service) Debit(ctx context.Context, req DebitRequest, idempotencyKey string) (*Entry, bool, error) {
	if idempotencyKey == "" {
		return nil, false, fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	hash, err := RequestHash(req)
	if err != nil {
		return nil, false, err
	}

	if entry, err := s.findDuplicate(ctx, idempotencyKey, hash); err != nil {
		return nil, false, err
	} else if entry != nil {
		return entry, true, nil
	}

	entry := &Entry{
		ID:             uuid.New(),
		UserID:         req.UserID,
		EntryType:      EntryTypeDebit,
		AmountCents:    req.AmountCents,
		IdempotencyKey: idempotencyKey,
		ExtraData:      mergeExtraData(req.ExtraData, hash, "debit"),
		CreatedAt:      time.Now().UTC(),
	}

	txCtx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = s.repo.RollbackTx(txCtx)
		}
	}()

	balance, err := s.repo.LockBalance(txCtx, req.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock balance: %w", err)
	}

	if balance.BalanceCents < req.AmountCents {
		return nil, false, fmt.Errorf("%w: available %d cents, required %d cents",
			ErrInsufficientBalance, balance.BalanceCents, req.AmountCents)
	}

	if err := s.repo.InsertEntry(txCtx, entry); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return s.resolveRace(ctx, idempotencyKey, hash)
		}
		return nil, false, fmt.Errorf("failed to insert entry: %w", err)
	}

	balance.BalanceCents -= req.AmountCents
	if err := s.applyBalance(txCtx, balance); err != nil {
		return nil, false, err
	}

	if err := s.repo.CommitTx(txCtx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	s.cacheOutcome(ctx, idempotencyKey, hash, entry.ID)
	s.log.Info("debit applied", "user_id", req.UserID, "amount_cents", req.AmountCents, "entry_id", entry.ID)

	return entry, false, nil
}

// Reverse creates an offsetting entry for a previous credit or debit.
// The original entry stays immutable; the reversal links back to it through
// related_entry_id, and any given entry can be reversed at most once.
func (s *Service) Reverse(ctx context.Context, req ReversalRequest, idempotencyKey string) (*Entry, bool, error) {
	if idempotencyKey == "" {
		return nil, false, fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	hash, err := RequestHash(req)
	if err != nil {
		return nil, false, err
	}

	if entry, err := s.findDuplicate(ctx, idempotencyKey, hash); err != nil {
		return nil, false, err
	} else if entry != nil {
		return entry, true, nil
	}

	txCtx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = s.repo.RollbackTx(txCtx)
		}
	}()

	original, err := s.repo.GetEntry(txCtx, req.EntryID)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, false, fmt.Errorf("%w: %s", ErrEntryNotFound, req.EntryID)
		}
		return nil, false, fmt.Errorf("failed to load original entry: %w", err)
	}

	if original.EntryType == EntryTypeReversal {
		return nil, false, fmt.Errorf("%w: %s", ErrCannotReverseReversal, original.ID)
	}

	balance, err := s.repo.LockBalance(txCtx, original.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock balance: %w", err)
	}

	// Checked under the balance lock: a racing reversal commits before the
	// lock is granted, so it is visible here and reported as already
	// reversed rather than failing the funds check below.
	if _, err := s.repo.FindReversalFor(txCtx, original.ID); err == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrAlreadyReversed, original.ID)
	} else if !errors.Is(err, ErrEntryNotFound) {
		return nil, false, fmt.Errorf("failed to check existing reversal: %w", err)
	}

	// Offset in the opposite direction of the original.
	switch original.EntryType {
	case EntryTypeCredit:
		if balance.BalanceCents < original.AmountCents {
			return nil, false, fmt.Errorf("%w: cannot reverse credit, funds already spent", ErrInsufficientBalance)
		}
		balance.BalanceCents -= original.AmountCents
	case EntryTypeDebit:
		balance.BalanceCents += original.AmountCents
	}

	extra := mergeExtraData(req.ExtraData, hash, "reversal")
	extra["original_entry_id"] = original.ID.String()
	extra["original_entry_type"] = string(original.EntryType)
	extra["reason"] = req.Reason

	var status *RewardStatus
	if original.RewardStatus != nil {
		reversed := RewardStatusReversed
		status = &reversed
	}

	relatedID := original.ID
	entry := &Entry{
		ID:             uuid.New(),
		UserID:         original.UserID,
		EntryType:      EntryTypeReversal,
		AmountCents:    original.AmountCents,
		RewardID:       original.RewardID,
		RewardStatus:   status,
		IdempotencyKey: idempotencyKey,
		RelatedEntryID: &relatedID,
		ExtraData:      extra,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.repo.InsertEntry(txCtx, entry); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return s.resolveRace(ctx, idempotencyKey, hash)
		}
		return nil, false, fmt.Errorf("failed to insert reversal entry: %w", err)
	}

	if err := s.applyBalance(txCtx, balance); err != nil {
		return nil, false, err
	}

	if err := s.repo.CommitTx(txCtx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	s.cacheOutcome(ctx, idempotencyKey, hash, entry.ID)
	s.log.Info("reversal applied",
		"user_id", original.UserID,
		"original_entry_id", original.ID,
		"entry_id", entry.ID,
	)

	return entry, false, nil
}

// Entries lists ledger entries sorted by created_at descending, with the
// total count for pagination. Limit must be in [1, 1000].
func (s *Service) Entries(ctx context.Context, userID *string, limit, offset int) ([]*Entry, int64, error) {
	if limit < 1 || limit > 1000 {
		return nil, 0, fmt.Errorf("%w: limit must be between 1 and 1000", ErrValidation)
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset must be non-negative", ErrValidation)
	}
	return s.repo.ListEntries(ctx, userID, limit, offset)
}

// Balance returns the user's current balance. Unknown users get a synthetic
// zero balance; nothing is persisted for them.
func (s *Service) Balance(ctx context.Context, userID string) (*Balance, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	balance, err := s.repo.GetBalance(ctx, userID)
	if errors.Is(err, ErrBalanceNotFound) {
		return &Balance{
			UserID:       userID,
			BalanceCents: 0,
			Version:      1,
			UpdatedAt:    time.Now().UTC(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// findDuplicate is the idempotency pre-check. It returns the prior entry
// when the key was already used with an identical request,
// ErrIdempotencyConflict when the key was used with a different request,
// and (nil, nil) when the key is fresh.
func (s *Service) findDuplicate(ctx context.Context, key, hash string) (*Entry, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn("idempotency cache lookup failed", "error", err)
		} else if cached != nil {
			if cached.RequestHash != hash {
				return nil, fmt.Errorf("%w", ErrIdempotencyConflict)
			}
			if entry, err := s.repo.GetEntry(ctx, cached.EntryID); err == nil {
				return entry, nil
			}
			// Cache points at an entry we cannot read; fall through to the
			// authoritative lookup.
		}
	}

	entry, err := s.repo.GetEntryByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency pre-check failed: %w", err)
	}

	if entry.RequestHash() != hash {
		return nil, fmt.Errorf("%w", ErrIdempotencyConflict)
	}
	return entry, nil
}

// resolveRace handles the unique-violation path: another request with the
// same key committed first, so re-read its entry and compare hashes.
func (s *Service) resolveRace(ctx context.Context, key, hash string) (*Entry, bool, error) {
	entry, err := s.repo.GetEntryByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve idempotency race: %w", err)
	}
	if entry.RequestHash() != hash {
		return nil, false, fmt.Errorf("%w", ErrIdempotencyConflict)
	}

	s.log.Info("idempotency race resolved as duplicate", "idempotency_key", key, "entry_id", entry.ID)
	return entry, true, nil
}

func (s *Service) applyBalance(txCtx context.Context, balance *Balance) error {
	balance.Version++
	balance.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateBalance(txCtx, balance); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

func (s *Service) cacheOutcome(ctx context.Context, key, hash string, entryID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, CachedKey{RequestHash: hash, EntryID: entryID}); err != nil {
		s.log.Warn("failed to cache idempotency outcome", "error", err)
	}
}

func mergeExtraData(extra map[string]interface{}, hash, operation string) map[string]interface{} {
	merged := make(map[string]interface{}, len(extra)+3)
	for k, v := range extra {
		merged[k] = v
	}
	merged["request_hash"] = hash
	merged["operation"] = operation
	merged["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return merged
}

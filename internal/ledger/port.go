package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence operations the ledger engine needs.
//
// BeginTx returns a derived context carrying the open transaction; entry and
// balance operations route through it when present. Entry rows are
// append-only: there is deliberately no update or delete operation.
type Repository interface {
	// Transaction management
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error

	// Entry operations
	InsertEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	GetEntryByIdempotencyKey(ctx context.Context, key string) (*Entry, error)
	FindReversalFor(ctx context.Context, entryID uuid.UUID) (*Entry, error)
	ListEntries(ctx context.Context, userID *string, limit, offset int) ([]*Entry, int64, error)

	// Balance operations
	LockBalance(ctx context.Context, userID string) (*Balance, error)
	UpdateBalance(ctx context.Context, balance *Balance) error
	GetBalance(ctx context.Context, userID string) (*Balance, error)
}

// IdempotencyCache is an optional fast-path lookup for idempotency keys.
// It is purely an optimization: the unique index on ledger_entries is the
// authoritative duplicate detector, so a cold or unavailable cache never
// affects correctness.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*CachedKey, error)
	Set(ctx context.Context, key string, cached CachedKey) error
}

// CachedKey is the cached outcome of a committed mutation.
type CachedKey struct {
	RequestHash string    `json:"request_hash"`
	EntryID     uuid.UUID `json:"entry_id"`
}

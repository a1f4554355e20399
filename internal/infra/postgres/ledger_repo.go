package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pineos/referral-ledger/internal/ledger"
	apperrors "github.com/pineos/referral-ledger/internal/shared/errors"
)

// LedgerRepository implements the ledger repository interface using PostgreSQL
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

const (
	idempotencyKeyConstraint = "ux_ledger_entries_idempotency_key"
	reversalTargetConstraint = "ux_ledger_entries_reversal_target"
	uniqueViolationCode      = "23505"
)

// Entry operations

// InsertEntry writes a new ledger entry. Unique violations on the
// idempotency key and on the reversal target are translated to the
// corresponding domain errors so the service can resolve races.
func (r *LedgerRepository) InsertEntry(ctx context.Context, entry *ledger.Entry) error {
	extraJSON, err := json.Marshal(entry.ExtraData)
	if err != nil {
		return fmt.Errorf("failed to marshal extra data: %w", err)
	}

	query := `
		INSERT INTO ledger_entries (
			id, user_id, entry_type, amount_cents, reward_id, reward_status,
			idempotency_key, related_entry_id, extra_data, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	q := r.getQueryer(ctx)
	_, err = q.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		string(entry.EntryType),
		entry.AmountCents,
		entry.RewardID,
		rewardStatusString(entry.RewardStatus),
		entry.IdempotencyKey,
		entry.RelatedEntryID,
		extraJSON,
		entry.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			switch pgErr.ConstraintName {
			case idempotencyKeyConstraint:
				return ledger.ErrDuplicateIdempotencyKey
			case reversalTargetConstraint:
				return ledger.ErrAlreadyReversed
			}
		}
		return apperrors.DatabaseError("failed to insert entry", err)
	}

	return nil
}

// GetEntry retrieves an entry by ID
func (r *LedgerRepository) GetEntry(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	query := selectEntryColumns + ` WHERE id = $1`

	q := r.getQueryer(ctx)
	entry, err := scanEntry(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrEntryNotFound
		}
		return nil, apperrors.DatabaseError("failed to get entry", err)
	}
	return entry, nil
}

// GetEntryByIdempotencyKey retrieves an entry by its idempotency key
func (r *LedgerRepository) GetEntryByIdempotencyKey(ctx context.Context, key string) (*ledger.Entry, error) {
	query := selectEntryColumns + ` WHERE idempotency_key = $1`

	q := r.getQueryer(ctx)
	entry, err := scanEntry(q.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrEntryNotFound
		}
		return nil, apperrors.DatabaseError("failed to get entry by idempotency key", err)
	}
	return entry, nil
}

// FindReversalFor retrieves the reversal entry that offsets the given entry
func (r *LedgerRepository) FindReversalFor(ctx context.Context, entryID uuid.UUID) (*ledger.Entry, error) {
	query := selectEntryColumns + ` WHERE related_entry_id = $1 AND entry_type = 'reversal'`

	q := r.getQueryer(ctx)
	entry, err := scanEntry(q.QueryRow(ctx, query, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrEntryNotFound
		}
		return nil, apperrors.DatabaseError("failed to find reversal", err)
	}
	return entry, nil
}

// ListEntries returns a page of entries ordered newest first, plus the total
// count matching the filter.
func (r *LedgerRepository) ListEntries(ctx context.Context, userID *string, limit, offset int) ([]*ledger.Entry, int64, error) {
	where := ""
	args := []interface{}{}
	if userID != nil {
		where = " WHERE user_id = $1"
		args = append(args, *userID)
	}

	q := r.getQueryer(ctx)

	var total int64
	countQuery := `SELECT COUNT(*) FROM ledger_entries` + where
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.DatabaseError("failed to count entries", err)
	}

	pageQuery := fmt.Sprintf(
		"%s%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		selectEntryColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := q.Query(ctx, pageQuery, args...)
	if err != nil {
		return nil, 0, apperrors.DatabaseError("failed to list entries", err)
	}
	defer rows.Close()

	entries := make([]*ledger.Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, apperrors.DatabaseError("failed to scan entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.DatabaseError("failed to iterate entries", err)
	}

	return entries, total, nil
}

// Balance operations

// LockBalance upserts the balance row for the user and locks it for the
// duration of the current transaction. Must be called inside a transaction.
func (r *LedgerRepository) LockBalance(ctx context.Context, userID string) (*ledger.Balance, error) {
	tx := getTxFromContext(ctx)
	if tx == nil {
		return nil, fmt.Errorf("LockBalance requires a transaction")
	}

	insertQuery := `
		INSERT INTO user_balances (user_id, balance_cents, version, updated_at)
		VALUES ($1, 0, 1, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insertQuery, userID); err != nil {
		return nil, apperrors.DatabaseError("failed to ensure balance row", err)
	}

	lockQuery := `
		SELECT user_id, balance_cents, version, updated_at
		FROM user_balances
		WHERE user_id = $1
		FOR UPDATE
	`

	var balance ledger.Balance
	err := tx.QueryRow(ctx, lockQuery, userID).Scan(
		&balance.UserID,
		&balance.BalanceCents,
		&balance.Version,
		&balance.UpdatedAt,
	)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to lock balance", err)
	}

	return &balance, nil
}

// UpdateBalance persists a mutated balance row
func (r *LedgerRepository) UpdateBalance(ctx context.Context, balance *ledger.Balance) error {
	query := `
		UPDATE user_balances
		SET balance_cents = $2, version = $3, updated_at = $4
		WHERE user_id = $1
	`

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query,
		balance.UserID,
		balance.BalanceCents,
		balance.Version,
		balance.UpdatedAt,
	)
	if err != nil {
		return apperrors.DatabaseError("failed to update balance", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrBalanceNotFound
	}

	return nil
}

// GetBalance retrieves the balance row for a user
func (r *LedgerRepository) GetBalance(ctx context.Context, userID string) (*ledger.Balance, error) {
	query := `
		SELECT user_id, balance_cents, version, updated_at
		FROM user_balances
		WHERE user_id = $1
	`

	var balance ledger.Balance
	q := r.getQueryer(ctx)
	err := q.QueryRow(ctx, query, userID).Scan(
		&balance.UserID,
		&balance.BalanceCents,
		&balance.Version,
		&balance.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrBalanceNotFound
		}
		return nil, apperrors.DatabaseError("failed to get balance", err)
	}

	return &balance, nil
}

// Scanning helpers

const selectEntryColumns = `
	SELECT id, user_id, entry_type, amount_cents, reward_id, reward_status,
	       idempotency_key, related_entry_id, extra_data, created_at
	FROM ledger_entries`

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var entry ledger.Entry
	var rewardID sql.NullString
	var rewardStatus sql.NullString
	var relatedID uuid.NullUUID
	var extraJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.EntryType,
		&entry.AmountCents,
		&rewardID,
		&rewardStatus,
		&entry.IdempotencyKey,
		&relatedID,
		&extraJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rewardID.Valid {
		entry.RewardID = &rewardID.String
	}
	if rewardStatus.Valid {
		status := ledger.RewardStatus(rewardStatus.String)
		entry.RewardStatus = &status
	}
	if relatedID.Valid {
		id := relatedID.UUID
		entry.RelatedEntryID = &id
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &entry.ExtraData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extra data: %w", err)
		}
	}

	return &entry, nil
}

func rewardStatusString(status *ledger.RewardStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}

// Transaction management

type contextKey string

const txContextKey contextKey = "pgx_tx"

// BeginTx starts a new transaction and stores it in the returned context
func (r *LedgerRepository) BeginTx(ctx context.Context) (context.Context, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, txContextKey, tx), nil
}

// CommitTx commits the transaction stored in the context
func (r *LedgerRepository) CommitTx(ctx context.Context) error {
	tx := getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTx rolls back the transaction stored in the context.
// Rolling back an already-finished transaction is a no-op.
func (r *LedgerRepository) RollbackTx(ctx context.Context) error {
	tx := getTxFromContext(ctx)
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func getTxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txContextKey).(pgx.Tx)
	return tx
}

// queryer abstracts over the pool and an in-flight transaction
type queryer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// getQueryer returns the transaction from the context when present,
// otherwise the pool.
func (r *LedgerRepository) getQueryer(ctx context.Context) queryer {
	if tx := getTxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

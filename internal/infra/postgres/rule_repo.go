package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pineos/referral-ledger/internal/rules"
	apperrors "github.com/pineos/referral-ledger/internal/shared/errors"
)

// RuleRepository implements the rules repository interface using PostgreSQL
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository creates a new PostgreSQL rule repository
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// Create persists a new rule
func (r *RuleRepository) Create(ctx context.Context, rule *rules.Rule) error {
	defJSON, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal rule definition: %w", err)
	}

	query := `
		INSERT INTO referral_rules (id, name, description, rule_json, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.pool.Exec(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		defJSON,
		rule.IsActive,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return apperrors.DatabaseError("failed to create rule", err)
	}

	return nil
}

// List returns rules ordered oldest first, optionally only active ones
func (r *RuleRepository) List(ctx context.Context, activeOnly bool) ([]*rules.Rule, error) {
	query := `
		SELECT id, name, description, rule_json, is_active, created_at, updated_at
		FROM referral_rules
	`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list rules", err)
	}
	defer rows.Close()

	var result []*rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperrors.DatabaseError("failed to scan rule", err)
		}
		result = append(result, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("failed to iterate rules", err)
	}

	return result, nil
}

// Get retrieves a rule by ID
func (r *RuleRepository) Get(ctx context.Context, id uuid.UUID) (*rules.Rule, error) {
	query := `
		SELECT id, name, description, rule_json, is_active, created_at, updated_at
		FROM referral_rules
		WHERE id = $1
	`

	rule, err := scanRule(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rules.ErrRuleNotFound
		}
		return nil, apperrors.DatabaseError("failed to get rule", err)
	}
	return rule, nil
}

func scanRule(row pgx.Row) (*rules.Rule, error) {
	var rule rules.Rule
	var description sql.NullString
	var defJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&description,
		&defJSON,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		rule.Description = &description.String
	}
	if err := json.Unmarshal(defJSON, &rule.Definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule definition: %w", err)
	}

	return &rule, nil
}

package postgres

import (
	"context"
	"database/sql"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
)

// PostgresMaskingRepository implements MaskingRepository using PostgreSQL
type PostgresMaskingRepository struct {
	db *sql.DB
}

// NewPostgresMaskingRepository creates a new PostgreSQL masking repository
func NewPostgresMaskingRepository(db *sql.DB) repositories.MaskingRepository {
	return &PostgresMaskingRepository{db: db}
}

// Upsert creates or replaces the rule for (tableRef, fieldRef)
func (r *PostgresMaskingRepository) Upsert(ctx context.Context, rule *entities.MaskingRule) error {
	if err := rule.Validate(); err != nil {
		return errors.Wrap(err, "invalid masking rule")
	}

	query := `
		INSERT INTO masking_rules (table_ref, field_ref, strategy, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (table_ref, field_ref)
		DO UPDATE SET strategy = EXCLUDED.strategy
	`
	_, err := r.db.ExecContext(ctx, query,
		rule.TableRef, rule.FieldRef, rule.Strategy, rule.CreatedBy, rule.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert masking rule")
	}
	return nil
}

// ListByTable retrieves all rules declared for a table
func (r *PostgresMaskingRepository) ListByTable(ctx context.Context, tableRef string) ([]*entities.MaskingRule, error) {
	query := `
		SELECT table_ref, field_ref, strategy, created_by, created_at
		FROM masking_rules
		WHERE table_ref = $1
	`
	rows, err := r.db.QueryContext(ctx, query, tableRef)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list masking rules")
	}
	defer rows.Close()

	var result []*entities.MaskingRule
	for rows.Next() {
		var rule entities.MaskingRule
		if err := rows.Scan(&rule.TableRef, &rule.FieldRef, &rule.Strategy, &rule.CreatedBy, &rule.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan masking rule")
		}
		result = append(result, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating masking rules")
	}
	return result, nil
}

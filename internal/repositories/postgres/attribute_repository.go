package postgres

import (
	"context"
	"database/sql"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
)

// PostgresAttributeRepository implements AttributeRepository using PostgreSQL
type PostgresAttributeRepository struct {
	db *sql.DB
}

// NewPostgresAttributeRepository creates a new PostgreSQL attribute repository
func NewPostgresAttributeRepository(db *sql.DB) repositories.AttributeRepository {
	return &PostgresAttributeRepository{db: db}
}

// Create inserts a new attribute and its activity in one transaction.
func (r *PostgresAttributeRepository) Create(ctx context.Context, attr *entities.Attribute, activity *entities.Activity) error {
	if err := attr.Validate(); err != nil {
		return errors.Wrap(err, "invalid attribute")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO attributes (
			id, entity_id, parent_attribute_id, field_name, field_value,
			metadata, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, query,
		attr.ID, attr.EntityID, nullString(attr.ParentAttributeID),
		attr.FieldName, attr.FieldValue, attr.Metadata,
		attr.CreatedBy, attr.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert attribute")
	}

	if activity != nil {
		if err := insertActivityTx(ctx, tx, activity); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// GetByID retrieves an attribute by id
func (r *PostgresAttributeRepository) GetByID(ctx context.Context, id string) (*entities.Attribute, error) {
	query := `
		SELECT id, entity_id, parent_attribute_id, field_name, field_value,
			metadata, created_by, created_at, updated_by, updated_at
		FROM attributes
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)
	attr, err := scanAttribute(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(entities.ErrNotFound, "attribute %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get attribute")
	}
	return attr, nil
}

// ListByEntity retrieves all attributes owned by an entity. Roots come
// first so callers can rebuild the nesting in one pass.
func (r *PostgresAttributeRepository) ListByEntity(ctx context.Context, entityID string) ([]*entities.Attribute, error) {
	query := `
		SELECT id, entity_id, parent_attribute_id, field_name, field_value,
			metadata, created_by, created_at, updated_by, updated_at
		FROM attributes
		WHERE entity_id = $1
		ORDER BY parent_attribute_id NULLS FIRST, created_at
	`
	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list attributes")
	}
	defer rows.Close()

	var result []*entities.Attribute
	for rows.Next() {
		attr, err := scanAttribute(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan attribute")
		}
		result = append(result, attr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating attributes")
	}
	return result, nil
}

// CountByEntity reports how many attributes an entity owns
func (r *PostgresAttributeRepository) CountByEntity(ctx context.Context, entityID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attributes WHERE entity_id = $1`,
		entityID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count attributes")
	}
	return count, nil
}

func scanAttribute(scan func(dest ...any) error) (*entities.Attribute, error) {
	var attr entities.Attribute
	var parentID, updatedBy sql.NullString
	var updatedAt sql.NullTime

	err := scan(
		&attr.ID, &attr.EntityID, &parentID, &attr.FieldName, &attr.FieldValue,
		&attr.Metadata, &attr.CreatedBy, &attr.CreatedAt, &updatedBy, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		attr.ParentAttributeID = parentID.String
	}
	if updatedBy.Valid {
		attr.UpdatedBy = updatedBy.String
	}
	if updatedAt.Valid {
		attr.UpdatedAt = updatedAt.Time
	}
	return &attr, nil
}

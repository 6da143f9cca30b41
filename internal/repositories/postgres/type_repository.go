package postgres

import (
	"context"
	"database/sql"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
)

// PostgresTypeRepository implements TypeRepository using PostgreSQL
type PostgresTypeRepository struct {
	db *sql.DB
}

// NewPostgresTypeRepository creates a new PostgreSQL type repository
func NewPostgresTypeRepository(db *sql.DB) repositories.TypeRepository {
	return &PostgresTypeRepository{db: db}
}

// Create inserts a new type and its activity in one transaction. The unique
// index on name settles concurrent creates: the loser gets ErrDuplicateEntry.
func (r *PostgresTypeRepository) Create(ctx context.Context, typ *entities.Type, activity *entities.Activity) error {
	if err := typ.Validate(); err != nil {
		return errors.Wrap(err, "invalid type")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO types (
			id, parent_type_id, name, metadata, role_level, active,
			created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, query,
		typ.ID, nullString(typ.ParentTypeID), typ.Name, typ.Metadata,
		typ.RoleLevel, typ.Active, typ.CreatedBy, typ.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(entities.ErrDuplicateEntry, "type name %q already exists", typ.Name)
		}
		return errors.Wrap(err, "failed to insert type")
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

// Update rewrites the mutable fields of a type and appends its activity in
// one transaction. Identity and name do not change; metadata and the columns
// materialized from it do.
func (r *PostgresTypeRepository) Update(ctx context.Context, typ *entities.Type, activity *entities.Activity) error {
	if err := typ.Validate(); err != nil {
		return errors.Wrap(err, "invalid type")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		UPDATE types
		SET metadata = $2, role_level = $3, active = $4, updated_by = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := tx.ExecContext(ctx, query,
		typ.ID, typ.Metadata, typ.RoleLevel, typ.Active,
		nullString(typ.UpdatedBy), typ.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update type")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(entities.ErrNotFound, "type %s", typ.ID)
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

// GetByID retrieves a type by id
func (r *PostgresTypeRepository) GetByID(ctx context.Context, id string) (*entities.Type, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetByName retrieves a type by its unique name
func (r *PostgresTypeRepository) GetByName(ctx context.Context, name string) (*entities.Type, error) {
	return r.getOne(ctx, "name = $1", name)
}

func (r *PostgresTypeRepository) getOne(ctx context.Context, where string, arg interface{}) (*entities.Type, error) {
	query := `
		SELECT id, parent_type_id, name, metadata, role_level, active,
			created_by, created_at, updated_by, updated_at
		FROM types
		WHERE ` + where

	var typ entities.Type
	var parentID, updatedBy sql.NullString
	var updatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&typ.ID, &parentID, &typ.Name, &typ.Metadata, &typ.RoleLevel, &typ.Active,
		&typ.CreatedBy, &typ.CreatedAt, &updatedBy, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(entities.ErrNotFound, "type %v", arg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get type")
	}

	if parentID.Valid {
		typ.ParentTypeID = parentID.String
	}
	if updatedBy.Valid {
		typ.UpdatedBy = updatedBy.String
	}
	if updatedAt.Valid {
		typ.UpdatedAt = updatedAt.Time
	}
	return &typ, nil
}

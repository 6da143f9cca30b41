package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// PostgresEntityRepository implements EntityRepository using PostgreSQL
type PostgresEntityRepository struct {
	db *sql.DB
}

// NewPostgresEntityRepository creates a new PostgreSQL entity repository
func NewPostgresEntityRepository(db *sql.DB) repositories.EntityRepository {
	return &PostgresEntityRepository{db: db}
}

// Create inserts a new entity and its activity in one transaction. The
// partial unique index on (type_id, name) settles concurrent creates
// deterministically: one insert wins, the other maps to ErrDuplicateEntry.
func (r *PostgresEntityRepository) Create(ctx context.Context, entity *entities.Entity, activity *entities.Activity) error {
	if err := entity.Validate(); err != nil {
		return errors.Wrap(err, "invalid entity")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO entities (
			id, parent_entity_id, type_id, name, metadata, tenant_id,
			created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, query,
		entity.ID, nullString(entity.ParentEntityID), entity.TypeID, entity.Name,
		entity.Metadata, nullString(entity.TenantID), entity.CreatedBy, entity.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(entities.ErrDuplicateEntry,
				"entity %q already exists for type %s", entity.Name, entity.TypeID)
		}
		return errors.Wrap(err, "failed to insert entity")
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

// Update rewrites the mutable fields of an entity and appends its activity
// in one transaction.
func (r *PostgresEntityRepository) Update(ctx context.Context, entity *entities.Entity, activity *entities.Activity) error {
	if err := entity.Validate(); err != nil {
		return errors.Wrap(err, "invalid entity")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		UPDATE entities
		SET parent_entity_id = $2, type_id = $3, name = $4, metadata = $5,
			tenant_id = $6, updated_by = $7, updated_at = $8
		WHERE id = $1
	`
	res, err := tx.ExecContext(ctx, query,
		entity.ID, nullString(entity.ParentEntityID), entity.TypeID, entity.Name,
		entity.Metadata, nullString(entity.TenantID),
		nullString(entity.UpdatedBy), entity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(entities.ErrDuplicateEntry,
				"entity %q already exists for type %s", entity.Name, entity.TypeID)
		}
		return errors.Wrap(err, "failed to update entity")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(entities.ErrNotFound, "entity %s", entity.ID)
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

// Delete removes an entity and appends the delete activity chain in one
// transaction. Attributes and outbound relationships go with the row via
// ON DELETE CASCADE; inbound edges are the service layer's pre-check.
func (r *PostgresEntityRepository) Delete(ctx context.Context, id string, activities []*entities.Activity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete entity")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(entities.ErrNotFound, "entity %s", id)
	}

	for _, activity := range activities {
		if err := insertActivityTx(ctx, tx, activity); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// GetByID retrieves an entity by id
func (r *PostgresEntityRepository) GetByID(ctx context.Context, id string) (*entities.Entity, error) {
	query := `
		SELECT id, parent_entity_id, type_id, name, metadata, tenant_id,
			created_by, created_at, updated_by, updated_at
		FROM entities
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)
	entity, err := scanEntity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(entities.ErrNotFound, "entity %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get entity")
	}
	return entity, nil
}

// ExistsByTypeAndName checks if a live entity with the pair exists
func (r *PostgresEntityRepository) ExistsByTypeAndName(ctx context.Context, typeID, name string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM entities WHERE type_id = $1 AND name = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, typeID, name).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "failed to check entity existence")
	}
	return exists, nil
}

// Query retrieves entities matching the filter
func (r *PostgresEntityRepository) Query(ctx context.Context, filter *repositories.EntityFilter) ([]*entities.Entity, error) {
	query := `
		SELECT id, parent_entity_id, type_id, name, metadata, tenant_id,
			created_by, created_at, updated_by, updated_at
		FROM entities
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	// Build dynamic WHERE clause based on filter
	if filter != nil {
		if filter.EntityID != "" {
			query += fmt.Sprintf(" AND id = $%d", argIdx)
			args = append(args, filter.EntityID)
			argIdx++
		}
		if filter.TypeID != "" {
			query += fmt.Sprintf(" AND type_id = $%d", argIdx)
			args = append(args, filter.TypeID)
			argIdx++
		}
		if filter.NameContains != "" {
			query += fmt.Sprintf(` AND name ILIKE '%%' || $%d || '%%' ESCAPE '\'`, argIdx)
			args = append(args, escapeLike(filter.NameContains))
			argIdx++
		}
	}

	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query entities")
	}
	defer rows.Close()

	var result []*entities.Entity
	for rows.Next() {
		entity, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan entity")
		}
		result = append(result, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating entities")
	}
	return result, nil
}

// SummaryByType aggregates count/min/max of createdAt grouped by type over
// the given entity ids. Ranges are OR-combined windows on created_at.
func (r *PostgresEntityRepository) SummaryByType(ctx context.Context, ids []string, ranges []entities.TimeRange) ([]*repositories.EntitySummaryRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT type_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM entities
		WHERE id = ANY($1)
	`
	args := []interface{}{pq.Array(ids)}

	clause, rangeArgs, _ := rangesClause("created_at", ranges, 2)
	query += clause
	args = append(args, rangeArgs...)

	query += " GROUP BY type_id ORDER BY type_id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query entity summary")
	}
	defer rows.Close()

	var result []*repositories.EntitySummaryRow
	for rows.Next() {
		var row repositories.EntitySummaryRow
		if err := rows.Scan(&row.TypeID, &row.Count, &row.MinCreatedAt, &row.MaxCreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan summary row")
		}
		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating summary rows")
	}
	return result, nil
}

func scanEntity(scan func(dest ...any) error) (*entities.Entity, error) {
	var entity entities.Entity
	var parentID, tenantID, updatedBy sql.NullString
	var updatedAt sql.NullTime

	err := scan(
		&entity.ID, &parentID, &entity.TypeID, &entity.Name, &entity.Metadata,
		&tenantID, &entity.CreatedBy, &entity.CreatedAt, &updatedBy, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		entity.ParentEntityID = parentID.String
	}
	if tenantID.Valid {
		entity.TenantID = tenantID.String
	}
	if updatedBy.Valid {
		entity.UpdatedBy = updatedBy.String
	}
	if updatedAt.Valid {
		entity.UpdatedAt = updatedAt.Time
	}
	return &entity, nil
}

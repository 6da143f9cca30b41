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

// PostgresRelationshipRepository implements RelationshipRepository using PostgreSQL
type PostgresRelationshipRepository struct {
	db *sql.DB
}

// NewPostgresRelationshipRepository creates a new PostgreSQL relationship repository
func NewPostgresRelationshipRepository(db *sql.DB) repositories.RelationshipRepository {
	return &PostgresRelationshipRepository{db: db}
}

// Create inserts a new edge and its activity in one transaction.
func (r *PostgresRelationshipRepository) Create(ctx context.Context, rel *entities.Relationship, activity *entities.Activity) error {
	if err := rel.Validate(); err != nil {
		return errors.Wrap(err, "invalid relationship")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO relationships (
			id, parent_entity_id, child_entity_id, type_id, metadata,
			created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.ExecContext(ctx, query,
		rel.ID, rel.ParentEntityID, rel.ChildEntityID, rel.TypeID,
		rel.Metadata, rel.CreatedBy, rel.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert relationship")
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

// Delete removes an edge by id and appends its activity in one transaction.
func (r *PostgresRelationshipRepository) Delete(ctx context.Context, id string, activity *entities.Activity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete relationship")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(entities.ErrNotFound, "relationship %s", id)
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

// GetByID retrieves an edge by id
func (r *PostgresRelationshipRepository) GetByID(ctx context.Context, id string) (*entities.Relationship, error) {
	query := `
		SELECT id, parent_entity_id, child_entity_id, type_id, metadata,
			created_by, created_at, updated_by, updated_at
		FROM relationships
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)
	rel, err := scanRelationship(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(entities.ErrNotFound, "relationship %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get relationship")
	}
	return rel, nil
}

// Query retrieves edges matching the filter
func (r *PostgresRelationshipRepository) Query(ctx context.Context, filter *repositories.RelationshipFilter) ([]*entities.Relationship, error) {
	query := `
		SELECT id, parent_entity_id, child_entity_id, type_id, metadata,
			created_by, created_at, updated_by, updated_at
		FROM relationships
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	// Build dynamic WHERE clause based on filter
	if filter != nil {
		if len(filter.ParentEntityIDs) > 0 {
			query += fmt.Sprintf(" AND parent_entity_id = ANY($%d)", argIdx)
			args = append(args, pq.Array(filter.ParentEntityIDs))
			argIdx++
		} else if filter.ParentEntityID != "" {
			query += fmt.Sprintf(" AND parent_entity_id = $%d", argIdx)
			args = append(args, filter.ParentEntityID)
			argIdx++
		}
		if filter.ChildEntityID != "" {
			query += fmt.Sprintf(" AND child_entity_id = $%d", argIdx)
			args = append(args, filter.ChildEntityID)
			argIdx++
		}
		if filter.TypeID != "" {
			query += fmt.Sprintf(" AND type_id = $%d", argIdx)
			args = append(args, filter.TypeID)
			argIdx++
		}
	}

	query += " ORDER BY created_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query relationships")
	}
	defer rows.Close()

	var result []*entities.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan relationship")
		}
		result = append(result, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating relationships")
	}
	return result, nil
}

// CountInbound reports how many live edges reference the entity as child.
// Deletion of a child entity is rejected while this is non-zero.
func (r *PostgresRelationshipRepository) CountInbound(ctx context.Context, childEntityID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relationships WHERE child_entity_id = $1`,
		childEntityID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count inbound relationships")
	}
	return count, nil
}

// FilterParentsLinkedTo returns the subset of parentIDs that have an edge of
// the given type to childID, in one round-trip.
func (r *PostgresRelationshipRepository) FilterParentsLinkedTo(ctx context.Context, typeID string, parentIDs []string, childID string) ([]string, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT parent_entity_id
		FROM relationships
		WHERE type_id = $1 AND child_entity_id = $2 AND parent_entity_id = ANY($3)
	`
	rows, err := r.db.QueryContext(ctx, query, typeID, childID, pq.Array(parentIDs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to filter linked parents")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan parent id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating linked parents")
	}
	return ids, nil
}

// ReportByType aggregates edge counts grouped by type over edges whose
// parent is in parentIDs. Ranges are OR-combined windows on created_at.
func (r *PostgresRelationshipRepository) ReportByType(ctx context.Context, parentIDs []string, ranges []entities.TimeRange) ([]*repositories.RelationshipReportRow, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT type_id, COUNT(*)
		FROM relationships
		WHERE parent_entity_id = ANY($1)
	`
	args := []interface{}{pq.Array(parentIDs)}

	clause, rangeArgs, _ := rangesClause("created_at", ranges, 2)
	query += clause
	args = append(args, rangeArgs...)

	query += " GROUP BY type_id ORDER BY type_id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query relationship report")
	}
	defer rows.Close()

	var result []*repositories.RelationshipReportRow
	for rows.Next() {
		var row repositories.RelationshipReportRow
		if err := rows.Scan(&row.TypeID, &row.Count); err != nil {
			return nil, errors.Wrap(err, "failed to scan report row")
		}
		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating report rows")
	}
	return result, nil
}

func scanRelationship(scan func(dest ...any) error) (*entities.Relationship, error) {
	var rel entities.Relationship
	var updatedBy sql.NullString
	var updatedAt sql.NullTime

	err := scan(
		&rel.ID, &rel.ParentEntityID, &rel.ChildEntityID, &rel.TypeID,
		&rel.Metadata, &rel.CreatedBy, &rel.CreatedAt, &updatedBy, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if updatedBy.Valid {
		rel.UpdatedBy = updatedBy.String
	}
	if updatedAt.Valid {
		rel.UpdatedAt = updatedAt.Time
	}
	return &rel, nil
}

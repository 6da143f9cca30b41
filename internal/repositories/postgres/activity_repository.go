package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
)

// PostgresActivityRepository implements ActivityRepository using PostgreSQL
type PostgresActivityRepository struct {
	db *sql.DB
}

// NewPostgresActivityRepository creates a new PostgreSQL activity repository
func NewPostgresActivityRepository(db *sql.DB) repositories.ActivityRepository {
	return &PostgresActivityRepository{db: db}
}

// Append inserts one activity record
func (r *PostgresActivityRepository) Append(ctx context.Context, activity *entities.Activity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// AppendAll inserts a chained set of activities in one transaction
func (r *PostgresActivityRepository) AppendAll(ctx context.Context, activities []*entities.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

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

// Query retrieves live activities matching the filter, newest first
func (r *PostgresActivityRepository) Query(ctx context.Context, filter *repositories.ActivityFilter) ([]*entities.Activity, error) {
	query := `
		SELECT id, parent_activity_id, entity_id, type_id,
			old_value, new_value, error_code, error_message, error_severity,
			change_type, metadata, performed_by, performed_at
		FROM activities
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	// Build dynamic WHERE clause based on filter
	if filter != nil {
		if filter.EntityID != "" {
			query += fmt.Sprintf(" AND entity_id = $%d", argIdx)
			args = append(args, filter.EntityID)
			argIdx++
		}
		if filter.ChangeType != "" {
			query += fmt.Sprintf(" AND change_type = $%d", argIdx)
			args = append(args, filter.ChangeType)
			argIdx++
		}
		if filter.PerformedBy != "" {
			query += fmt.Sprintf(" AND performed_by = $%d", argIdx)
			args = append(args, filter.PerformedBy)
			argIdx++
		}
		if filter.FailedOnly {
			query += " AND error_code IS NOT NULL"
		}
	}

	query += " ORDER BY performed_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query activities")
	}
	defer rows.Close()

	var result []*entities.Activity
	for rows.Next() {
		activity, err := scanActivity(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan activity")
		}
		result = append(result, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating activities")
	}
	return result, nil
}

// ArchiveOlderThan moves live activities older than cutoff to the archive
// table, or deletes them outright when archive=false. Copy and delete share
// one transaction and one predicate, so the count invariant holds and a
// second run with the same cutoff moves nothing.
func (r *PostgresActivityRepository) ArchiveOlderThan(ctx context.Context, cutoff time.Time, archive bool) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if archive {
		copyQuery := `
			INSERT INTO activities_archive (
				id, parent_activity_id, entity_id, type_id,
				old_value, new_value, error_code, error_message, error_severity,
				change_type, metadata, performed_by, performed_at
			)
			SELECT id, parent_activity_id, entity_id, type_id,
				old_value, new_value, error_code, error_message, error_severity,
				change_type, metadata, performed_by, performed_at
			FROM activities
			WHERE performed_at < $1
			ON CONFLICT (id) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, copyQuery, cutoff); err != nil {
			return 0, errors.Wrap(err, "failed to copy activities to archive")
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE performed_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete archived activities")
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit transaction")
	}
	return moved, nil
}

// Counts returns the number of live and archived activities
func (r *PostgresActivityRepository) Counts(ctx context.Context) (int64, int64, error) {
	var live, archived int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&live); err != nil {
		return 0, 0, errors.Wrap(err, "failed to count live activities")
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities_archive`).Scan(&archived); err != nil {
		return 0, 0, errors.Wrap(err, "failed to count archived activities")
	}
	return live, archived, nil
}

// Report aggregates the audit log grouped by change type. Ranges are
// OR-combined windows on performed_at.
func (r *PostgresActivityRepository) Report(ctx context.Context, ranges []entities.TimeRange) ([]*repositories.ActivityReportRow, error) {
	query := `
		SELECT change_type, COUNT(*),
			COUNT(*) FILTER (WHERE error_code IS NOT NULL),
			MIN(performed_at), MAX(performed_at)
		FROM activities
		WHERE TRUE
	`
	args := []interface{}{}

	clause, rangeArgs, _ := rangesClause("performed_at", ranges, 1)
	query += clause
	args = append(args, rangeArgs...)

	query += " GROUP BY change_type ORDER BY change_type"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query activity report")
	}
	defer rows.Close()

	var result []*repositories.ActivityReportRow
	for rows.Next() {
		var row repositories.ActivityReportRow
		if err := rows.Scan(&row.ChangeType, &row.Count, &row.Failures, &row.MinPerformedAt, &row.MaxPerformedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan report row")
		}
		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating report rows")
	}
	return result, nil
}

func scanActivity(scan func(dest ...any) error) (*entities.Activity, error) {
	var a entities.Activity
	var parentID, entityID, typeID, oldValue, newValue sql.NullString
	var errorCode, errorMessage, errorSeverity sql.NullString

	err := scan(
		&a.ID, &parentID, &entityID, &typeID,
		&oldValue, &newValue, &errorCode, &errorMessage, &errorSeverity,
		&a.ChangeType, &a.Metadata, &a.PerformedBy, &a.PerformedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ParentActivityID = parentID.String
	a.EntityID = entityID.String
	a.TypeID = typeID.String
	a.OldValue = oldValue.String
	a.NewValue = newValue.String
	a.ErrorCode = errorCode.String
	a.ErrorMessage = errorMessage.String
	a.ErrorSeverity = errorSeverity.String
	return &a, nil
}

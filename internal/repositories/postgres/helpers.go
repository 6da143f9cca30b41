package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/arkova/substrate/internal/entities"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations. Uniqueness races are settled here, not by pre-checks: the
// losing insert surfaces 23505 and is mapped to ErrDuplicateEntry.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE metacharacters so user-supplied substrings
// match literally instead of acting as wildcards.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// insertActivityTx appends one audit record inside the caller's transaction
// so the row change and its activity become visible together.
func insertActivityTx(ctx context.Context, tx *sql.Tx, a *entities.Activity) error {
	if err := a.Validate(); err != nil {
		return errors.Wrap(err, "invalid activity")
	}

	query := `
		INSERT INTO activities (
			id, parent_activity_id, entity_id, type_id,
			old_value, new_value, error_code, error_message, error_severity,
			change_type, metadata, performed_by, performed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := tx.ExecContext(ctx, query,
		a.ID, nullString(a.ParentActivityID), nullString(a.EntityID), nullString(a.TypeID),
		nullString(a.OldValue), nullString(a.NewValue),
		nullString(a.ErrorCode), nullString(a.ErrorMessage), nullString(a.ErrorSeverity),
		a.ChangeType, a.Metadata, a.PerformedBy, a.PerformedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert activity")
	}
	return nil
}

// rangesClause builds the OR-combined time window predicate for a timestamp
// column. An empty slice produces no clause: no filter, never a wildcard
// that drops rows.
func rangesClause(column string, ranges []entities.TimeRange, argIdx int) (string, []interface{}, int) {
	if len(ranges) == 0 {
		return "", nil, argIdx
	}

	var parts []string
	var args []interface{}
	for _, r := range ranges {
		switch {
		case !r.From.IsZero() && !r.To.IsZero():
			parts = append(parts, fmt.Sprintf("(%s >= $%d AND %s < $%d)", column, argIdx, column, argIdx+1))
			args = append(args, r.From, r.To)
			argIdx += 2
		case !r.From.IsZero():
			parts = append(parts, fmt.Sprintf("%s >= $%d", column, argIdx))
			args = append(args, r.From)
			argIdx++
		case !r.To.IsZero():
			parts = append(parts, fmt.Sprintf("%s < $%d", column, argIdx))
			args = append(args, r.To)
			argIdx++
		default:
			// Fully unbounded range matches everything.
			parts = append(parts, "TRUE")
		}
	}

	return " AND (" + strings.Join(parts, " OR ") + ")", args, argIdx
}

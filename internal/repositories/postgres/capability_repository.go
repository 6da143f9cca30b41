package postgres

import (
	"context"
	"database/sql"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
)

// PostgresCapabilityRepository reads capability flags from the
// user_capabilities table. Granting lives outside the core; this is a
// read-only consumer.
type PostgresCapabilityRepository struct {
	db *sql.DB
}

// NewPostgresCapabilityRepository creates a new PostgreSQL capability repository
func NewPostgresCapabilityRepository(db *sql.DB) repositories.CapabilityRepository {
	return &PostgresCapabilityRepository{db: db}
}

// GetByUser retrieves the capability set for a user. Unknown users get an
// all-false set rather than an error: no grants means no permissions.
func (r *PostgresCapabilityRepository) GetByUser(ctx context.Context, userID string) (entities.Capabilities, error) {
	query := `
		SELECT can_insert_entities, can_update_entities, can_delete_entities,
			can_view_entities, can_link_entities, can_manage_types,
			can_view_audit_log, can_unmask_data, can_archive_activity
		FROM user_capabilities
		WHERE user_id = $1
	`
	var caps entities.Capabilities
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&caps.CanInsertEntities, &caps.CanUpdateEntities, &caps.CanDeleteEntities,
		&caps.CanViewEntities, &caps.CanLinkEntities, &caps.CanManageTypes,
		&caps.CanViewAuditLog, &caps.CanUnmaskData, &caps.CanArchiveActivity,
	)
	if err == sql.ErrNoRows {
		return entities.Capabilities{}, nil
	}
	if err != nil {
		return entities.Capabilities{}, errors.Wrap(err, "failed to get capabilities")
	}
	return caps, nil
}

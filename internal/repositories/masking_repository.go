package repositories

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
)

// MaskingRepository defines data access for declarative masking rules.
type MaskingRepository interface {
	// Upsert creates or replaces the rule for (tableRef, fieldRef).
	Upsert(ctx context.Context, rule *entities.MaskingRule) error

	// ListByTable retrieves all rules declared for a table.
	ListByTable(ctx context.Context, tableRef string) ([]*entities.MaskingRule, error)
}

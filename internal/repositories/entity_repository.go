package repositories

import (
	"context"
	"time"

	"github.com/arkova/substrate/internal/entities"
)

// EntityFilter defines filter criteria for querying entities. Filters are
// AND-combined; zero-valued fields are no-ops.
type EntityFilter struct {
	EntityID     string // Filter by entity ID (optional)
	TypeID       string // Filter by type ID (optional)
	NameContains string // Substring match on name (optional)
}

// EntitySummaryRow is one group of the entity summary report.
type EntitySummaryRow struct {
	TypeID       string    `json:"typeId"`
	Count        int64     `json:"count"`
	MinCreatedAt time.Time `json:"minCreatedAt"`
	MaxCreatedAt time.Time `json:"maxCreatedAt"`
}

// EntityRepository defines data access for the entity store. Mutations
// persist row changes and their audit activities in a single transaction;
// (type_id, name) uniqueness is enforced by a storage-layer constraint.
type EntityRepository interface {
	// Create inserts a new entity and its activity atomically.
	// Returns entities.ErrDuplicateEntry when (typeId, name) is taken.
	Create(ctx context.Context, entity *entities.Entity, activity *entities.Activity) error

	// Update rewrites the mutable fields of an existing entity and appends
	// its activity atomically. Returns entities.ErrDuplicateEntry when the
	// new (typeId, name) collides with another live row.
	Update(ctx context.Context, entity *entities.Entity, activity *entities.Activity) error

	// Delete removes an entity and appends the given activities (the parent
	// record plus cascade sub-steps) atomically. Owned attributes and
	// outbound relationships go with the row via storage-level cascades.
	Delete(ctx context.Context, id string, activities []*entities.Activity) error

	// GetByID retrieves an entity; entities.ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*entities.Entity, error)

	// ExistsByTypeAndName reports whether a live entity with the pair exists.
	ExistsByTypeAndName(ctx context.Context, typeID, name string) (bool, error)

	// Query retrieves entities matching the filter, ordered by id.
	Query(ctx context.Context, filter *EntityFilter) ([]*entities.Entity, error)

	// SummaryByType aggregates count/min/max of createdAt grouped by type
	// over the given entity ids, windowed by OR-combined time ranges.
	SummaryByType(ctx context.Context, ids []string, ranges []entities.TimeRange) ([]*EntitySummaryRow, error)
}

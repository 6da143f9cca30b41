package repositories

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
)

// RelationshipFilter defines filter criteria for querying relationship
// edges. Filters are AND-combined; zero-valued fields are no-ops.
type RelationshipFilter struct {
	ParentEntityID  string   // Filter by parent entity ID (optional)
	ParentEntityIDs []string // Filter by a set of parent entity IDs (optional)
	ChildEntityID   string   // Filter by child entity ID (optional)
	TypeID          string   // Filter by type ID (optional)
}

// RelationshipReportRow is one group of the relationship report.
type RelationshipReportRow struct {
	TypeID string `json:"typeId"`
	Count  int64  `json:"count"`
}

// RelationshipRepository defines data access for the relationship graph.
type RelationshipRepository interface {
	// Create inserts a new edge and its activity atomically.
	Create(ctx context.Context, rel *entities.Relationship, activity *entities.Activity) error

	// Delete removes an edge by id and appends its activity atomically.
	Delete(ctx context.Context, id string, activity *entities.Activity) error

	// GetByID retrieves an edge; entities.ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*entities.Relationship, error)

	// Query retrieves edges matching the filter.
	Query(ctx context.Context, filter *RelationshipFilter) ([]*entities.Relationship, error)

	// CountInbound reports how many live edges reference the entity as child.
	CountInbound(ctx context.Context, childEntityID string) (int64, error)

	// FilterParentsLinkedTo returns the subset of parentIDs that have an
	// edge of the given type to childID. One round-trip; used by the bulk
	// access predicate.
	FilterParentsLinkedTo(ctx context.Context, typeID string, parentIDs []string, childID string) ([]string, error)

	// ReportByType aggregates edge counts grouped by type over edges whose
	// parent is in parentIDs, windowed by OR-combined time ranges.
	ReportByType(ctx context.Context, parentIDs []string, ranges []entities.TimeRange) ([]*RelationshipReportRow, error)
}

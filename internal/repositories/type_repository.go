package repositories

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
)

// TypeRepository defines data access for the type registry. Create and
// Update persist the row together with its audit activity in one
// transaction; name uniqueness is enforced by the storage layer so a race
// between two concurrent creates yields one winner and one duplicate error.
type TypeRepository interface {
	// Create inserts a new type and its activity atomically.
	// Returns entities.ErrDuplicateEntry when the name is taken.
	Create(ctx context.Context, typ *entities.Type, activity *entities.Activity) error

	// Update rewrites the mutable fields of an existing type and appends
	// its activity atomically.
	Update(ctx context.Context, typ *entities.Type, activity *entities.Activity) error

	// GetByID retrieves a type; entities.ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*entities.Type, error)

	// GetByName retrieves a type by its unique name; entities.ErrNotFound when absent.
	GetByName(ctx context.Context, name string) (*entities.Type, error)
}

package repositories

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
)

// AttributeRepository defines data access for entity attributes. Attributes
// are not independently access-controlled; authorization is inherited from
// the owning entity by the service layer.
type AttributeRepository interface {
	// Create inserts a new attribute and its activity atomically.
	Create(ctx context.Context, attr *entities.Attribute, activity *entities.Activity) error

	// GetByID retrieves an attribute; entities.ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*entities.Attribute, error)

	// ListByEntity retrieves all attributes owned by an entity, roots first.
	ListByEntity(ctx context.Context, entityID string) ([]*entities.Attribute, error)

	// CountByEntity reports how many attributes an entity owns.
	CountByEntity(ctx context.Context, entityID string) (int64, error)
}

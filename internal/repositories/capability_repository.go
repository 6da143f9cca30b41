package repositories

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
)

// CapabilityRepository reads the named permission flags granted to a
// principal. Granting and revoking flags belongs to an external role source;
// the core only consumes them.
type CapabilityRepository interface {
	// GetByUser retrieves the capability set for a user. Unknown users get
	// an all-false set, not an error.
	GetByUser(ctx context.Context, userID string) (entities.Capabilities, error)
}

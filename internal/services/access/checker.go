package access

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
)

// Checker is the row-visibility predicate gating every entity read and
// write. It is an interface so every storage-touching code path can depend
// on it and tests can substitute it; bypassing the checker is a bug, not an
// optimization.
type Checker interface {
	// CanAccess reports whether the principal may see/touch the entity.
	CanAccess(ctx context.Context, principal *entities.Principal, entityID string) (bool, error)

	// FilterAuthorized returns the subset of entityIDs visible to the
	// principal, preserving input order. Used by query and report paths so
	// filtering costs one round-trip instead of one per row.
	FilterAuthorized(ctx context.Context, principal *entities.Principal, entityIDs []string) ([]string, error)
}

// RoleChecker implements Checker over the relationship graph: a principal
// may access an entity iff a relationship edge of the "UserRole" type runs
// from that entity to the principal's own entity. The check is a single hop;
// chained role delegation is deliberately not followed.
type RoleChecker struct {
	types         repositories.TypeRepository
	relationships repositories.RelationshipRepository
}

// NewRoleChecker creates a new RoleChecker
func NewRoleChecker(types repositories.TypeRepository, relationships repositories.RelationshipRepository) *RoleChecker {
	return &RoleChecker{types: types, relationships: relationships}
}

// CanAccess checks for a direct UserRole edge entity -> principal.
func (c *RoleChecker) CanAccess(ctx context.Context, principal *entities.Principal, entityID string) (bool, error) {
	if err := principal.Validate(); err != nil {
		return false, err
	}
	if entityID == "" {
		return false, errors.Wrap(entities.ErrValidation, "entity id is required")
	}

	roleType, err := c.roleType(ctx)
	if err != nil {
		return false, err
	}
	if roleType == nil {
		return false, nil
	}

	edges, err := c.relationships.Query(ctx, &repositories.RelationshipFilter{
		ParentEntityID: entityID,
		ChildEntityID:  principal.UserID,
		TypeID:         roleType.ID,
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to query role edges")
	}
	return len(edges) > 0, nil
}

// FilterAuthorized resolves the visible subset in one relationship query.
func (c *RoleChecker) FilterAuthorized(ctx context.Context, principal *entities.Principal, entityIDs []string) ([]string, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if len(entityIDs) == 0 {
		return nil, nil
	}

	roleType, err := c.roleType(ctx)
	if err != nil {
		return nil, err
	}
	if roleType == nil {
		return nil, nil
	}

	linked, err := c.relationships.FilterParentsLinkedTo(ctx, roleType.ID, entityIDs, principal.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to filter authorized entities")
	}

	allowed := make(map[string]struct{}, len(linked))
	for _, id := range linked {
		allowed[id] = struct{}{}
	}

	var result []string
	for _, id := range entityIDs {
		if _, ok := allowed[id]; ok {
			result = append(result, id)
		}
	}
	return result, nil
}

// roleType resolves the UserRole relationship type. A registry without it
// means no role edges can exist, so nothing is visible; that is a valid
// (empty) state, not an error.
func (c *RoleChecker) roleType(ctx context.Context) (*entities.Type, error) {
	roleType, err := c.types.GetByName(ctx, entities.RoleTypeName)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to resolve role type")
	}
	return roleType, nil
}

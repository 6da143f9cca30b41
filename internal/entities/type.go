package entities

import (
	"time"

	"github.com/cockroachdb/errors"
)

// RoleTypeName is the relationship type name the access predicate looks for.
// A "UserRole" edge from an entity to a principal's entity grants that
// principal row access to the entity.
const RoleTypeName = "UserRole"

// Type is a named, hierarchical classification applied to entities and
// relationships. Types form a tree via ParentTypeID; the name is globally
// unique. RoleLevel and Active are materialized from Metadata on every write
// and are never writable directly.
type Type struct {
	ID           string    `json:"id"`
	ParentTypeID string    `json:"parentTypeId,omitempty"`
	Name         string    `json:"name"`
	Metadata     Metadata  `json:"metadata"`
	RoleLevel    int       `json:"roleLevel"`
	Active       bool      `json:"active"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedBy    string    `json:"updatedBy,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// Validate checks required fields.
func (t *Type) Validate() error {
	if t.ID == "" {
		return errors.Wrap(ErrValidation, "type id is required")
	}
	if t.Name == "" {
		return errors.Wrap(ErrValidation, "type name is required")
	}
	if t.CreatedBy == "" {
		return errors.Wrap(ErrValidation, "type createdBy is required")
	}
	return nil
}

// Materialize recomputes the promoted columns from the metadata document.
// Active defaults to true when the document does not carry the key.
func (t *Type) Materialize() {
	t.RoleLevel = t.Metadata.GetInt(MetaKeyRoleLevel)
	if active, ok := t.Metadata.GetBool(MetaKeyActive); ok {
		t.Active = active
	} else {
		t.Active = true
	}
}

package entities

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Entity is a generic, typed, optionally nested business object. Entities
// form a forest via ParentEntityID; (TypeID, Name) is unique among live rows,
// enforced by the storage layer. TenantID is materialized from Metadata.
type Entity struct {
	ID             string    `json:"id"`
	ParentEntityID string    `json:"parentEntityId,omitempty"`
	TypeID         string    `json:"typeId"`
	Name           string    `json:"name"`
	Metadata       Metadata  `json:"metadata"`
	TenantID       string    `json:"tenantId,omitempty"`
	CreatedBy      string    `json:"createdBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedBy      string    `json:"updatedBy,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// Validate checks required fields.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return errors.Wrap(ErrValidation, "entity id is required")
	}
	if e.TypeID == "" {
		return errors.Wrap(ErrValidation, "entity typeId is required")
	}
	if e.Name == "" {
		return errors.Wrap(ErrValidation, "entity name is required")
	}
	if e.CreatedBy == "" {
		return errors.Wrap(ErrValidation, "entity createdBy is required")
	}
	return nil
}

// Materialize recomputes the promoted columns from the metadata document.
func (e *Entity) Materialize() {
	e.TenantID = e.Metadata.GetString(MetaKeyTenantID)
}

package entities

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Attribute is a key/value extension field owned by exactly one entity.
// Attributes may nest under a parent attribute of the same entity. There is
// no uniqueness constraint on FieldName within an entity; callers
// disambiguate via nesting or id. Deleting the owning entity cascades.
type Attribute struct {
	ID                string    `json:"id"`
	EntityID          string    `json:"entityId"`
	ParentAttributeID string    `json:"parentAttributeId,omitempty"`
	FieldName         string    `json:"fieldName"`
	FieldValue        string    `json:"fieldValue"`
	Metadata          Metadata  `json:"metadata"`
	CreatedBy         string    `json:"createdBy"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedBy         string    `json:"updatedBy,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt,omitempty"`
}

// Validate checks required fields.
func (a *Attribute) Validate() error {
	if a.ID == "" {
		return errors.Wrap(ErrValidation, "attribute id is required")
	}
	if a.EntityID == "" {
		return errors.Wrap(ErrValidation, "attribute entityId is required")
	}
	if a.FieldName == "" {
		return errors.Wrap(ErrValidation, "attribute fieldName is required")
	}
	return nil
}

package entities

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Relationship is a typed directed edge between two entities
// (parent -> child). Deleting the parent entity cascades to its outbound
// edges; deleting a child with live inbound edges is rejected so the graph
// never dangles. The general graph may cycle; only the type tree and the
// entity parent tree are cycle-free.
type Relationship struct {
	ID             string    `json:"id"`
	ParentEntityID string    `json:"parentEntityId"`
	ChildEntityID  string    `json:"childEntityId"`
	TypeID         string    `json:"typeId"`
	Metadata       Metadata  `json:"metadata"`
	CreatedBy      string    `json:"createdBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedBy      string    `json:"updatedBy,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// String returns a compact representation for logs.
// Format: parent_id -[type_id]-> child_id
func (r *Relationship) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", r.ParentEntityID, r.TypeID, r.ChildEntityID)
}

// Validate checks required fields.
func (r *Relationship) Validate() error {
	if r.ID == "" {
		return errors.Wrap(ErrValidation, "relationship id is required")
	}
	if r.ParentEntityID == "" {
		return errors.Wrap(ErrValidation, "relationship parentEntityId is required")
	}
	if r.ChildEntityID == "" {
		return errors.Wrap(ErrValidation, "relationship childEntityId is required")
	}
	if r.TypeID == "" {
		return errors.Wrap(ErrValidation, "relationship typeId is required")
	}
	return nil
}

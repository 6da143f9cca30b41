package entities

import (
	"github.com/cockroachdb/errors"
)

// Capabilities is the set of named permission flags granted to a principal.
// How flags are granted is owned by an external capability source; the core
// only reads them.
type Capabilities struct {
	CanInsertEntities  bool `json:"canInsertEntities"`
	CanUpdateEntities  bool `json:"canUpdateEntities"`
	CanDeleteEntities  bool `json:"canDeleteEntities"`
	CanViewEntities    bool `json:"canViewEntities"`
	CanLinkEntities    bool `json:"canLinkEntities"`
	CanManageTypes     bool `json:"canManageTypes"`
	CanViewAuditLog    bool `json:"canViewAuditLog"`
	CanUnmaskData      bool `json:"canUnmaskData"`
	CanArchiveActivity bool `json:"canArchiveActivity"`
}

// Principal is the ambient per-request identity and permission set. UserID is
// the id of the entity row representing the acting user; the access predicate
// tests role edges against it. A Principal must be established before any
// operation runs.
type Principal struct {
	UserID       string       `json:"userId"`
	Capabilities Capabilities `json:"capabilities"`
}

// Validate checks that the principal is usable for an operation. A missing
// principal is a configuration error for the request, not an authorization
// decision.
func (p *Principal) Validate() error {
	if p == nil {
		return errors.Wrap(ErrValidation, "principal is required")
	}
	if p.UserID == "" {
		return errors.Wrap(ErrValidation, "principal userId is required")
	}
	return nil
}

package entities

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Change types recorded in the audit log.
const (
	ChangeTypeCreate    = "create"
	ChangeTypeUpdate    = "update"
	ChangeTypeDelete    = "delete"
	ChangeTypeLink      = "link"
	ChangeTypeUnlink    = "unlink"
	ChangeTypeAttribute = "attribute"
	ChangeTypeMasking   = "masking"
	ChangeTypeArchive   = "archive"
)

// Error severities recorded on failure activities.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Activity is one immutable audit record of an operation attempt, success or
// failure. Multi-step operations chain sub-steps to a parent activity via
// ParentActivityID. Activities are never updated; the retention policy
// eventually moves them to the archive table.
type Activity struct {
	ID               string    `json:"id"`
	ParentActivityID string    `json:"parentActivityId,omitempty"`
	EntityID         string    `json:"entityId,omitempty"`
	TypeID           string    `json:"typeId,omitempty"`
	OldValue         string    `json:"oldValue,omitempty"`
	NewValue         string    `json:"newValue,omitempty"`
	ErrorCode        string    `json:"errorCode,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	ErrorSeverity    string    `json:"errorSeverity,omitempty"`
	ChangeType       string    `json:"changeType"`
	Metadata         Metadata  `json:"metadata"`
	PerformedBy      string    `json:"performedBy"`
	PerformedAt      time.Time `json:"performedAt"`
}

// Validate checks required fields.
func (a *Activity) Validate() error {
	if a.ID == "" {
		return errors.Wrap(ErrValidation, "activity id is required")
	}
	if a.ChangeType == "" {
		return errors.Wrap(ErrValidation, "activity changeType is required")
	}
	if a.PerformedBy == "" {
		return errors.Wrap(ErrValidation, "activity performedBy is required")
	}
	return nil
}

// Failed reports whether this activity records a failed attempt.
func (a *Activity) Failed() bool {
	return a.ErrorCode != ""
}

// NewActivity builds a success activity for one operation attempt.
func NewActivity(changeType, performedBy string) *Activity {
	return &Activity{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ChangeType:  changeType,
		Metadata:    Metadata{},
		PerformedBy: performedBy,
		PerformedAt: time.Now().UTC(),
	}
}

// Child builds a sub-step activity chained to a.
func (a *Activity) Child(changeType string) *Activity {
	child := NewActivity(changeType, a.PerformedBy)
	child.ParentActivityID = a.ID
	return child
}

// Snapshot serializes a row value for the old/new value fields. Failures to
// marshal are reported as empty snapshots rather than failing the operation.
func Snapshot(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

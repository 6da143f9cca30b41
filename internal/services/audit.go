package services

import (
	"context"
	"time"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"go.uber.org/zap"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// AuditRecorder appends audit records outside the mutation transactions.
// Success activities ride inside the repository transaction of the mutation
// they describe; this recorder covers everything else: failure records and
// standalone operations like archival. If the audit log itself is
// unavailable the record is routed to the error sink instead of being
// silently dropped.
type AuditRecorder struct {
	activities repositories.ActivityRepository
	logger     *zap.Logger
}

// NewAuditRecorder creates a new AuditRecorder
func NewAuditRecorder(activities repositories.ActivityRepository, logger *zap.Logger) *AuditRecorder {
	return &AuditRecorder{activities: activities, logger: logger}
}

// Record appends one activity.
func (r *AuditRecorder) Record(ctx context.Context, activity *entities.Activity) {
	if err := r.activities.Append(ctx, activity); err != nil {
		r.logger.Error("audit log unavailable, activity routed to error sink",
			zap.String("change_type", activity.ChangeType),
			zap.String("entity_id", activity.EntityID),
			zap.String("performed_by", activity.PerformedBy),
			zap.Error(err),
		)
	}
}

// RecordFailure appends a failure activity for a rejected or failed
// operation attempt. The error is classified into code and severity; the
// message keeps the original diagnostic detail.
func (r *AuditRecorder) RecordFailure(ctx context.Context, changeType, entityID, typeID string, principal *entities.Principal, cause error) {
	activity := entities.NewActivity(changeType, Actor(principal))
	activity.EntityID = entityID
	activity.TypeID = typeID
	activity.ErrorCode = entities.ErrorCode(cause)
	activity.ErrorMessage = cause.Error()
	activity.ErrorSeverity = entities.ErrorSeverity(cause)
	r.Record(ctx, activity)
}

// Actor returns the audit identity for a principal, tolerating requests
// rejected before a principal could be established.
func Actor(principal *entities.Principal) string {
	if principal == nil || principal.UserID == "" {
		return "unknown"
	}
	return principal.UserID
}

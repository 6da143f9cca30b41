package repositories

import (
	"context"
	"time"

	"github.com/arkova/substrate/internal/entities"
)

// ActivityFilter defines filter criteria for querying the audit log.
type ActivityFilter struct {
	EntityID    string // Filter by subject entity (optional)
	ChangeType  string // Filter by change type (optional)
	PerformedBy string // Filter by actor (optional)
	FailedOnly  bool   // Only failure records
}

// ActivityReportRow is one group of the activity log report.
type ActivityReportRow struct {
	ChangeType     string    `json:"changeType"`
	Count          int64     `json:"count"`
	Failures       int64     `json:"failures"`
	MinPerformedAt time.Time `json:"minPerformedAt"`
	MaxPerformedAt time.Time `json:"maxPerformedAt"`
}

// ActivityRepository defines data access for the append-only audit log and
// its archive. Live rows are never updated; the only deletion path is the
// retention policy.
type ActivityRepository interface {
	// Append inserts one activity record.
	Append(ctx context.Context, activity *entities.Activity) error

	// AppendAll inserts a chained set of activities in one transaction.
	AppendAll(ctx context.Context, activities []*entities.Activity) error

	// Query retrieves live activities matching the filter, newest first.
	Query(ctx context.Context, filter *ActivityFilter) ([]*entities.Activity, error)

	// ArchiveOlderThan moves live activities with performedAt before cutoff
	// to the archive table (or deletes them outright when archive=false),
	// all in one transaction. Returns the number of rows moved or deleted.
	// Re-invocation with the same cutoff moves nothing.
	ArchiveOlderThan(ctx context.Context, cutoff time.Time, archive bool) (int64, error)

	// Counts returns the number of live and archived activities.
	Counts(ctx context.Context) (live int64, archived int64, err error)

	// Report aggregates count/failures/min/max of performedAt grouped by
	// change type over live rows, windowed by OR-combined time ranges.
	Report(ctx context.Context, ranges []entities.TimeRange) ([]*ActivityReportRow, error)
}

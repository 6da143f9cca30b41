package services

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/arkova/substrate/internal/services/access"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ReportService produces aggregate views over the stores. Entity-scoped
// reports aggregate only the rows the principal's roles allow; the audit
// report has its own capability gate. Every report accepts OR-combined
// time windows; an empty window list means no time filter.
type ReportService struct {
	entitiesRepo  repositories.EntityRepository
	relationships repositories.RelationshipRepository
	activities    repositories.ActivityRepository
	checker       access.Checker
	logger        *zap.Logger
}

// NewReportService creates a new ReportService
func NewReportService(
	entitiesRepo repositories.EntityRepository,
	relationships repositories.RelationshipRepository,
	activities repositories.ActivityRepository,
	checker access.Checker,
	logger *zap.Logger,
) *ReportService {
	return &ReportService{
		entitiesRepo:  entitiesRepo,
		relationships: relationships,
		activities:    activities,
		checker:       checker,
		logger:        logger,
	}
}

// EntitySummaryByType aggregates count and creation-time bounds of the
// principal's visible entities, grouped by type.
func (s *ReportService) EntitySummaryByType(ctx context.Context, principal *entities.Principal, ranges []entities.TimeRange) ([]*repositories.EntitySummaryRow, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if !principal.Capabilities.CanViewEntities {
		return nil, errors.Wrap(entities.ErrAccessDenied, "entity reports require CanViewEntities")
	}
	if err := validateRanges(ranges); err != nil {
		return nil, err
	}

	ids, err := s.visibleEntityIDs(ctx, principal)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*repositories.EntitySummaryRow{}, nil
	}

	rows, err := s.entitiesRepo.SummaryByType(ctx, ids, ranges)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	return rows, nil
}

// RelationshipReport aggregates edge counts by type over edges whose
// parent the principal may see.
func (s *ReportService) RelationshipReport(ctx context.Context, principal *entities.Principal, ranges []entities.TimeRange) ([]*repositories.RelationshipReportRow, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if !principal.Capabilities.CanViewEntities {
		return nil, errors.Wrap(entities.ErrAccessDenied, "relationship reports require CanViewEntities")
	}
	if err := validateRanges(ranges); err != nil {
		return nil, err
	}

	ids, err := s.visibleEntityIDs(ctx, principal)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*repositories.RelationshipReportRow{}, nil
	}

	rows, err := s.relationships.ReportByType(ctx, ids, ranges)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	return rows, nil
}

// ActivityLogReport aggregates the live audit log by change type, with
// failure counts. Reading the audit log is a distinct privilege from
// reading entities.
func (s *ReportService) ActivityLogReport(ctx context.Context, principal *entities.Principal, ranges []entities.TimeRange) ([]*repositories.ActivityReportRow, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if !principal.Capabilities.CanViewAuditLog {
		return nil, errors.Wrap(entities.ErrAccessDenied, "audit reports require CanViewAuditLog")
	}
	if err := validateRanges(ranges); err != nil {
		return nil, err
	}

	rows, err := s.activities.Report(ctx, ranges)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	return rows, nil
}

// QueryActivityLog retrieves raw audit records, newest first.
func (s *ReportService) QueryActivityLog(ctx context.Context, principal *entities.Principal, filter *repositories.ActivityFilter) ([]*entities.Activity, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if !principal.Capabilities.CanViewAuditLog {
		return nil, errors.Wrap(entities.ErrAccessDenied, "reading the audit log requires CanViewAuditLog")
	}
	if filter == nil {
		filter = &repositories.ActivityFilter{}
	}
	rows, err := s.activities.Query(ctx, filter)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	return rows, nil
}

func (s *ReportService) visibleEntityIDs(ctx context.Context, principal *entities.Principal) ([]string, error) {
	rows, err := s.entitiesRepo.Query(ctx, &repositories.EntityFilter{})
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	authorized, err := s.checker.FilterAuthorized(ctx, principal, ids)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	return authorized, nil
}

func validateRanges(ranges []entities.TimeRange) error {
	for _, r := range ranges {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

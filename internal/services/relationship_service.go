package services

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RelationshipService owns the directed, typed edges between entities.
// Linking is gated by capability and referential existence only: the edges
// themselves are what the access predicate reads, so gating edge creation
// on the predicate would leave no way to grant the first role.
type RelationshipService struct {
	relationships repositories.RelationshipRepository
	entitiesRepo  repositories.EntityRepository
	types         repositories.TypeRepository
	audit         *AuditRecorder
	logger        *zap.Logger
}

// NewRelationshipService creates a new RelationshipService
func NewRelationshipService(
	relationships repositories.RelationshipRepository,
	entitiesRepo repositories.EntityRepository,
	types repositories.TypeRepository,
	audit *AuditRecorder,
	logger *zap.Logger,
) *RelationshipService {
	return &RelationshipService{
		relationships: relationships,
		entitiesRepo:  entitiesRepo,
		types:         types,
		audit:         audit,
		logger:        logger,
	}
}

// LinkEntities creates a directed edge of the given type from parent to
// child. Both endpoints and the edge type must exist; self-links are
// rejected.
func (s *RelationshipService) LinkEntities(ctx context.Context, principal *entities.Principal, parentEntityID, childEntityID, typeID string, metadata entities.Metadata) (string, error) {
	if err := principal.Validate(); err != nil {
		return "", err
	}
	if !principal.Capabilities.CanLinkEntities {
		err := errors.Wrap(entities.ErrAccessDenied, "linking entities requires CanLinkEntities")
		s.audit.RecordFailure(ctx, entities.ChangeTypeLink, parentEntityID, typeID, principal, err)
		return "", err
	}
	if parentEntityID == childEntityID {
		err := errors.Wrap(entities.ErrValidation, "an entity cannot be linked to itself")
		s.audit.RecordFailure(ctx, entities.ChangeTypeLink, parentEntityID, typeID, principal, err)
		return "", err
	}

	if err := s.requireEndpoints(ctx, parentEntityID, childEntityID, typeID); err != nil {
		s.audit.RecordFailure(ctx, entities.ChangeTypeLink, parentEntityID, typeID, principal, err)
		return "", err
	}

	rel := &entities.Relationship{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ParentEntityID: parentEntityID,
		ChildEntityID:  childEntityID,
		TypeID:         typeID,
		Metadata:       metadata.Clone(),
		CreatedBy:      principal.UserID,
		CreatedAt:      nowUTC(),
	}
	if err := rel.Validate(); err != nil {
		s.audit.RecordFailure(ctx, entities.ChangeTypeLink, parentEntityID, typeID, principal, err)
		return "", err
	}

	activity := entities.NewActivity(entities.ChangeTypeLink, principal.UserID)
	activity.EntityID = parentEntityID
	activity.TypeID = typeID
	activity.NewValue = entities.Snapshot(rel)

	if err := s.relationships.Create(ctx, rel, activity); err != nil {
		err = errors.Mark(err, entities.ErrInternal)
		s.audit.RecordFailure(ctx, entities.ChangeTypeLink, parentEntityID, typeID, principal, err)
		return "", err
	}

	s.logger.Info("entities linked",
		zap.String("relationship_id", rel.ID),
		zap.String("parent", parentEntityID),
		zap.String("child", childEntityID),
		zap.String("type_id", typeID),
	)
	return rel.ID, nil
}

// UnlinkEntities removes an edge by id.
func (s *RelationshipService) UnlinkEntities(ctx context.Context, principal *entities.Principal, relationshipID string) error {
	if err := principal.Validate(); err != nil {
		return err
	}
	if !principal.Capabilities.CanLinkEntities {
		err := errors.Wrap(entities.ErrAccessDenied, "unlinking entities requires CanLinkEntities")
		s.audit.RecordFailure(ctx, entities.ChangeTypeUnlink, "", "", principal, err)
		return err
	}

	rel, err := s.relationships.GetByID(ctx, relationshipID)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			s.audit.RecordFailure(ctx, entities.ChangeTypeUnlink, "", "", principal, err)
			return err
		}
		return errors.Mark(err, entities.ErrInternal)
	}

	activity := entities.NewActivity(entities.ChangeTypeUnlink, principal.UserID)
	activity.EntityID = rel.ParentEntityID
	activity.TypeID = rel.TypeID
	activity.OldValue = entities.Snapshot(rel)

	if err := s.relationships.Delete(ctx, relationshipID, activity); err != nil {
		if !errors.Is(err, entities.ErrNotFound) {
			err = errors.Mark(err, entities.ErrInternal)
		}
		s.audit.RecordFailure(ctx, entities.ChangeTypeUnlink, rel.ParentEntityID, rel.TypeID, principal, err)
		return err
	}

	s.logger.Info("entities unlinked",
		zap.String("relationship_id", relationshipID),
		zap.String("parent", rel.ParentEntityID),
		zap.String("child", rel.ChildEntityID),
	)
	return nil
}

// QueryRelationships retrieves edges matching the filter. Edge listing
// requires the link capability; edges carry no masked payload.
func (s *RelationshipService) QueryRelationships(ctx context.Context, principal *entities.Principal, filter *repositories.RelationshipFilter) ([]*entities.Relationship, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if !principal.Capabilities.CanViewEntities {
		return nil, errors.Wrap(entities.ErrAccessDenied, "viewing relationships requires CanViewEntities")
	}
	if filter == nil {
		filter = &repositories.RelationshipFilter{}
	}
	rows, err := s.relationships.Query(ctx, filter)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	return rows, nil
}

func (s *RelationshipService) requireEndpoints(ctx context.Context, parentEntityID, childEntityID, typeID string) error {
	if _, err := s.entitiesRepo.GetByID(ctx, parentEntityID); err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return errors.Wrapf(entities.ErrValidation, "parent entity %s does not exist", parentEntityID)
		}
		return errors.Mark(err, entities.ErrInternal)
	}
	if _, err := s.entitiesRepo.GetByID(ctx, childEntityID); err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return errors.Wrapf(entities.ErrValidation, "child entity %s does not exist", childEntityID)
		}
		return errors.Mark(err, entities.ErrInternal)
	}
	if _, err := s.types.GetByID(ctx, typeID); err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return errors.Wrapf(entities.ErrValidation, "relationship type %s does not exist", typeID)
		}
		return errors.Mark(err, entities.ErrInternal)
	}
	return nil
}

package services

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/arkova/substrate/internal/services/access"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EntityService owns the entity store. Every mutation follows the same
// shape: capability gate, input validation, referential checks, access
// predicate, then a repository transaction that persists the row change
// together with its success activity. Failed attempts are recorded through
// the audit recorder instead.
type EntityService struct {
	entitiesRepo  repositories.EntityRepository
	types         repositories.TypeRepository
	relationships repositories.RelationshipRepository
	checker       access.Checker
	masker        *Masker
	audit         *AuditRecorder
	logger        *zap.Logger
}

// NewEntityService creates a new EntityService
func NewEntityService(
	entitiesRepo repositories.EntityRepository,
	types repositories.TypeRepository,
	relationships repositories.RelationshipRepository,
	checker access.Checker,
	masker *Masker,
	audit *AuditRecorder,
	logger *zap.Logger,
) *EntityService {
	return &EntityService{
		entitiesRepo:  entitiesRepo,
		types:         types,
		relationships: relationships,
		checker:       checker,
		masker:        masker,
		audit:         audit,
		logger:        logger,
	}
}

// AddEntity inserts a new entity. The type must exist, the optional parent
// entity must exist, and (typeId, name) must be free among live rows. The
// storage-layer unique index settles concurrent inserts of the same pair:
// exactly one wins and the loser surfaces as a duplicate failure.
func (s *EntityService) AddEntity(ctx context.Context, principal *entities.Principal, typeID, name string, metadata entities.Metadata, parentEntityID string) (string, error) {
	if err := principal.Validate(); err != nil {
		return "", err
	}
	if !principal.Capabilities.CanInsertEntities {
		err := errors.Wrap(entities.ErrAccessDenied, "inserting entities requires CanInsertEntities")
		s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, "", typeID, principal, err)
		return "", err
	}

	entity := &entities.Entity{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ParentEntityID: parentEntityID,
		TypeID:         typeID,
		Name:           name,
		Metadata:       metadata.Clone(),
		CreatedBy:      principal.UserID,
		CreatedAt:      nowUTC(),
	}
	entity.Materialize()
	if err := entity.Validate(); err != nil {
		s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, "", typeID, principal, err)
		return "", err
	}

	if _, err := s.types.GetByID(ctx, typeID); err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			err = errors.Wrapf(entities.ErrValidation, "type %s does not exist", typeID)
			s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, "", typeID, principal, err)
			return "", err
		}
		return "", errors.Mark(err, entities.ErrInternal)
	}

	if parentEntityID != "" {
		if _, err := s.entitiesRepo.GetByID(ctx, parentEntityID); err != nil {
			if errors.Is(err, entities.ErrNotFound) {
				err = errors.Wrapf(entities.ErrInvalidParent, "parent entity %s does not exist", parentEntityID)
				s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, "", typeID, principal, err)
				return "", err
			}
			return "", errors.Mark(err, entities.ErrInternal)
		}
	}

	// Pre-check for a friendly error; the unique index settles races.
	taken, err := s.entitiesRepo.ExistsByTypeAndName(ctx, typeID, name)
	if err != nil {
		return "", errors.Mark(err, entities.ErrInternal)
	}
	if taken {
		err = errors.Wrapf(entities.ErrDuplicateEntry, "entity %q already exists for type %s", name, typeID)
		s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, "", typeID, principal, err)
		return "", err
	}

	activity := entities.NewActivity(entities.ChangeTypeCreate, principal.UserID)
	activity.EntityID = entity.ID
	activity.TypeID = typeID
	activity.NewValue = entities.Snapshot(entity)

	if err := s.entitiesRepo.Create(ctx, entity, activity); err != nil {
		if !errors.Is(err, entities.ErrDuplicateEntry) {
			err = errors.Mark(err, entities.ErrInternal)
		}
		s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, entity.ID, typeID, principal, err)
		return "", err
	}

	s.logger.Info("entity created",
		zap.String("entity_id", entity.ID),
		zap.String("type_id", typeID),
		zap.String("name", name),
	)
	return entity.ID, nil
}

// GetEntity retrieves one entity, subject to the access predicate and
// masking. A row the principal may not see reads as not found.
func (s *EntityService) GetEntity(ctx context.Context, principal *entities.Principal, id string) (*entities.Entity, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if !principal.Capabilities.CanViewEntities {
		return nil, errors.Wrap(entities.ErrAccessDenied, "viewing entities requires CanViewEntities")
	}
	if id == "" {
		return nil, errors.Wrap(entities.ErrValidation, "entity id is required")
	}

	entity, err := s.entitiesRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed, err := s.checker.CanAccess(ctx, principal, id)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	if !allowed {
		return nil, errors.Wrapf(entities.ErrNotFound, "entity %s not found", id)
	}

	rows := []*entities.Entity{entity}
	if err := s.masker.MaskEntities(ctx, principal, rows); err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	return rows[0], nil
}

// UpdateEntity rewrites the mutable fields of an entity, including its
// type. The access predicate gates which rows a principal may touch; type
// changes and renames re-enter the (typeId, name) uniqueness check against
// the resulting pair. Empty typeID and name leave those fields unchanged.
func (s *EntityService) UpdateEntity(ctx context.Context, principal *entities.Principal, id, typeID, name string, metadata entities.Metadata) error {
	if err := principal.Validate(); err != nil {
		return err
	}
	if !principal.Capabilities.CanUpdateEntities {
		err := errors.Wrap(entities.ErrAccessDenied, "updating entities requires CanUpdateEntities")
		s.audit.RecordFailure(ctx, entities.ChangeTypeUpdate, id, "", principal, err)
		return err
	}

	existing, err := s.entitiesRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			s.audit.RecordFailure(ctx, entities.ChangeTypeUpdate, id, "", principal, err)
			return err
		}
		return errors.Mark(err, entities.ErrInternal)
	}

	allowed, err := s.checker.CanAccess(ctx, principal, id)
	if err != nil {
		return errors.Mark(err, entities.ErrInternal)
	}
	if !allowed {
		err = errors.Wrapf(entities.ErrAccessDenied, "no role on entity %s", id)
		s.audit.RecordFailure(ctx, entities.ChangeTypeUpdate, id, existing.TypeID, principal, err)
		return err
	}

	newTypeID := existing.TypeID
	if typeID != "" && typeID != existing.TypeID {
		if _, err := s.types.GetByID(ctx, typeID); err != nil {
			if errors.Is(err, entities.ErrNotFound) {
				err = errors.Wrapf(entities.ErrValidation, "type %s does not exist", typeID)
				s.audit.RecordFailure(ctx, entities.ChangeTypeUpdate, id, existing.TypeID, principal, err)
				return err
			}
			return errors.Mark(err, entities.ErrInternal)
		}
		newTypeID = typeID
	}
	newName := existing.Name
	if name != "" {
		newName = name
	}

	if newTypeID != existing.TypeID || newName != existing.Name {
		taken, err := s.entitiesRepo.ExistsByTypeAndName(ctx, newTypeID, newName)
		if err != nil {
			return errors.Mark(err, entities.ErrInternal)
		}
		if taken {
			err = errors.Wrapf(entities.ErrDuplicateEntry, "entity %q already exists for type %s", newName, newTypeID)
			s.audit.RecordFailure(ctx, entities.ChangeTypeUpdate, id, existing.TypeID, principal, err)
			return err
		}
	}

	updated := *existing
	updated.TypeID = newTypeID
	updated.Name = newName
	if metadata != nil {
		updated.Metadata = metadata.Clone()
	}
	updated.UpdatedBy = principal.UserID
	updated.UpdatedAt = nowUTC()
	updated.Materialize()

	activity := entities.NewActivity(entities.ChangeTypeUpdate, principal.UserID)
	activity.EntityID = id
	activity.TypeID = newTypeID
	activity.OldValue = entities.Snapshot(existing)
	activity.NewValue = entities.Snapshot(&updated)

	if err := s.entitiesRepo.Update(ctx, &updated, activity); err != nil {
		if !errors.Is(err, entities.ErrDuplicateEntry) && !errors.Is(err, entities.ErrNotFound) {
			err = errors.Mark(err, entities.ErrInternal)
		}
		s.audit.RecordFailure(ctx, entities.ChangeTypeUpdate, id, existing.TypeID, principal, err)
		return err
	}
	return nil
}

// DeleteEntity removes an entity together with its owned attributes and
// outbound relationship edges. Entities still referenced as a child by a
// live edge are protected; callers must unlink first. The parent activity
// plus one sub-step per cascaded edge and one for the attribute cascade
// land in the same transaction as the delete.
func (s *EntityService) DeleteEntity(ctx context.Context, principal *entities.Principal, id string) error {
	if err := principal.Validate(); err != nil {
		return err
	}
	if !principal.Capabilities.CanDeleteEntities {
		err := errors.Wrap(entities.ErrAccessDenied, "deleting entities requires CanDeleteEntities")
		s.audit.RecordFailure(ctx, entities.ChangeTypeDelete, id, "", principal, err)
		return err
	}

	existing, err := s.entitiesRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			s.audit.RecordFailure(ctx, entities.ChangeTypeDelete, id, "", principal, err)
			return err
		}
		return errors.Mark(err, entities.ErrInternal)
	}

	allowed, err := s.checker.CanAccess(ctx, principal, id)
	if err != nil {
		return errors.Mark(err, entities.ErrInternal)
	}
	if !allowed {
		err = errors.Wrapf(entities.ErrAccessDenied, "no role on entity %s", id)
		s.audit.RecordFailure(ctx, entities.ChangeTypeDelete, id, existing.TypeID, principal, err)
		return err
	}

	inbound, err := s.relationships.CountInbound(ctx, id)
	if err != nil {
		return errors.Mark(err, entities.ErrInternal)
	}
	if inbound > 0 {
		err = errors.Wrapf(entities.ErrConflict, "entity %s is referenced by %d inbound relationship(s)", id, inbound)
		s.audit.RecordFailure(ctx, entities.ChangeTypeDelete, id, existing.TypeID, principal, err)
		return err
	}

	outbound, err := s.relationships.Query(ctx, &repositories.RelationshipFilter{ParentEntityID: id})
	if err != nil {
		return errors.Mark(err, entities.ErrInternal)
	}

	parent := entities.NewActivity(entities.ChangeTypeDelete, principal.UserID)
	parent.EntityID = id
	parent.TypeID = existing.TypeID
	parent.OldValue = entities.Snapshot(existing)

	activities := []*entities.Activity{parent}
	for _, edge := range outbound {
		child := parent.Child(entities.ChangeTypeUnlink)
		child.EntityID = edge.ParentEntityID
		child.TypeID = edge.TypeID
		child.OldValue = entities.Snapshot(edge)
		activities = append(activities, child)
	}

	cascade := parent.Child(entities.ChangeTypeAttribute)
	cascade.EntityID = id
	cascade.TypeID = existing.TypeID
	activities = append(activities, cascade)

	if err := s.entitiesRepo.Delete(ctx, id, activities); err != nil {
		if !errors.Is(err, entities.ErrNotFound) {
			err = errors.Mark(err, entities.ErrInternal)
		}
		s.audit.RecordFailure(ctx, entities.ChangeTypeDelete, id, existing.TypeID, principal, err)
		return err
	}

	s.logger.Info("entity deleted",
		zap.String("entity_id", id),
		zap.Int("cascaded_edges", len(outbound)),
	)
	return nil
}

// QueryEntities retrieves the entities matching the filter that the
// principal's roles allow it to see. Unauthorized rows are silently
// dropped from the result, never surfaced as errors, and no audit record
// is written for them. Masking applies to the surviving rows.
func (s *EntityService) QueryEntities(ctx context.Context, principal *entities.Principal, filter *repositories.EntityFilter) ([]*entities.Entity, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if !principal.Capabilities.CanViewEntities {
		return nil, errors.Wrap(entities.ErrAccessDenied, "viewing entities requires CanViewEntities")
	}
	if filter == nil {
		filter = &repositories.EntityFilter{}
	}

	rows, err := s.entitiesRepo.Query(ctx, filter)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	if len(rows) == 0 {
		return rows, nil
	}

	ids := make([]string, len(rows))
	byID := make(map[string]*entities.Entity, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
		byID[row.ID] = row
	}

	authorized, err := s.checker.FilterAuthorized(ctx, principal, ids)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}

	visible := make([]*entities.Entity, 0, len(authorized))
	for _, id := range authorized {
		visible = append(visible, byID[id])
	}

	if err := s.masker.MaskEntities(ctx, principal, visible); err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	return visible, nil
}

package services

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TypeService owns the type registry: rarely-written, hierarchical
// classifications referenced by entities and relationships.
type TypeService struct {
	types  repositories.TypeRepository
	audit  *AuditRecorder
	logger *zap.Logger
}

// NewTypeService creates a new TypeService
func NewTypeService(types repositories.TypeRepository, audit *AuditRecorder, logger *zap.Logger) *TypeService {
	return &TypeService{types: types, audit: audit, logger: logger}
}

// CreateType registers a new type. Name is globally unique; the parent edge
// must reference an existing type and may not introduce a cycle.
// Materialized columns are recomputed from metadata, never taken from the
// caller.
func (s *TypeService) CreateType(ctx context.Context, principal *entities.Principal, name string, metadata entities.Metadata, parentTypeID string) (string, error) {
	if err := principal.Validate(); err != nil {
		return "", err
	}
	if !principal.Capabilities.CanManageTypes {
		err := errors.Wrap(entities.ErrAccessDenied, "creating types requires CanManageTypes")
		s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, "", "", principal, err)
		return "", err
	}
	if name == "" {
		err := errors.Wrap(entities.ErrValidation, "type name is required")
		s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, "", "", principal, err)
		return "", err
	}

	if parentTypeID != "" {
		if err := s.checkParentChain(ctx, parentTypeID); err != nil {
			s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, "", parentTypeID, principal, err)
			return "", err
		}
	}

	// Pre-check for a friendly error; the unique index settles races.
	if _, err := s.types.GetByName(ctx, name); err == nil {
		err = errors.Wrapf(entities.ErrDuplicateEntry, "type name %q already exists", name)
		s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, "", "", principal, err)
		return "", err
	} else if !errors.Is(err, entities.ErrNotFound) {
		return "", errors.Mark(err, entities.ErrInternal)
	}

	typ := &entities.Type{
		ID:           uuid.Must(uuid.NewV7()).String(),
		ParentTypeID: parentTypeID,
		Name:         name,
		Metadata:     metadata.Clone(),
		CreatedBy:    principal.UserID,
		CreatedAt:    nowUTC(),
	}
	typ.Materialize()

	activity := entities.NewActivity(entities.ChangeTypeCreate, principal.UserID)
	activity.TypeID = typ.ID
	activity.NewValue = entities.Snapshot(typ)

	if err := s.types.Create(ctx, typ, activity); err != nil {
		if !errors.Is(err, entities.ErrDuplicateEntry) {
			err = errors.Mark(err, entities.ErrInternal)
		}
		s.audit.RecordFailure(ctx, entities.ChangeTypeCreate, "", typ.ID, principal, err)
		return "", err
	}

	s.logger.Info("type created", zap.String("type_id", typ.ID), zap.String("name", name))
	return typ.ID, nil
}

// GetType retrieves a type by id.
func (s *TypeService) GetType(ctx context.Context, id string) (*entities.Type, error) {
	if id == "" {
		return nil, errors.Wrap(entities.ErrValidation, "type id is required")
	}
	return s.types.GetByID(ctx, id)
}

// FindTypeByName retrieves a type by its unique name.
func (s *TypeService) FindTypeByName(ctx context.Context, name string) (*entities.Type, error) {
	if name == "" {
		return nil, errors.Wrap(entities.ErrValidation, "type name is required")
	}
	return s.types.GetByName(ctx, name)
}

// UpdateTypeMetadata evolves a type's metadata document. Identity and name
// never change; the materialized columns are recomputed.
func (s *TypeService) UpdateTypeMetadata(ctx context.Context, principal *entities.Principal, id string, metadata entities.Metadata) error {
	if err := principal.Validate(); err != nil {
		return err
	}
	if !principal.Capabilities.CanManageTypes {
		err := errors.Wrap(entities.ErrAccessDenied, "updating types requires CanManageTypes")
		s.audit.RecordFailure(ctx, entities.ChangeTypeUpdate, "", id, principal, err)
		return err
	}

	existing, err := s.types.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			s.audit.RecordFailure(ctx, entities.ChangeTypeUpdate, "", id, principal, err)
			return err
		}
		return errors.Mark(err, entities.ErrInternal)
	}

	updated := *existing
	updated.Metadata = metadata.Clone()
	updated.UpdatedBy = principal.UserID
	updated.UpdatedAt = nowUTC()
	updated.Materialize()

	activity := entities.NewActivity(entities.ChangeTypeUpdate, principal.UserID)
	activity.TypeID = id
	activity.OldValue = entities.Snapshot(existing)
	activity.NewValue = entities.Snapshot(&updated)

	if err := s.types.Update(ctx, &updated, activity); err != nil {
		err = errors.Mark(err, entities.ErrInternal)
		s.audit.RecordFailure(ctx, entities.ChangeTypeUpdate, "", id, principal, err)
		return err
	}
	return nil
}

// checkParentChain verifies the parent exists and its ancestor chain is
// cycle-free. The walk is bounded by the visited set, so a corrupted chain
// terminates instead of spinning.
func (s *TypeService) checkParentChain(ctx context.Context, parentTypeID string) error {
	visited := make(map[string]struct{})
	current := parentTypeID
	for current != "" {
		if _, seen := visited[current]; seen {
			return errors.Wrapf(entities.ErrInvalidParent, "type parent chain contains a cycle at %s", current)
		}
		visited[current] = struct{}{}

		typ, err := s.types.GetByID(ctx, current)
		if err != nil {
			if errors.Is(err, entities.ErrNotFound) {
				return errors.Wrapf(entities.ErrInvalidParent, "parent type %s does not exist", current)
			}
			return errors.Mark(err, entities.ErrInternal)
		}
		current = typ.ParentTypeID
	}
	return nil
}

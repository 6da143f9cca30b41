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

// AttributeService owns the key/value extension fields hanging off
// entities. Attributes inherit authorization from their owning entity: the
// access predicate is evaluated against the entity, never the attribute.
type AttributeService struct {
	attributes   repositories.AttributeRepository
	entitiesRepo repositories.EntityRepository
	checker      access.Checker
	masker       *Masker
	audit        *AuditRecorder
	logger       *zap.Logger
}

// NewAttributeService creates a new AttributeService
func NewAttributeService(
	attributes repositories.AttributeRepository,
	entitiesRepo repositories.EntityRepository,
	checker access.Checker,
	masker *Masker,
	audit *AuditRecorder,
	logger *zap.Logger,
) *AttributeService {
	return &AttributeService{
		attributes:   attributes,
		entitiesRepo: entitiesRepo,
		checker:      checker,
		masker:       masker,
		audit:        audit,
		logger:       logger,
	}
}

// SetAttribute attaches a new attribute to an entity. A parent attribute,
// when given, must already belong to the same entity. Duplicate field names
// within an entity are allowed.
func (s *AttributeService) SetAttribute(ctx context.Context, principal *entities.Principal, entityID, parentAttributeID, fieldName, fieldValue string, metadata entities.Metadata) (string, error) {
	if err := principal.Validate(); err != nil {
		return "", err
	}
	if !principal.Capabilities.CanUpdateEntities {
		err := errors.Wrap(entities.ErrAccessDenied, "setting attributes requires CanUpdateEntities")
		s.audit.RecordFailure(ctx, entities.ChangeTypeAttribute, entityID, "", principal, err)
		return "", err
	}

	owner, err := s.entitiesRepo.GetByID(ctx, entityID)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			s.audit.RecordFailure(ctx, entities.ChangeTypeAttribute, entityID, "", principal, err)
			return "", err
		}
		return "", errors.Mark(err, entities.ErrInternal)
	}

	allowed, err := s.checker.CanAccess(ctx, principal, entityID)
	if err != nil {
		return "", errors.Mark(err, entities.ErrInternal)
	}
	if !allowed {
		err = errors.Wrapf(entities.ErrAccessDenied, "no role on entity %s", entityID)
		s.audit.RecordFailure(ctx, entities.ChangeTypeAttribute, entityID, owner.TypeID, principal, err)
		return "", err
	}

	if parentAttributeID != "" {
		parent, err := s.attributes.GetByID(ctx, parentAttributeID)
		if err != nil {
			if errors.Is(err, entities.ErrNotFound) {
				err = errors.Wrapf(entities.ErrInvalidParent, "parent attribute %s does not exist", parentAttributeID)
				s.audit.RecordFailure(ctx, entities.ChangeTypeAttribute, entityID, owner.TypeID, principal, err)
				return "", err
			}
			return "", errors.Mark(err, entities.ErrInternal)
		}
		if parent.EntityID != entityID {
			err = errors.Wrapf(entities.ErrInvalidParent, "parent attribute %s belongs to a different entity", parentAttributeID)
			s.audit.RecordFailure(ctx, entities.ChangeTypeAttribute, entityID, owner.TypeID, principal, err)
			return "", err
		}
	}

	attr := &entities.Attribute{
		ID:                uuid.Must(uuid.NewV7()).String(),
		EntityID:          entityID,
		ParentAttributeID: parentAttributeID,
		FieldName:         fieldName,
		FieldValue:        fieldValue,
		Metadata:          metadata.Clone(),
		CreatedBy:         principal.UserID,
		CreatedAt:         nowUTC(),
	}
	if err := attr.Validate(); err != nil {
		s.audit.RecordFailure(ctx, entities.ChangeTypeAttribute, entityID, owner.TypeID, principal, err)
		return "", err
	}

	activity := entities.NewActivity(entities.ChangeTypeAttribute, principal.UserID)
	activity.EntityID = entityID
	activity.TypeID = owner.TypeID
	activity.NewValue = entities.Snapshot(attr)

	if err := s.attributes.Create(ctx, attr, activity); err != nil {
		err = errors.Mark(err, entities.ErrInternal)
		s.audit.RecordFailure(ctx, entities.ChangeTypeAttribute, entityID, owner.TypeID, principal, err)
		return "", err
	}

	s.logger.Info("attribute set",
		zap.String("attribute_id", attr.ID),
		zap.String("entity_id", entityID),
		zap.String("field_name", fieldName),
	)
	return attr.ID, nil
}

// GetAttributes retrieves all attributes of an entity the principal may
// see, roots first, with masking applied to the values.
func (s *AttributeService) GetAttributes(ctx context.Context, principal *entities.Principal, entityID string) ([]*entities.Attribute, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if !principal.Capabilities.CanViewEntities {
		return nil, errors.Wrap(entities.ErrAccessDenied, "viewing attributes requires CanViewEntities")
	}
	if entityID == "" {
		return nil, errors.Wrap(entities.ErrValidation, "entity id is required")
	}

	if _, err := s.entitiesRepo.GetByID(ctx, entityID); err != nil {
		return nil, err
	}

	allowed, err := s.checker.CanAccess(ctx, principal, entityID)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	if !allowed {
		return nil, errors.Wrapf(entities.ErrNotFound, "entity %s not found", entityID)
	}

	rows, err := s.attributes.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	if err := s.masker.MaskAttributes(ctx, principal, rows); err != nil {
		return nil, errors.Mark(err, entities.ErrInternal)
	}
	return rows, nil
}

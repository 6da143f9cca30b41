package services

import (
	"context"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Table and field references masking rules may target.
const (
	TableEntities       = "entities"
	TableAttributes     = "attributes"
	FieldEntityName     = "name"
	FieldAttributeValue = "field_value"
)

// Masker owns the declarative masking rules and applies them to query
// projections. Masking is independent of the access predicate: a principal
// may see a row yet still receive masked values. Stored data is never
// touched; only the returned copies are transformed.
type Masker struct {
	rules  repositories.MaskingRepository
	audit  *AuditRecorder
	logger *zap.Logger
}

// NewMasker creates a new Masker
func NewMasker(rules repositories.MaskingRepository, audit *AuditRecorder, logger *zap.Logger) *Masker {
	return &Masker{rules: rules, audit: audit, logger: logger}
}

// ApplyMasking declares (or replaces) the display-time transform for one
// stored field.
func (m *Masker) ApplyMasking(ctx context.Context, principal *entities.Principal, tableRef, fieldRef, strategy string) error {
	if err := principal.Validate(); err != nil {
		return err
	}
	if !principal.Capabilities.CanManageTypes {
		err := errors.Wrap(entities.ErrAccessDenied, "masking administration requires CanManageTypes")
		m.audit.RecordFailure(ctx, entities.ChangeTypeMasking, "", "", principal, err)
		return err
	}

	rule := &entities.MaskingRule{
		TableRef:  tableRef,
		FieldRef:  fieldRef,
		Strategy:  strategy,
		CreatedBy: principal.UserID,
		CreatedAt: nowUTC(),
	}
	if err := rule.Validate(); err != nil {
		m.audit.RecordFailure(ctx, entities.ChangeTypeMasking, "", "", principal, err)
		return err
	}

	if err := m.rules.Upsert(ctx, rule); err != nil {
		err = errors.Mark(err, entities.ErrInternal)
		m.audit.RecordFailure(ctx, entities.ChangeTypeMasking, "", "", principal, err)
		return err
	}

	activity := entities.NewActivity(entities.ChangeTypeMasking, principal.UserID)
	activity.NewValue = entities.Snapshot(rule)
	m.audit.Record(ctx, activity)

	m.logger.Info("masking rule applied",
		zap.String("table", tableRef),
		zap.String("field", fieldRef),
		zap.String("strategy", strategy),
	)
	return nil
}

// MaskEntities transforms the projected entity rows in place for principals
// lacking the unmask capability.
func (m *Masker) MaskEntities(ctx context.Context, principal *entities.Principal, rows []*entities.Entity) error {
	if principal.Capabilities.CanUnmaskData || len(rows) == 0 {
		return nil
	}

	rules, err := m.rules.ListByTable(ctx, TableEntities)
	if err != nil {
		return errors.Wrap(err, "failed to load masking rules")
	}
	for _, rule := range rules {
		if rule.FieldRef != FieldEntityName {
			continue
		}
		for _, row := range rows {
			row.Name = rule.Mask(row.Name)
		}
	}
	return nil
}

// MaskAttributes transforms the projected attribute rows in place for
// principals lacking the unmask capability.
func (m *Masker) MaskAttributes(ctx context.Context, principal *entities.Principal, rows []*entities.Attribute) error {
	if principal.Capabilities.CanUnmaskData || len(rows) == 0 {
		return nil
	}

	rules, err := m.rules.ListByTable(ctx, TableAttributes)
	if err != nil {
		return errors.Wrap(err, "failed to load masking rules")
	}
	for _, rule := range rules {
		if rule.FieldRef != FieldAttributeValue {
			continue
		}
		for _, row := range rows {
			row.FieldValue = rule.Mask(row.FieldValue)
		}
	}
	return nil
}

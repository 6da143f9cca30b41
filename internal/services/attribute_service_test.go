package services

import (
	"context"
	"testing"

	"github.com/arkova/substrate/internal/entities"
	"github.com/cockroachdb/errors"
)

func TestAttributeService_SetAndGet(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.mustCreateType(t, "Server")
	id := env.mustAddEntity(t, typeID, "web-01")
	env.grantRole(t, id, "admin")

	attrID, err := env.attrSvc.SetAttribute(context.Background(), admin(), id, "", "region", "eu-west-1", entities.Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nested, err := env.attrSvc.SetAttribute(context.Background(), admin(), id, attrID, "zone", "eu-west-1a", entities.Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := env.attrSvc.GetAttributes(context.Background(), admin(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(rows))
	}
	// Roots come first.
	if rows[0].ID != attrID || rows[1].ID != nested {
		t.Errorf("ordering mismatch: got %q then %q", rows[0].ID, rows[1].ID)
	}
	if rows[1].ParentAttributeID != attrID {
		t.Errorf("nesting lost: got parent %q", rows[1].ParentAttributeID)
	}
}

func TestAttributeService_DuplicateFieldNamesAllowed(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.mustCreateType(t, "Server")
	id := env.mustAddEntity(t, typeID, "web-01")
	env.grantRole(t, id, "admin")

	for range 2 {
		if _, err := env.attrSvc.SetAttribute(context.Background(), admin(), id, "", "tag", "x", entities.Metadata{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	count, err := env.store.Attributes().CountByEntity(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 attributes, got %d", count)
	}
}

func TestAttributeService_ParentMustBelongToSameEntity(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.mustCreateType(t, "Server")
	first := env.mustAddEntity(t, typeID, "web-01")
	second := env.mustAddEntity(t, typeID, "db-01")
	env.grantRole(t, first, "admin")
	env.grantRole(t, second, "admin")

	attrID, err := env.attrSvc.SetAttribute(context.Background(), admin(), first, "", "region", "eu-west-1", entities.Metadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = env.attrSvc.SetAttribute(context.Background(), admin(), second, attrID, "zone", "eu-west-1a", entities.Metadata{})
	if !errors.Is(err, entities.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent, got %v", err)
	}
}

func TestAttributeService_SetRequiresRoleOnEntity(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.mustCreateType(t, "Server")
	id := env.mustAddEntity(t, typeID, "web-01")

	editor := &entities.Principal{UserID: "editor", Capabilities: entities.Capabilities{CanUpdateEntities: true}}
	_, err := env.attrSvc.SetAttribute(context.Background(), editor, id, "", "region", "eu-west-1", entities.Metadata{})
	if !errors.Is(err, entities.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestAttributeService_GetAttributes_MasksValues(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.mustCreateType(t, "Server")
	id := env.mustAddEntity(t, typeID, "web-01")
	env.grantRole(t, id, "admin")
	env.grantRole(t, id, "viewer")

	if _, err := env.attrSvc.SetAttribute(context.Background(), admin(), id, "", "secret", "hunter2!", entities.Metadata{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := env.masker.ApplyMasking(context.Background(), admin(), TableAttributes, FieldAttributeValue, entities.MaskPartialString); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	viewer := &entities.Principal{UserID: "viewer", Capabilities: entities.Capabilities{CanViewEntities: true}}
	rows, err := env.attrSvc.GetAttributes(context.Background(), viewer, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(rows))
	}
	if rows[0].FieldValue != "h***!" {
		t.Errorf("masked value mismatch: got %q", rows[0].FieldValue)
	}
}

package services

import (
	"context"
	"testing"

	"github.com/arkova/substrate/internal/entities"
	"github.com/cockroachdb/errors"
)

func TestMasker_ApplyMasking_RequiresManageTypes(t *testing.T) {
	env := newTestEnv(t)

	viewer := &entities.Principal{UserID: "viewer", Capabilities: entities.Capabilities{CanViewEntities: true}}
	err := env.masker.ApplyMasking(context.Background(), viewer, TableEntities, FieldEntityName, entities.MaskDefault)
	if !errors.Is(err, entities.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestMasker_ApplyMasking_UnknownStrategy(t *testing.T) {
	env := newTestEnv(t)

	err := env.masker.ApplyMasking(context.Background(), admin(), TableEntities, FieldEntityName, "rot13")
	if !errors.Is(err, entities.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestMasker_ApplyMasking_ReplacesExistingRule(t *testing.T) {
	env := newTestEnv(t)

	if err := env.masker.ApplyMasking(context.Background(), admin(), TableEntities, FieldEntityName, entities.MaskDefault); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := env.masker.ApplyMasking(context.Background(), admin(), TableEntities, FieldEntityName, entities.MaskPartialString); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rules, err := env.store.Masking().ListByTable(context.Background(), TableEntities)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected the rule replaced in place, got %d rules", len(rules))
	}
	if rules[0].Strategy != entities.MaskPartialString {
		t.Errorf("strategy mismatch: got %q", rules[0].Strategy)
	}
}

func TestMasker_MaskEntities_UnmaskCapabilityBypasses(t *testing.T) {
	env := newTestEnv(t)
	if err := env.masker.ApplyMasking(context.Background(), admin(), TableEntities, FieldEntityName, entities.MaskDefault); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := []*entities.Entity{{ID: "e1", Name: "classified"}}
	privileged := &entities.Principal{UserID: "priv", Capabilities: entities.Capabilities{CanUnmaskData: true}}
	if err := env.masker.MaskEntities(context.Background(), privileged, rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows[0].Name != "classified" {
		t.Errorf("privileged reader must see the raw value, got %q", rows[0].Name)
	}

	plain := &entities.Principal{UserID: "plain"}
	if err := env.masker.MaskEntities(context.Background(), plain, rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows[0].Name != "********" {
		t.Errorf("default strategy must fully redact, got %q", rows[0].Name)
	}
}

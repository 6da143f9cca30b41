package services

import (
	"context"
	"testing"
	"time"

	"github.com/arkova/substrate/internal/entities"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

func TestTypeService_CreateType(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.typeSvc.CreateType(context.Background(), admin(), "Server",
		entities.Metadata{"roleLevel": 3, "active": false}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := env.typeSvc.GetType(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RoleLevel != 3 {
		t.Errorf("roleLevel not materialized: got %d", got.RoleLevel)
	}
	if got.Active {
		t.Error("active=false in metadata must materialize")
	}
}

func TestTypeService_CreateType_DuplicateName(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateType(t, "Server")

	_, err := env.typeSvc.CreateType(context.Background(), admin(), "Server", entities.Metadata{}, "")
	if !errors.Is(err, entities.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}

	failures := env.failureActivities(t, entities.ChangeTypeCreate)
	if len(failures) != 1 || failures[0].ErrorCode != "DUPLICATE_ENTRY" {
		t.Fatalf("expected one DUPLICATE_ENTRY failure activity, got %d", len(failures))
	}
}

func TestTypeService_CreateType_MissingParent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.typeSvc.CreateType(context.Background(), admin(), "Server", entities.Metadata{}, "no-such-type")
	if !errors.Is(err, entities.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent, got %v", err)
	}
}

func TestTypeService_CreateType_CyclicParentChain(t *testing.T) {
	env := newTestEnv(t)

	// Seed a corrupted chain directly: a <-> b.
	a := uuid.Must(uuid.NewV7()).String()
	b := uuid.Must(uuid.NewV7()).String()
	seed := func(id, parent, name string) {
		err := env.store.Types().Create(context.Background(), &entities.Type{
			ID: id, ParentTypeID: parent, Name: name, Metadata: entities.Metadata{},
			Active: true, CreatedBy: "system", CreatedAt: time.Now().UTC(),
		}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	seed(a, b, "A")
	seed(b, a, "B")

	_, err := env.typeSvc.CreateType(context.Background(), admin(), "C", entities.Metadata{}, a)
	if !errors.Is(err, entities.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent for cyclic chain, got %v", err)
	}
}

func TestTypeService_CreateType_RequiresManageTypes(t *testing.T) {
	env := newTestEnv(t)

	viewer := &entities.Principal{UserID: "viewer", Capabilities: entities.Capabilities{CanViewEntities: true}}
	_, err := env.typeSvc.CreateType(context.Background(), viewer, "Server", entities.Metadata{}, "")
	if !errors.Is(err, entities.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestTypeService_UpdateTypeMetadata(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustCreateType(t, "Server")

	err := env.typeSvc.UpdateTypeMetadata(context.Background(), admin(), id, entities.Metadata{"roleLevel": 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := env.typeSvc.GetType(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RoleLevel != 7 {
		t.Errorf("roleLevel not rematerialized: got %d", got.RoleLevel)
	}
	if !got.Active {
		t.Error("active must default to true when metadata drops the key")
	}
	if got.Name != "Server" {
		t.Errorf("name must never change: got %q", got.Name)
	}
}

func TestTypeService_FindTypeByName(t *testing.T) {
	env := newTestEnv(t)
	id := env.mustCreateType(t, "Server")

	got, err := env.typeSvc.FindTypeByName(context.Background(), "Server")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != id {
		t.Errorf("id mismatch: got %q", got.ID)
	}

	if _, err := env.typeSvc.FindTypeByName(context.Background(), "NoSuch"); !errors.Is(err, entities.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

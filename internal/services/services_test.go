package services

import (
	"context"
	"testing"
	"time"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/arkova/substrate/internal/repositories/memory"
	"github.com/arkova/substrate/internal/services/access"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// testEnv wires the full service layer over the in-memory store, the same
// shape cmd/server assembles over PostgreSQL.
type testEnv struct {
	store     *memory.Store
	audit     *AuditRecorder
	masker    *Masker
	typeSvc   *TypeService
	entitySvc *EntityService
	attrSvc   *AttributeService
	relSvc    *RelationshipService
	reportSvc *ReportService
	roleType  *entities.Type
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	logger := zap.NewNop()
	audit := NewAuditRecorder(store.Activities(), logger)
	checker := access.NewRoleChecker(store.Types(), store.Relationships())
	masker := NewMasker(store.Masking(), audit, logger)

	roleType := &entities.Type{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      entities.RoleTypeName,
		Metadata:  entities.Metadata{},
		Active:    true,
		CreatedBy: "system",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Types().Create(context.Background(), roleType, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return &testEnv{
		store:     store,
		audit:     audit,
		masker:    masker,
		typeSvc:   NewTypeService(store.Types(), audit, logger),
		entitySvc: NewEntityService(store.Entities(), store.Types(), store.Relationships(), checker, masker, audit, logger),
		attrSvc:   NewAttributeService(store.Attributes(), store.Entities(), checker, masker, audit, logger),
		relSvc:    NewRelationshipService(store.Relationships(), store.Entities(), store.Types(), audit, logger),
		reportSvc: NewReportService(store.Entities(), store.Relationships(), store.Activities(), checker, logger),
		roleType:  roleType,
	}
}

func allCaps() entities.Capabilities {
	return entities.Capabilities{
		CanInsertEntities:  true,
		CanUpdateEntities:  true,
		CanDeleteEntities:  true,
		CanViewEntities:    true,
		CanLinkEntities:    true,
		CanManageTypes:     true,
		CanViewAuditLog:    true,
		CanUnmaskData:      true,
		CanArchiveActivity: true,
	}
}

func admin() *entities.Principal {
	return &entities.Principal{UserID: "admin", Capabilities: allCaps()}
}

// grantRole gives userID row access to entityID via a role edge.
func (env *testEnv) grantRole(t *testing.T, entityID, userID string) {
	t.Helper()
	err := env.store.Relationships().Create(context.Background(), &entities.Relationship{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ParentEntityID: entityID,
		ChildEntityID:  userID,
		TypeID:         env.roleType.ID,
		Metadata:       entities.Metadata{},
		CreatedBy:      "system",
		CreatedAt:      time.Now().UTC(),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// mustCreateType registers a type through the service as admin.
func (env *testEnv) mustCreateType(t *testing.T, name string) string {
	t.Helper()
	id, err := env.typeSvc.CreateType(context.Background(), admin(), name, entities.Metadata{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return id
}

// mustAddEntity inserts an entity through the service as admin.
func (env *testEnv) mustAddEntity(t *testing.T, typeID, name string) string {
	t.Helper()
	id, err := env.entitySvc.AddEntity(context.Background(), admin(), typeID, name, entities.Metadata{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return id
}

// failureActivities returns failure records matching the change type.
func (env *testEnv) failureActivities(t *testing.T, changeType string) []*entities.Activity {
	t.Helper()
	rows, err := env.store.Activities().Query(context.Background(), &repositories.ActivityFilter{
		ChangeType: changeType,
		FailedOnly: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rows
}

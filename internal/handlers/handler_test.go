package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories/memory"
	"github.com/arkova/substrate/internal/services"
	"github.com/arkova/substrate/internal/services/access"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type testServer struct {
	store    *memory.Store
	router   *gin.Engine
	roleType *entities.Type
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	logger := zap.NewNop()
	audit := services.NewAuditRecorder(store.Activities(), logger)
	checker := access.NewRoleChecker(store.Types(), store.Relationships())
	masker := services.NewMasker(store.Masking(), audit, logger)

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

	handler := NewHandler(
		services.NewTypeService(store.Types(), audit, logger),
		services.NewEntityService(store.Entities(), store.Types(), store.Relationships(), checker, masker, audit, logger),
		services.NewAttributeService(store.Attributes(), store.Entities(), checker, masker, audit, logger),
		services.NewRelationshipService(store.Relationships(), store.Entities(), store.Types(), audit, logger),
		services.NewArchiveService(store.Activities(), 30*24*time.Hour, true, audit, logger),
		services.NewReportService(store.Entities(), store.Relationships(), store.Activities(), checker, logger),
		masker,
		func() error { return nil },
		logger,
	)

	router := gin.New()
	handler.RegisterRoutes(router, store.Capabilities())

	return &testServer{store: store, router: router, roleType: roleType}
}

func (s *testServer) grantAll(userID string) {
	s.store.GrantCapabilities(userID, entities.Capabilities{
		CanInsertEntities:  true,
		CanUpdateEntities:  true,
		CanDeleteEntities:  true,
		CanViewEntities:    true,
		CanLinkEntities:    true,
		CanManageTypes:     true,
		CanViewAuditLog:    true,
		CanUnmaskData:      true,
		CanArchiveActivity: true,
	})
}

func (s *testServer) grantRole(t *testing.T, entityID, userID string) {
	t.Helper()
	err := s.store.Relationships().Create(context.Background(), &entities.Relationship{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ParentEntityID: entityID,
		ChildEntityID:  userID,
		TypeID:         s.roleType.ID,
		Metadata:       entities.Metadata{},
		CreatedBy:      "system",
		CreatedAt:      time.Now().UTC(),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func (s *testServer) do(t *testing.T, method, path, principal, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if principal != "" {
		req.Header.Set(HeaderPrincipalID, principal)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.ID
}

func TestHandler_Healthz(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestHandler_MissingPrincipalHeader(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/entities", "", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without principal header, got %d", w.Code)
	}
}

func TestHandler_UnknownPrincipalHasNoCapabilities(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/types", "stranger", `{"name":"Server"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for unknown principal, got %d", w.Code)
	}
}

func TestHandler_FindTypeByName(t *testing.T) {
	s := newTestServer(t)
	s.grantAll("admin")

	typeID := decodeID(t, s.do(t, http.MethodPost, "/v1/types", "admin", `{"name":"Server"}`))

	w := s.do(t, http.MethodGet, "/v1/types?name=Server", "admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeID(t, w); got != typeID {
		t.Errorf("expected type %s, got %s", typeID, got)
	}

	w = s.do(t, http.MethodGet, "/v1/types?name=Missing", "admin", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown name, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/v1/types", "admin", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without name parameter, got %d", w.Code)
	}
}

func TestHandler_EntityLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.grantAll("admin")

	w := s.do(t, http.MethodPost, "/v1/types", "admin", `{"name":"Server"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create type: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	typeID := decodeID(t, w)

	w = s.do(t, http.MethodPost, "/v1/entities", "admin", `{"typeId":"`+typeID+`","name":"web-01"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create entity: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	entityID := decodeID(t, w)
	s.grantRole(t, entityID, "admin")

	w = s.do(t, http.MethodGet, "/v1/entities/"+entityID, "admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get entity: expected 200, got %d", w.Code)
	}

	w = s.do(t, http.MethodPut, "/v1/entities/"+entityID, "admin", `{"name":"web-02"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update entity: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	otherType := decodeID(t, s.do(t, http.MethodPost, "/v1/types", "admin", `{"name":"Appliance"}`))
	w = s.do(t, http.MethodPut, "/v1/entities/"+entityID, "admin", `{"typeId":"`+otherType+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("retype entity: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodDelete, "/v1/entities/"+entityID, "admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete entity: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/v1/entities/"+entityID, "admin", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestHandler_DuplicateEntityConflicts(t *testing.T) {
	s := newTestServer(t)
	s.grantAll("admin")

	w := s.do(t, http.MethodPost, "/v1/types", "admin", `{"name":"Server"}`)
	typeID := decodeID(t, w)

	body := `{"typeId":"` + typeID + `","name":"web-01"}`
	if w := s.do(t, http.MethodPost, "/v1/entities", "admin", body); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/v1/entities", "admin", body)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", w.Code)
	}

	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != "DUPLICATE_ENTRY" {
		t.Errorf("expected DUPLICATE_ENTRY code, got %q", resp.Code)
	}
}

func TestHandler_InvalidParentUnprocessable(t *testing.T) {
	s := newTestServer(t)
	s.grantAll("admin")

	w := s.do(t, http.MethodPost, "/v1/types", "admin", `{"name":"Server","parentTypeId":"no-such-type"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for missing parent type, got %d", w.Code)
	}
}

func TestHandler_DeleteWithInboundEdgeConflicts(t *testing.T) {
	s := newTestServer(t)
	s.grantAll("admin")

	typeID := decodeID(t, s.do(t, http.MethodPost, "/v1/types", "admin", `{"name":"Server"}`))
	linkType := decodeID(t, s.do(t, http.MethodPost, "/v1/types", "admin", `{"name":"DependsOn"}`))
	target := decodeID(t, s.do(t, http.MethodPost, "/v1/entities", "admin", `{"typeId":"`+typeID+`","name":"db-01"}`))
	source := decodeID(t, s.do(t, http.MethodPost, "/v1/entities", "admin", `{"typeId":"`+typeID+`","name":"web-01"}`))
	s.grantRole(t, target, "admin")

	w := s.do(t, http.MethodPost, "/v1/relationships", "admin",
		`{"parentEntityId":"`+source+`","childEntityId":"`+target+`","typeId":"`+linkType+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("link: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodDelete, "/v1/entities/"+target, "admin", "")
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for entity with inbound edge, got %d", w.Code)
	}
}

func TestHandler_QueryEntities_SilentFiltering(t *testing.T) {
	s := newTestServer(t)
	s.grantAll("admin")
	s.store.GrantCapabilities("viewer", entities.Capabilities{CanViewEntities: true})

	typeID := decodeID(t, s.do(t, http.MethodPost, "/v1/types", "admin", `{"name":"Server"}`))
	visible := decodeID(t, s.do(t, http.MethodPost, "/v1/entities", "admin", `{"typeId":"`+typeID+`","name":"web-01"}`))
	s.do(t, http.MethodPost, "/v1/entities", "admin", `{"typeId":"`+typeID+`","name":"web-02"}`)
	s.grantRole(t, visible, "viewer")

	w := s.do(t, http.MethodGet, "/v1/entities", "viewer", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Count    int                `json:"count"`
		Entities []*entities.Entity `json:"entities"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 || resp.Entities[0].ID != visible {
		t.Errorf("expected only the authorized row, got %d", resp.Count)
	}
}

func TestHandler_AttributesRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.grantAll("admin")

	typeID := decodeID(t, s.do(t, http.MethodPost, "/v1/types", "admin", `{"name":"Server"}`))
	entityID := decodeID(t, s.do(t, http.MethodPost, "/v1/entities", "admin", `{"typeId":"`+typeID+`","name":"web-01"}`))
	s.grantRole(t, entityID, "admin")

	w := s.do(t, http.MethodPost, "/v1/entities/"+entityID+"/attributes", "admin",
		`{"fieldName":"region","fieldValue":"eu-west-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("set attribute: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/v1/entities/"+entityID+"/attributes", "admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get attributes: expected 200, got %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("expected 1 attribute, got %d", resp.Count)
	}
}

func TestHandler_MaskingAndArchive(t *testing.T) {
	s := newTestServer(t)
	s.grantAll("admin")

	w := s.do(t, http.MethodPost, "/v1/masking", "admin",
		`{"tableRef":"entities","fieldRef":"name","strategy":"email"}`)
	if w.Code != http.StatusOK {
		t.Errorf("apply masking: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/v1/activities/archive", "admin", "")
	if w.Code != http.StatusOK {
		t.Errorf("archive: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Per-call overrides for the retention window and mode.
	w = s.do(t, http.MethodPost, "/v1/activities/archive", "admin",
		`{"retentionDays":1,"archive":false}`)
	if w.Code != http.StatusOK {
		t.Errorf("archive with overrides: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_Reports(t *testing.T) {
	s := newTestServer(t)
	s.grantAll("admin")

	typeID := decodeID(t, s.do(t, http.MethodPost, "/v1/types", "admin", `{"name":"Server"}`))
	entityID := decodeID(t, s.do(t, http.MethodPost, "/v1/entities", "admin", `{"typeId":"`+typeID+`","name":"web-01"}`))
	s.grantRole(t, entityID, "admin")

	for _, path := range []string{"/v1/reports/entities", "/v1/reports/activities", "/v1/reports/relationships"} {
		if w := s.do(t, http.MethodGet, path, "admin", ""); w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d: %s", path, w.Code, w.Body.String())
		}
	}

	// Malformed report window.
	w := s.do(t, http.MethodGet, "/v1/reports/entities?from=yesterday", "admin", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed timestamp, got %d", w.Code)
	}
}

func TestHandler_ActivityLogRequiresCapability(t *testing.T) {
	s := newTestServer(t)
	s.store.GrantCapabilities("viewer", entities.Capabilities{CanViewEntities: true})

	w := s.do(t, http.MethodGet, "/v1/activities", "viewer", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

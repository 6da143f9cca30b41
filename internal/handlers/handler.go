package handlers

import (
	"net/http"
	"time"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/arkova/substrate/internal/services"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the operation surface over HTTP. Authorization decisions
// live in the service layer; handlers only decode, dispatch and map errors.
type Handler struct {
	types         *services.TypeService
	entitySvc     *services.EntityService
	attributes    *services.AttributeService
	relationships *services.RelationshipService
	archive       *services.ArchiveService
	reports       *services.ReportService
	masker        *services.Masker
	health        func() error
	logger        *zap.Logger
}

// NewHandler creates a new Handler
func NewHandler(
	types *services.TypeService,
	entitySvc *services.EntityService,
	attributes *services.AttributeService,
	relationships *services.RelationshipService,
	archive *services.ArchiveService,
	reports *services.ReportService,
	masker *services.Masker,
	health func() error,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		types:         types,
		entitySvc:     entitySvc,
		attributes:    attributes,
		relationships: relationships,
		archive:       archive,
		reports:       reports,
		masker:        masker,
		health:        health,
		logger:        logger,
	}
}

// RegisterRoutes wires every route onto the router. Everything under /v1
// requires a resolved principal.
func (h *Handler) RegisterRoutes(router *gin.Engine, capabilities repositories.CapabilityRepository) {
	router.GET("/healthz", h.Healthz)

	v1 := router.Group("/v1")
	v1.Use(PrincipalMiddleware(capabilities))
	{
		v1.POST("/types", h.CreateType)
		v1.GET("/types", h.FindTypeByName)
		v1.GET("/types/:id", h.GetType)
		v1.PUT("/types/:id/metadata", h.UpdateTypeMetadata)

		v1.POST("/entities", h.AddEntity)
		v1.GET("/entities", h.QueryEntities)
		v1.GET("/entities/:id", h.GetEntity)
		v1.PUT("/entities/:id", h.UpdateEntity)
		v1.DELETE("/entities/:id", h.DeleteEntity)

		v1.GET("/entities/:id/attributes", h.GetAttributes)
		v1.POST("/entities/:id/attributes", h.SetAttribute)

		v1.POST("/relationships", h.LinkEntities)
		v1.GET("/relationships", h.QueryRelationships)
		v1.DELETE("/relationships/:id", h.UnlinkEntities)

		v1.POST("/masking", h.ApplyMasking)

		v1.GET("/activities", h.QueryActivityLog)
		v1.POST("/activities/archive", h.ArchiveOldActivity)

		v1.GET("/reports/entities", h.EntitySummaryReport)
		v1.GET("/reports/activities", h.ActivityLogReport)
		v1.GET("/reports/relationships", h.RelationshipReport)
	}
}

// Healthz reports process and database liveness.
func (h *Handler) Healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createTypeRequest struct {
	Name         string            `json:"name" binding:"required"`
	Metadata     entities.Metadata `json:"metadata"`
	ParentTypeID string            `json:"parentTypeId"`
}

func (h *Handler) CreateType(c *gin.Context) {
	var req createTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(entities.ErrValidation, err.Error()))
		return
	}

	id, err := h.types.CreateType(c.Request.Context(), principalFrom(c), req.Name, req.Metadata, req.ParentTypeID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) FindTypeByName(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		respondError(c, errors.Wrap(entities.ErrValidation, "name query parameter is required"))
		return
	}

	typ, err := h.types.FindTypeByName(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, typ)
}

func (h *Handler) GetType(c *gin.Context) {
	typ, err := h.types.GetType(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, typ)
}

type updateTypeMetadataRequest struct {
	Metadata entities.Metadata `json:"metadata" binding:"required"`
}

func (h *Handler) UpdateTypeMetadata(c *gin.Context) {
	var req updateTypeMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(entities.ErrValidation, err.Error()))
		return
	}

	if err := h.types.UpdateTypeMetadata(c.Request.Context(), principalFrom(c), c.Param("id"), req.Metadata); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type addEntityRequest struct {
	TypeID         string            `json:"typeId" binding:"required"`
	Name           string            `json:"name" binding:"required"`
	Metadata       entities.Metadata `json:"metadata"`
	ParentEntityID string            `json:"parentEntityId"`
}

func (h *Handler) AddEntity(c *gin.Context) {
	var req addEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(entities.ErrValidation, err.Error()))
		return
	}

	id, err := h.entitySvc.AddEntity(c.Request.Context(), principalFrom(c), req.TypeID, req.Name, req.Metadata, req.ParentEntityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) GetEntity(c *gin.Context) {
	entity, err := h.entitySvc.GetEntity(c.Request.Context(), principalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

type updateEntityRequest struct {
	TypeID   string            `json:"typeId"`
	Name     string            `json:"name"`
	Metadata entities.Metadata `json:"metadata"`
}

func (h *Handler) UpdateEntity(c *gin.Context) {
	var req updateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(entities.ErrValidation, err.Error()))
		return
	}

	if err := h.entitySvc.UpdateEntity(c.Request.Context(), principalFrom(c), c.Param("id"), req.TypeID, req.Name, req.Metadata); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handler) DeleteEntity(c *gin.Context) {
	if err := h.entitySvc.DeleteEntity(c.Request.Context(), principalFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) QueryEntities(c *gin.Context) {
	filter := &repositories.EntityFilter{
		EntityID:     c.Query("id"),
		TypeID:       c.Query("typeId"),
		NameContains: c.Query("name"),
	}

	rows, err := h.entitySvc.QueryEntities(c.Request.Context(), principalFrom(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": rows, "count": len(rows)})
}

type setAttributeRequest struct {
	ParentAttributeID string            `json:"parentAttributeId"`
	FieldName         string            `json:"fieldName" binding:"required"`
	FieldValue        string            `json:"fieldValue"`
	Metadata          entities.Metadata `json:"metadata"`
}

func (h *Handler) SetAttribute(c *gin.Context) {
	var req setAttributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(entities.ErrValidation, err.Error()))
		return
	}

	id, err := h.attributes.SetAttribute(c.Request.Context(), principalFrom(c), c.Param("id"),
		req.ParentAttributeID, req.FieldName, req.FieldValue, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) GetAttributes(c *gin.Context) {
	rows, err := h.attributes.GetAttributes(c.Request.Context(), principalFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attributes": rows, "count": len(rows)})
}

type linkEntitiesRequest struct {
	ParentEntityID string            `json:"parentEntityId" binding:"required"`
	ChildEntityID  string            `json:"childEntityId" binding:"required"`
	TypeID         string            `json:"typeId" binding:"required"`
	Metadata       entities.Metadata `json:"metadata"`
}

func (h *Handler) LinkEntities(c *gin.Context) {
	var req linkEntitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(entities.ErrValidation, err.Error()))
		return
	}

	id, err := h.relationships.LinkEntities(c.Request.Context(), principalFrom(c),
		req.ParentEntityID, req.ChildEntityID, req.TypeID, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) UnlinkEntities(c *gin.Context) {
	if err := h.relationships.UnlinkEntities(c.Request.Context(), principalFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlinked"})
}

func (h *Handler) QueryRelationships(c *gin.Context) {
	filter := &repositories.RelationshipFilter{
		ParentEntityID: c.Query("parentEntityId"),
		ChildEntityID:  c.Query("childEntityId"),
		TypeID:         c.Query("typeId"),
	}

	rows, err := h.relationships.QueryRelationships(c.Request.Context(), principalFrom(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationships": rows, "count": len(rows)})
}

type applyMaskingRequest struct {
	TableRef string `json:"tableRef" binding:"required"`
	FieldRef string `json:"fieldRef" binding:"required"`
	Strategy string `json:"strategy" binding:"required"`
}

func (h *Handler) ApplyMasking(c *gin.Context) {
	var req applyMaskingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(entities.ErrValidation, err.Error()))
		return
	}

	if err := h.masker.ApplyMasking(c.Request.Context(), principalFrom(c), req.TableRef, req.FieldRef, req.Strategy); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "applied"})
}

func (h *Handler) QueryActivityLog(c *gin.Context) {
	filter := &repositories.ActivityFilter{
		EntityID:    c.Query("entityId"),
		ChangeType:  c.Query("changeType"),
		PerformedBy: c.Query("performedBy"),
		FailedOnly:  c.Query("failedOnly") == "true",
	}

	rows, err := h.reports.QueryActivityLog(c.Request.Context(), principalFrom(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": rows, "count": len(rows)})
}

type archiveActivityRequest struct {
	RetentionDays int   `json:"retentionDays"`
	Archive       *bool `json:"archive"`
}

// ArchiveOldActivity runs a retention pass. The body may override the
// configured retention window (in days) and archive-vs-delete mode; an
// empty body uses the configured defaults.
func (h *Handler) ArchiveOldActivity(c *gin.Context) {
	var req archiveActivityRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, errors.Wrap(entities.ErrValidation, err.Error()))
			return
		}
	}

	retention := time.Duration(req.RetentionDays) * 24 * time.Hour
	moved, err := h.archive.ArchiveOldActivity(c.Request.Context(), principalFrom(c), retention, req.Archive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

func (h *Handler) EntitySummaryReport(c *gin.Context) {
	ranges, err := parseTimeRanges(c)
	if err != nil {
		respondError(c, err)
		return
	}

	rows, err := h.reports.EntitySummaryByType(c.Request.Context(), principalFrom(c), ranges)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": rows})
}

func (h *Handler) ActivityLogReport(c *gin.Context) {
	ranges, err := parseTimeRanges(c)
	if err != nil {
		respondError(c, err)
		return
	}

	rows, err := h.reports.ActivityLogReport(c.Request.Context(), principalFrom(c), ranges)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": rows})
}

func (h *Handler) RelationshipReport(c *gin.Context) {
	ranges, err := parseTimeRanges(c)
	if err != nil {
		respondError(c, err)
		return
	}

	rows, err := h.reports.RelationshipReport(c.Request.Context(), principalFrom(c), ranges)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": rows})
}

// parseTimeRanges decodes repeated from/to query parameter pairs into
// OR-combined report windows. Values are RFC3339; an empty value leaves
// that side of the window open.
func parseTimeRanges(c *gin.Context) ([]entities.TimeRange, error) {
	froms := c.QueryArray("from")
	tos := c.QueryArray("to")
	n := len(froms)
	if len(tos) > n {
		n = len(tos)
	}

	ranges := make([]entities.TimeRange, 0, n)
	for i := 0; i < n; i++ {
		var r entities.TimeRange
		if i < len(froms) && froms[i] != "" {
			t, err := time.Parse(time.RFC3339, froms[i])
			if err != nil {
				return nil, errors.Wrapf(entities.ErrValidation, "invalid from timestamp %q", froms[i])
			}
			r.From = t
		}
		if i < len(tos) && tos[i] != "" {
			t, err := time.Parse(time.RFC3339, tos[i])
			if err != nil {
				return nil, errors.Wrapf(entities.ErrValidation, "invalid to timestamp %q", tos[i])
			}
			r.To = t
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

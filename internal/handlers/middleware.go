package handlers

import (
	"net/http"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// HeaderPrincipalID carries the id of the entity acting as the caller.
const HeaderPrincipalID = "X-Principal-ID"

// PrincipalMiddleware resolves the caller into a Principal on the request
// context. The capability set is read fresh per request; unknown users get
// an all-false set and fail at the capability gates, not here.
func PrincipalMiddleware(capabilities repositories.CapabilityRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderPrincipalID)
		if userID == "" {
			respondError(c, errors.Wrapf(entities.ErrValidation, "%s header is required", HeaderPrincipalID))
			c.Abort()
			return
		}

		caps, err := capabilities.GetByUser(c.Request.Context(), userID)
		if err != nil {
			respondError(c, errors.Mark(err, entities.ErrInternal))
			c.Abort()
			return
		}

		c.Set(principalKey, &entities.Principal{UserID: userID, Capabilities: caps})
		c.Next()
	}
}

// principalFrom returns the Principal established by the middleware.
func principalFrom(c *gin.Context) *entities.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*entities.Principal); ok {
			return p
		}
	}
	return nil
}

// respondError maps the sentinel error taxonomy onto HTTP statuses in one
// place. Unclassified errors read as internal.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entities.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, entities.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, entities.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, entities.ErrDuplicateEntry), errors.Is(err, entities.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, entities.ErrInvalidParent):
		status = http.StatusUnprocessableEntity
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  entities.ErrorCode(err),
	})
}

package api

import (
	"context"
	"errors"
	"net/http"

	"coursehub/media-api/internal/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type parentRefRequest struct {
	ParentRef string `json:"parent_ref" binding:"required"`
}

// MediaAttach records a weak back-reference from an external parent
// entity (a course video, a reflection). This is the only integration
// point the surrounding CRUD subsystems consume
func (a *API) MediaAttach(c *gin.Context) {
	a.mutateParentRef(c, a.Registry.AttachToParent)
}

// MediaDetach removes a back-reference. Never cascades into the media
// file itself
func (a *API) MediaDetach(c *gin.Context) {
	a.mutateParentRef(c, a.Registry.DetachFromParent)
}

func (a *API) mutateParentRef(c *gin.Context, fn func(ctx context.Context, id, ref string) error) {
	requestID := c.MustGet("requestID").(string)

	mediaID := c.Param("id")
	if mediaID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "No media ID provided",
			"requestID": requestID,
		})
		return
	}

	var req parentRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	err := fn(c.Request.Context(), mediaID, req.ParentRef)
	if err != nil {
		if errors.Is(err, registry.ErrMediaNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":     "Media file not found",
				"requestID": requestID,
			})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to update parent reference", zap.String("id", mediaID), zap.Error(err))
		return
	}

	c.Status(http.StatusOK)
}

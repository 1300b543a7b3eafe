package api

import (
	"errors"
	"net/http"

	"coursehub/media-api/internal/model"
	"coursehub/media-api/internal/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MediaFetch returns the full media record with its processing status
// and, once completed, the technical metadata and delivery URL
func (a *API) MediaFetch(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	mediaID := c.Param("id")
	if mediaID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "No media ID provided",
			"requestID": requestID,
		})
		return
	}

	m, err := a.Registry.Get(c.Request.Context(), mediaID)
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

		zap.L().Error("Failed to fetch media file", zap.String("id", mediaID), zap.Error(err))
		return
	}

	if m.OwnerID != userID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error":     "Media file not found",
			"requestID": requestID,
		})
		return
	}

	a.Registry.IncrementViews(c.Request.Context(), m.ID)

	resp := gin.H{
		"media":    m,
		"playable": m.Status == model.MediaCompleted,
	}

	// A URL alone doesn't mean playable, callers gate on the status
	resp["delivery_url"] = a.Resolver.ResolveDeliveryURL(m)

	if thumb := a.Resolver.ResolveThumbnailURL(m); thumb != "" {
		resp["thumbnail_url"] = thumb
	}

	c.JSON(http.StatusOK, resp)
}

package api

import (
	"errors"
	"net/http"

	"coursehub/media-api/internal/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MediaDelete soft deletes a media file owned by the caller. The row
// and the storage object stick around until the purge reaper runs, and
// parent back-references are left in place for the collaborators that
// own them to clean up
func (a *API) MediaDelete(c *gin.Context) {
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

	err := a.Registry.SoftDelete(c.Request.Context(), userID, mediaID)
	if err != nil {
		if errors.Is(err, registry.ErrMediaNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":     "Media file not found. It either doesn't exist or you don't own it",
				"requestID": requestID,
			})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to soft delete media file", zap.String("id", mediaID), zap.Error(err))
		return
	}

	c.Status(http.StatusNoContent)
}

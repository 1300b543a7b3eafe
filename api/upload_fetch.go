package api

import (
	"errors"
	"net/http"

	"coursehub/media-api/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UploadFetch returns the current session state for status polling
func (a *API) UploadFetch(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)
	sessionKey := c.Param("sessionKey")

	s, err := a.Sessions.Get(c.Request.Context(), sessionKey)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":     "Upload session not found",
				"requestID": requestID,
			})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch upload session", zap.Error(err))
		return
	}

	if s.OwnerID != userID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error":     "Upload session not found",
			"requestID": requestID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": s,
		"percent": s.Percent(),
	})
}

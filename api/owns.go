package api

import (
	"errors"
	"net/http"

	"coursehub/media-api/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ownsSession aborts with 404 unless sessionKey exists and belongs to
// userID. A foreign session looks identical to a missing one on purpose
func (a *API) ownsSession(c *gin.Context, userID, sessionKey, requestID string) bool {
	s, err := a.Sessions.Get(c.Request.Context(), sessionKey)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":     "Upload session not found",
				"requestID": requestID,
			})
			return false
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch upload session", zap.Error(err))
		return false
	}

	if s.OwnerID != userID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error":     "Upload session not found",
			"requestID": requestID,
		})
		return false
	}

	return true
}

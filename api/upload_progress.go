package api

import (
	"errors"
	"net/http"

	"coursehub/media-api/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type uploadProgressRequest struct {
	BytesTransferred int64 `json:"bytes_transferred" binding:"required"`
}

// UploadProgress records client-reported progress. Best effort, only
// used to feed progress bars
func (a *API) UploadProgress(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)
	sessionKey := c.Param("sessionKey")

	if !a.ownsSession(c, userID, sessionKey, requestID) {
		return
	}

	var req uploadProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BytesTransferred < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	s, err := a.Sessions.AcknowledgeProgress(c.Request.Context(), sessionKey, req.BytesTransferred)
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

		zap.L().Error("Failed to acknowledge progress", zap.Error(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  s.Status,
		"percent": s.Percent(),
	})
}

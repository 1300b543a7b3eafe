package api

import (
	"errors"
	"net/http"

	"coursehub/media-api/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type uploadCompleteRequest struct {
	Checksum string `json:"checksum"`
}

// UploadComplete verifies the transferred object against storage and
// finalizes the session. Clients may retry this freely, completion is
// idempotent per session key
func (a *API) UploadComplete(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)
	sessionKey := c.Param("sessionKey")

	if !a.ownsSession(c, userID, sessionKey, requestID) {
		return
	}

	var req uploadCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	media, err := a.Sessions.Complete(c.Request.Context(), sessionKey, req.Checksum)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":     "Upload session not found",
				"requestID": requestID,
			})
		case errors.Is(err, session.ErrSessionExpired):
			c.AbortWithStatusJSON(http.StatusGone, gin.H{
				"error":     "Upload session expired",
				"requestID": requestID,
			})
		case errors.Is(err, session.ErrIntegrityMismatch), errors.Is(err, session.ErrSessionFailed):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":     err.Error(),
				"requestID": requestID,
			})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to complete upload", zap.Error(err))
		}
		return
	}

	// New pending work exists, poke an idle worker
	a.Pipeline.Wake()

	c.JSON(http.StatusOK, gin.H{
		"media_file_id": media.ID,
		"status":        media.Status,
	})
}

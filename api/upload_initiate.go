package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type uploadInitiateRequest struct {
	FileName    string `json:"filename" binding:"required"`
	ByteSize    int64  `json:"byte_size" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

func (a *API) UploadInitiate(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	var req uploadInitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	s, auth, code, err := a.Sessions.Initiate(c.Request.Context(), userID, req.FileName, req.ByteSize, req.ContentType)
	if err != nil {
		if code == 0 {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to initiate upload", zap.Error(err))
			return
		}

		c.AbortWithStatusJSON(code, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_key":        s.SessionKey,
		"upload_destination": auth,
		"expires_at":         s.ExpiresAt,
	})
}

package api

import (
	"net/http"
	"slices"
	"strconv"

	"coursehub/media-api/internal/model"
	"coursehub/media-api/internal/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	validCategories = []string{model.CategoryVideo, model.CategoryAudio, model.CategoryImage, model.CategoryDocument}
	validStatuses   = []string{model.MediaPending, model.MediaProcessing, model.MediaCompleted, model.MediaFailed}
)

func (a *API) MediaFetchBulk(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	pageStr := c.DefaultQuery("page", "0")
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Page is not a valid integer",
			"requestID": requestID,
		})
		return
	}

	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Limit must be between 1 and 100",
			"requestID": requestID,
		})
		return
	}

	category := c.Query("category")
	if category != "" && !slices.Contains(validCategories, category) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid category filter",
			"requestID": requestID,
		})
		return
	}

	status := c.Query("status")
	if status != "" && !slices.Contains(validStatuses, status) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid status filter",
			"requestID": requestID,
		})
		return
	}

	entries, err := a.Registry.ListByOwner(c.Request.Context(), userID, registry.ListFilters{
		Category: category,
		Status:   status,
		Search:   c.Query("search"),
		Limit:    limit,
		Offset:   page * limit,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to list media files", zap.Error(err))
		return
	}

	c.JSON(http.StatusOK, entries)
}

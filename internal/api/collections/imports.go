package collections

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/collection-hub/collection-hub/internal/api/apierr"
	"github.com/collection-hub/collection-hub/internal/db/repositories"
	"github.com/collection-hub/collection-hub/internal/services"
)

// ImportStatusHandler returns the live upstream state of an import task
// Implements: GET /api/v3/imports/collections/:task_id/
func ImportStatusHandler(tracker *services.ImportTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := tracker.Status(c.Request.Context(), c.Param("task_id"))
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
	}
}

// ListImportsHandler lists locally recorded import tasks, newest first
// Implements: GET /api/v3/imports/collections/?namespace=&limit=&offset=
func ListImportsHandler(tracker *services.ImportTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit < 1 || limit > 100 {
			limit = 20 // Default to 20, max 100
		}
		offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if err != nil || offset < 0 {
			offset = 0
		}

		records, total, err := tracker.List(c.Request.Context(), repositories.ImportFilter{
			Namespace: c.Query("namespace"),
			Limit:     limit,
			Offset:    offset,
		})
		if err != nil {
			apierr.Respond(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"meta": gin.H{"count": total},
			"data": records,
			"pagination": gin.H{
				"limit":  limit,
				"offset": offset,
			},
		})
	}
}

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/collection-hub/collection-hub/internal/telemetry"
)

// noRouteLabel is the path label for requests that matched no route (404/405),
// so arbitrary URLs cannot inflate label cardinality.
const noRouteLabel = "<no-route>"

// MetricsMiddleware records http_requests_total and http_request_duration_seconds
// for every request, labelled by the matched route template
// (e.g. /api/v3/imports/collections/:task_id/) rather than the raw URL.
// Paths listed in skip (liveness and readiness checks) are not recorded.
//
// Register after gin.Recovery() and RequestIDMiddleware so the final status is observed.
func MetricsMiddleware(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRouteLabel
		}
		if _, ok := skipped[path]; ok {
			return
		}

		method := c.Request.Method
		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

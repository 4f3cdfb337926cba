// audit.go provides Gin middleware that ships successful write operations
// (collection uploads and namespace mutations) to the configured audit shippers.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/collection-hub/collection-hub/internal/audit"
)

// AuditResourceIDKey lets a handler name the resource it acted on
// (an import task id or namespace name).
const AuditResourceIDKey = "audit_resource_id"

// AuditMiddleware ships an entry for every successful non-GET request.
// Reads, preflights and failed requests are not audited.
func AuditMiddleware(shipper audit.Shipper) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if shipper == nil {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		status := c.Writer.Status()
		if status >= http.StatusBadRequest {
			return
		}

		resourceType, action := classifyAuditAction(c.Request.Method, c.Request.URL.Path)

		entry := &audit.LogEntry{
			Timestamp:    time.Now().UTC(),
			Action:       action,
			UserID:       c.GetString(UserIDKey),
			Username:     c.GetString(UsernameKey),
			ResourceType: resourceType,
			ResourceID:   c.GetString(AuditResourceIDKey),
			IPAddress:    c.ClientIP(),
			AuthMethod:   c.GetString(AuthMethodKey),
			StatusCode:   status,
			Metadata: map[string]any{
				"method":     c.Request.Method,
				"path":       c.Request.URL.Path,
				"request_id": c.GetString(RequestIDKey),
			},
		}

		audit.Dispatch(shipper, entry)
	}
}

// classifyAuditAction derives the resource type and a dotted action name
// from the request path.
func classifyAuditAction(method, path string) (resourceType, action string) {
	switch {
	case strings.Contains(path, "/artifacts/collections"):
		return "collection", "collection.uploaded"
	case strings.HasPrefix(path, "/api/v3/collections/"):
		return "collection", "collection." + auditVerb(method)
	case strings.Contains(path, "/namespaces"):
		return "namespace", "namespace." + auditVerb(method)
	}
	return "", method + " " + path
}

func auditVerb(method string) string {
	switch method {
	case http.MethodPost:
		return "created"
	case http.MethodPut, http.MethodPatch:
		return "updated"
	case http.MethodDelete:
		return "deleted"
	}
	return strings.ToLower(method)
}

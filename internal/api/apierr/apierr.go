// Package apierr maps service and repository errors onto HTTP responses so
// every handler reports failures in the same shape:
//
//	400 {"errors": {"<field>": ["<message>"]}}   validation class
//	403 / 404 / 409 / 502 / 500 {"error": "<message>"}
package apierr

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/collection-hub/collection-hub/internal/db/repositories"
	"github.com/collection-hub/collection-hub/internal/services"
)

// FieldErrors is the body of a 400 response: messages keyed by request field.
type FieldErrors map[string][]string

// Invalid aborts with a 400 carrying one message for field.
func Invalid(c *gin.Context, field, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": FieldErrors{field: {message}}})
}

// InvalidFields aborts with a 400 carrying all of errs.
func InvalidFields(c *gin.Context, errs FieldErrors) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": errs})
}

// Respond classifies err and aborts the request with the matching status.
func Respond(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, gin.H) {
	var (
		validationErr *services.ValidationError
		upstreamErr   *services.UpstreamError
		statusErr     *services.UnexpectedStatusError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, gin.H{"errors": FieldErrors{validationErr.Field: {validationErr.Error()}}}
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, gin.H{"error": err.Error()}
	case errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, services.ErrArtifactNotFound),
		errors.Is(err, services.ErrCollectionNotFound),
		errors.Is(err, repositories.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	case errors.Is(err, repositories.ErrNamespaceExists):
		return http.StatusConflict, gin.H{"error": err.Error()}
	case errors.As(err, &statusErr):
		return http.StatusBadGateway, gin.H{
			"error":       fmt.Sprintf("Unexpected upstream status code %d", statusErr.StatusCode),
			"status_code": statusErr.StatusCode,
		}
	case errors.As(err, &upstreamErr):
		body := gin.H{"error": fmt.Sprintf("Upstream %s failed", upstreamErr.Op)}
		if upstreamErr.StatusCode != 0 {
			body["status_code"] = upstreamErr.StatusCode
		}
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, gin.H{"error": "Internal server error"}
	}
}

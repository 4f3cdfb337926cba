package collections

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/collection-hub/collection-hub/internal/api/apierr"
	"github.com/collection-hub/collection-hub/internal/middleware"
	"github.com/collection-hub/collection-hub/internal/services"
)

// UpdateCollectionRequest is the body of a collection update
type UpdateCollectionRequest struct {
	Deprecated bool `json:"deprecated"`
}

// @Summary      Get collection
// @Description  Returns the upstream representation of a collection.
// @Tags         Collections
// @Security     Bearer
// @Produce      json
// @Param        namespace  path  string  true  "Namespace name"
// @Param        name       path  string  true  "Collection name"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Collection not found"
// @Failure      502  {object}  map[string]interface{}  "Upstream failure"
// @Router       /api/v3/collections/{namespace}/{name}/ [get]
// CollectionHandler proxies a collection detail lookup
// GET /api/v3/collections/:namespace/:name/
func CollectionHandler(catalog *services.CollectionCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := catalog.Get(c.Request.Context(), c.Param("namespace"), c.Param("name"))
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
	}
}

// @Summary      Get collection version
// @Description  Returns the upstream representation of a collection version. download_url points at this hub's download proxy.
// @Tags         Collections
// @Security     Bearer
// @Produce      json
// @Param        namespace  path  string  true  "Namespace name"
// @Param        name       path  string  true  "Collection name"
// @Param        version    path  string  true  "Version"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Version not found"
// @Failure      502  {object}  map[string]interface{}  "Upstream failure"
// @Router       /api/v3/collections/{namespace}/{name}/versions/{version}/ [get]
// CollectionVersionHandler proxies a collection version lookup
// GET /api/v3/collections/:namespace/:name/versions/:version/
func CollectionVersionHandler(catalog *services.CollectionCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := catalog.GetVersion(c.Request.Context(), c.Param("namespace"), c.Param("name"), c.Param("version"))
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
	}
}

// @Summary      Update collection
// @Description  Sets the deprecation flag of a collection. Requires namespace ownership or the privileged group.
// @Tags         Collections
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        namespace  path  string                   true  "Namespace name"
// @Param        name       path  string                   true  "Collection name"
// @Param        body       body  UpdateCollectionRequest  true  "Deprecation flag"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Malformed body"
// @Failure      403  {object}  map[string]interface{}  "Not an owner"
// @Failure      404  {object}  map[string]interface{}  "Namespace or collection not found"
// @Failure      502  {object}  map[string]interface{}  "Upstream failure"
// @Router       /api/v3/collections/{namespace}/{name}/ [put]
// UpdateCollectionHandler updates a collection upstream
// PUT /api/v3/collections/:namespace/:name/
func UpdateCollectionHandler(catalog *services.CollectionCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateCollectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Invalid(c, "body", "request body must be a JSON object")
			return
		}

		namespace, name := c.Param("namespace"), c.Param("name")
		body, err := catalog.SetDeprecated(c.Request.Context(), middleware.CurrentUser(c), namespace, name, req.Deprecated)
		if err != nil {
			apierr.Respond(c, err)
			return
		}

		c.Set(middleware.AuditResourceIDKey, namespace+"/"+name)
		c.Data(http.StatusOK, "application/json", body)
	}
}

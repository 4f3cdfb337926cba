// Package namespaces implements namespace management endpoints. Creation and
// deletion are reserved for the privileged group; owners (members of one of a
// namespace's groups) may update descriptive fields and links.
package namespaces

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"

	"github.com/collection-hub/collection-hub/internal/api/apierr"
	"github.com/collection-hub/collection-hub/internal/db/models"
	"github.com/collection-hub/collection-hub/internal/db/repositories"
	"github.com/collection-hub/collection-hub/internal/middleware"
	"github.com/collection-hub/collection-hub/internal/validation"
)

// Store is the persistence the handlers need
type Store interface {
	Create(ctx context.Context, ns *models.Namespace) error
	GetByName(ctx context.Context, name string) (*models.Namespace, error)
	List(ctx context.Context, filter repositories.NamespaceFilter) ([]*models.Namespace, error)
	Update(ctx context.Context, ns *models.Namespace) error
	SetLinks(ctx context.Context, namespaceID string, links []models.NamespaceLink) error
	Delete(ctx context.Context, namespaceID string) error
}

// Guard answers the ownership questions for namespace management
type Guard interface {
	IsPrivileged(user *models.User) bool
	IsOwner(user *models.User, ns *models.Namespace) bool
}

// Handlers handles namespace endpoints
type Handlers struct {
	store Store
	guard Guard
}

// NewHandlers creates namespace handlers
func NewHandlers(store Store, guard Guard) *Handlers {
	return &Handlers{store: store, guard: guard}
}

// LinkRequest is one named link in a namespace request
type LinkRequest struct {
	Name string `json:"name" binding:"required,max=32"`
	URL  string `json:"url" binding:"required,max=256"`
}

// NamespaceRequest is the body of create and update requests
type NamespaceRequest struct {
	Name        string        `json:"name"`
	Company     string        `json:"company" binding:"max=64"`
	Email       string        `json:"email" binding:"omitempty,email,max=256"`
	AvatarURL   string        `json:"avatar_url" binding:"omitempty,max=256"`
	Description string        `json:"description" binding:"max=256"`
	Resources   string        `json:"resources"`
	Groups      []string      `json:"groups" binding:"dive,required,max=150"`
	Links       []LinkRequest `json:"links" binding:"dive"`
}

// LinksRequest is the body of a link replacement
type LinksRequest struct {
	Links []LinkRequest `json:"links" binding:"dive"`
}

// @Summary      Create namespace
// @Tags         Namespaces
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  models.Namespace
// @Failure      400  {object}  map[string]interface{}  "Validation errors keyed by field"
// @Failure      403  {object}  map[string]interface{}  "Caller is not privileged"
// @Router       /api/v3/namespaces/ [post]
// CreateHandler creates a namespace
// POST /api/v3/namespaces/
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.guard.IsPrivileged(middleware.CurrentUser(c)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only privileged users may create namespaces"})
			return
		}

		var req NamespaceRequest
		if !bindRequest(c, &req) {
			return
		}
		if err := validation.ValidateName(req.Name); err != nil {
			apierr.Invalid(c, "name", err.Error())
			return
		}
		if !validLinks(c, req.Links) {
			return
		}

		ns := &models.Namespace{Name: req.Name}
		applyFields(ns, &req)
		ns.Groups = pq.StringArray(req.Groups)
		ns.Links = toLinks(req.Links)

		if err := h.store.Create(c.Request.Context(), ns); err != nil {
			apierr.Respond(c, err)
			return
		}

		c.Set(middleware.AuditResourceIDKey, ns.Name)
		c.JSON(http.StatusCreated, ns)
	}
}

// GetHandler returns one namespace with its links
// GET /api/v3/namespaces/:name/
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ns, ok := h.load(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, ns)
	}
}

// ListHandler lists the caller's namespaces. Privileged callers see all of them.
// GET /api/v3/namespaces/?limit=&offset=
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit < 1 || limit > 100 {
			limit = 20
		}
		offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if err != nil || offset < 0 {
			offset = 0
		}

		user := middleware.CurrentUser(c)
		filter := repositories.NamespaceFilter{Limit: limit, Offset: offset}
		switch {
		case h.guard.IsPrivileged(user):
			filter.All = true
		case user == nil || len(user.Groups) == 0:
			c.JSON(http.StatusOK, gin.H{"data": []*models.Namespace{}, "pagination": gin.H{"limit": limit, "offset": offset}})
			return
		default:
			filter.Groups = user.Groups
		}

		list, err := h.store.List(c.Request.Context(), filter)
		if err != nil {
			apierr.Respond(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"data":       list,
			"pagination": gin.H{"limit": limit, "offset": offset},
		})
	}
}

// @Summary      Update namespace
// @Description  Replaces the descriptive fields and, when links are given, the full link set. The name cannot change; groups can only be changed by privileged users.
// @Tags         Namespaces
// @Security     Bearer
// @Router       /api/v3/namespaces/{name}/ [put]
// UpdateHandler updates a namespace
// PUT /api/v3/namespaces/:name/
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ns, ok := h.load(c)
		if !ok {
			return
		}

		user := middleware.CurrentUser(c)
		privileged := h.guard.IsPrivileged(user)
		if !privileged && !h.guard.IsOwner(user, ns) {
			c.JSON(http.StatusForbidden, gin.H{"error": "You do not own this namespace"})
			return
		}

		var req NamespaceRequest
		if !bindRequest(c, &req) {
			return
		}
		if req.Name != "" && req.Name != ns.Name {
			apierr.Invalid(c, "name", "namespace name is read-only")
			return
		}
		if !validLinks(c, req.Links) {
			return
		}

		applyFields(ns, &req)
		if privileged && req.Groups != nil {
			ns.Groups = pq.StringArray(req.Groups)
		}
		if req.Links != nil {
			ns.Links = toLinks(req.Links)
		}

		if err := h.store.Update(c.Request.Context(), ns); err != nil {
			apierr.Respond(c, err)
			return
		}

		c.Set(middleware.AuditResourceIDKey, ns.Name)
		c.JSON(http.StatusOK, ns)
	}
}

// SetLinksHandler replaces only the link set
// PUT /api/v3/namespaces/:name/links/
func (h *Handlers) SetLinksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ns, ok := h.load(c)
		if !ok {
			return
		}

		user := middleware.CurrentUser(c)
		if !h.guard.IsPrivileged(user) && !h.guard.IsOwner(user, ns) {
			c.JSON(http.StatusForbidden, gin.H{"error": "You do not own this namespace"})
			return
		}

		var req LinksRequest
		if !bindRequest(c, &req) {
			return
		}
		if !validLinks(c, req.Links) {
			return
		}

		links := toLinks(req.Links)
		if err := h.store.SetLinks(c.Request.Context(), ns.ID, links); err != nil {
			apierr.Respond(c, err)
			return
		}

		c.Set(middleware.AuditResourceIDKey, ns.Name)
		c.JSON(http.StatusOK, gin.H{"links": links})
	}
}

// DeleteHandler deletes a namespace with its links and import records
// DELETE /api/v3/namespaces/:name/
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.guard.IsPrivileged(middleware.CurrentUser(c)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only privileged users may delete namespaces"})
			return
		}

		ns, ok := h.load(c)
		if !ok {
			return
		}

		if err := h.store.Delete(c.Request.Context(), ns.ID); err != nil {
			apierr.Respond(c, err)
			return
		}

		c.Set(middleware.AuditResourceIDKey, ns.Name)
		c.Status(http.StatusNoContent)
	}
}

// load resolves the :name path parameter, writing a 404 when it is unknown.
func (h *Handlers) load(c *gin.Context) (*models.Namespace, bool) {
	name := c.Param("name")
	ns, err := h.store.GetByName(c.Request.Context(), name)
	if err != nil {
		apierr.Respond(c, err)
		return nil, false
	}
	if ns == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Namespace not found"})
		return nil, false
	}
	return ns, true
}

// bindRequest decodes the JSON body, reporting binding failures per field.
func bindRequest(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := apierr.FieldErrors{}
		for _, fe := range verrs {
			field := fe.Namespace()
			fields[field] = append(fields[field], "failed on the '"+fe.Tag()+"' rule")
		}
		apierr.InvalidFields(c, fields)
		return false
	}

	apierr.Invalid(c, "body", "request body must be valid JSON")
	return false
}

func validLinks(c *gin.Context, links []LinkRequest) bool {
	for i, l := range links {
		u, err := url.Parse(l.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			apierr.Invalid(c, "links["+strconv.Itoa(i)+"].url", "must be an absolute http or https URL")
			return false
		}
	}
	return true
}

func applyFields(ns *models.Namespace, req *NamespaceRequest) {
	ns.Company = req.Company
	ns.Email = req.Email
	ns.AvatarURL = req.AvatarURL
	ns.Description = req.Description
	ns.Resources = req.Resources
}

func toLinks(in []LinkRequest) []models.NamespaceLink {
	links := make([]models.NamespaceLink, 0, len(in))
	for _, l := range in {
		links = append(links, models.NamespaceLink{Name: l.Name, URL: l.URL})
	}
	return links
}

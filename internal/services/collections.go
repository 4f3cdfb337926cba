package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/collection-hub/collection-hub/internal/db/models"
	"github.com/collection-hub/collection-hub/internal/upstream"
)

// CollectionSource is the upstream side of collection lookups and updates.
type CollectionSource interface {
	CollectionURL(namespace, name string) string
	CollectionVersionURL(namespace, name, version string) string
	GetCollection(ctx context.Context, namespace, name string) (json.RawMessage, error)
	GetCollectionVersion(ctx context.Context, namespace, name, version string) (json.RawMessage, error)
	SetDeprecated(ctx context.Context, namespace, name string, deprecated bool) (json.RawMessage, error)
}

// CollectionCatalog proxies collection detail reads and the deprecation flag
// to upstream. Writes are checked against namespace ownership first.
type CollectionCatalog struct {
	namespaces NamespaceResolver
	guard      AccessGuard
	upstream   CollectionSource
	publicURL  string
}

// NewCollectionCatalog creates a catalog. publicURL is the hub's externally
// visible base URL; version download links are rewritten to point at it.
func NewCollectionCatalog(namespaces NamespaceResolver, guard AccessGuard, up CollectionSource, publicURL string) *CollectionCatalog {
	return &CollectionCatalog{
		namespaces: namespaces,
		guard:      guard,
		upstream:   up,
		publicURL:  strings.TrimRight(publicURL, "/"),
	}
}

// Get returns upstream's representation of a collection.
func (c *CollectionCatalog) Get(ctx context.Context, namespace, name string) (json.RawMessage, error) {
	body, err := c.upstream.GetCollection(ctx, namespace, name)
	if err != nil {
		return nil, c.lookupError(err, "collection lookup", c.upstream.CollectionURL(namespace, name))
	}
	return body, nil
}

// GetVersion returns upstream's representation of one collection version with
// download_url pointing at the hub's download proxy instead of the content host.
func (c *CollectionCatalog) GetVersion(ctx context.Context, namespace, name, version string) (json.RawMessage, error) {
	versionURL := c.upstream.CollectionVersionURL(namespace, name, version)
	body, err := c.upstream.GetCollectionVersion(ctx, namespace, name, version)
	if err != nil {
		return nil, c.lookupError(err, "collection version lookup", versionURL)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, newUpstreamError("collection version lookup", versionURL, err)
	}
	raw, ok := fields["download_url"]
	if !ok {
		return body, nil
	}

	var upstreamURL string
	if err := json.Unmarshal(raw, &upstreamURL); err != nil || upstreamURL == "" {
		return body, nil
	}
	rewritten, err := json.Marshal(c.DownloadURL(upstreamURL))
	if err != nil {
		return nil, err
	}
	fields["download_url"] = rewritten
	return json.Marshal(fields)
}

// DownloadURL maps an upstream artifact URL onto the hub's download route,
// keeping the artifact filename and any query string.
func (c *CollectionCatalog) DownloadURL(upstreamURL string) string {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return upstreamURL
	}
	filename := path.Base(u.Path)
	if filename == "/" || filename == "." {
		return upstreamURL
	}
	out := c.publicURL + "/download/" + url.PathEscape(filename)
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// SetDeprecated flips the deprecation flag of a collection. The namespace
// must exist and the caller must own it or be privileged.
func (c *CollectionCatalog) SetDeprecated(ctx context.Context, user *models.User, namespace, name string, deprecated bool) (json.RawMessage, error) {
	ns, err := c.namespaces.GetByName(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve namespace %q: %w", namespace, err)
	}
	if ns == nil {
		return nil, fmt.Errorf("%w: namespace %q does not exist", ErrCollectionNotFound, namespace)
	}
	if err := c.guard.CanPublish(user, ns); err != nil {
		return nil, fmt.Errorf("%w: cannot modify collections in namespace %q", ErrForbidden, ns.Name)
	}

	body, err := c.upstream.SetDeprecated(ctx, namespace, name, deprecated)
	if err != nil {
		return nil, c.lookupError(err, "collection update", c.upstream.CollectionURL(namespace, name))
	}
	return body, nil
}

func (c *CollectionCatalog) lookupError(err error, op, target string) error {
	if errors.Is(err, upstream.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, target)
	}
	return newUpstreamError(op, target, err)
}

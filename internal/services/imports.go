package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/collection-hub/collection-hub/internal/db/models"
	"github.com/collection-hub/collection-hub/internal/db/repositories"
	"github.com/collection-hub/collection-hub/internal/upstream"
)

// ImportLister lists local import records.
type ImportLister interface {
	List(ctx context.Context, filter repositories.ImportFilter) ([]*models.CollectionImport, int, error)
}

// ImportStatusSource answers live import status queries.
type ImportStatusSource interface {
	ImportURL(taskID string) string
	GetImport(ctx context.Context, taskID string) (json.RawMessage, error)
}

// ImportTracker answers questions about import tasks. Status always comes
// live from upstream; local records only back the listing.
type ImportTracker struct {
	records  ImportLister
	upstream ImportStatusSource
}

// NewImportTracker creates an import tracker
func NewImportTracker(records ImportLister, up ImportStatusSource) *ImportTracker {
	return &ImportTracker{records: records, upstream: up}
}

// Status returns upstream's current representation of the task.
func (t *ImportTracker) Status(ctx context.Context, taskID string) (json.RawMessage, error) {
	if taskID == "" {
		return nil, ErrTaskNotFound
	}

	body, err := t.upstream.GetImport(ctx, taskID)
	if errors.Is(err, upstream.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, newUpstreamError("import lookup", t.upstream.ImportURL(taskID), err)
	}
	return body, nil
}

// List returns local import records, newest task identifier first, and the
// total number of records matching the filter.
func (t *ImportTracker) List(ctx context.Context, filter repositories.ImportFilter) ([]*models.CollectionImport, int, error) {
	records, total, err := t.records.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list import records: %w", err)
	}
	return records, total, nil
}

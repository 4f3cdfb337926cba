// collection_import_repository.go implements CollectionImportRepository, the
// local ledger of upstream import tasks.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/collection-hub/collection-hub/internal/db/models"
)

// CollectionImportRepository handles database operations for collection import records
type CollectionImportRepository struct {
	db *sqlx.DB
}

// NewCollectionImportRepository creates a new collection import repository
func NewCollectionImportRepository(db *sqlx.DB) *CollectionImportRepository {
	return &CollectionImportRepository{db: db}
}

// ImportFilter narrows List results
type ImportFilter struct {
	Namespace string
	Limit     int
	Offset    int
}

// Create inserts the record for an upstream task. Task ids are unique; a
// second insert for the same id fails with ErrDuplicateImport.
func (r *CollectionImportRepository) Create(ctx context.Context, imp *models.CollectionImport) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collection_imports (task_id, created_at, namespace_id, name, version)
		VALUES ($1, $2, $3, $4, $5)`,
		imp.TaskID, imp.CreatedAt, imp.NamespaceID, imp.Name, imp.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateImport, imp.TaskID)
		}
		return fmt.Errorf("failed to insert collection import: %w", err)
	}
	return nil
}

// List returns records newest task id first, plus the unpaginated total.
func (r *CollectionImportRepository) List(ctx context.Context, filter ImportFilter) ([]*models.CollectionImport, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	where := ""
	args := []interface{}{}
	if filter.Namespace != "" {
		where = "WHERE n.name = $1"
		args = append(args, filter.Namespace)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM collection_imports ci JOIN namespaces n ON n.id = ci.namespace_id ` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count collection imports: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT ci.task_id, ci.created_at, ci.namespace_id, n.name AS namespace, ci.name, ci.version
		FROM collection_imports ci
		JOIN namespaces n ON n.id = ci.namespace_id
		%s
		ORDER BY ci.task_id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, filter.Offset)

	imports := []*models.CollectionImport{}
	if err := r.db.SelectContext(ctx, &imports, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list collection imports: %w", err)
	}
	return imports, total, nil
}

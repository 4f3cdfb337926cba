// namespace_repository.go implements NamespaceRepository: namespace rows, their
// ordered link sets and the explicit children-first delete.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/collection-hub/collection-hub/internal/db/models"
)

const namespaceColumns = `id, name, company, email, avatar_url, description, resources, groups, created_at, updated_at`

// NamespaceRepository handles database operations for namespaces and their links
type NamespaceRepository struct {
	db *sqlx.DB
}

// NewNamespaceRepository creates a new namespace repository
func NewNamespaceRepository(db *sqlx.DB) *NamespaceRepository {
	return &NamespaceRepository{db: db}
}

// NamespaceFilter narrows List results. When All is false only namespaces
// sharing at least one of Groups are returned.
type NamespaceFilter struct {
	All    bool
	Groups []string
	Limit  int
	Offset int
}

// Create inserts a namespace together with its links.
func (r *NamespaceRepository) Create(ctx context.Context, ns *models.Namespace) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	ns.ID = uuid.New().String()
	ns.CreatedAt = now
	ns.UpdatedAt = now
	if ns.Groups == nil {
		ns.Groups = pq.StringArray{}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO namespaces (`+namespaceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ns.ID, ns.Name, ns.Company, ns.Email, ns.AvatarURL, ns.Description, ns.Resources,
		ns.Groups, ns.CreatedAt, ns.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrNamespaceExists, ns.Name)
		}
		return fmt.Errorf("failed to insert namespace: %w", err)
	}

	if err := insertLinks(ctx, tx, ns.ID, ns.Links); err != nil {
		return err
	}

	return tx.Commit()
}

// GetByName returns the namespace with an exact name match, links included.
// The row and its links are read from one snapshot.
func (r *NamespaceRepository) GetByName(ctx context.Context, name string) (*models.Namespace, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ns models.Namespace
	err = tx.GetContext(ctx, &ns, `SELECT `+namespaceColumns+` FROM namespaces WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get namespace: %w", err)
	}

	links := []models.NamespaceLink{}
	err = tx.SelectContext(ctx, &links,
		`SELECT name, url FROM namespace_links WHERE namespace_id = $1 ORDER BY position`, ns.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get namespace links: %w", err)
	}
	ns.Links = links

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ns, nil
}

// List returns namespace summaries (without links) ordered by name.
func (r *NamespaceRepository) List(ctx context.Context, filter NamespaceFilter) ([]*models.Namespace, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		namespaces []*models.Namespace
		err        error
	)
	if filter.All {
		err = r.db.SelectContext(ctx, &namespaces,
			`SELECT `+namespaceColumns+` FROM namespaces ORDER BY name LIMIT $1 OFFSET $2`,
			limit, filter.Offset)
	} else {
		err = r.db.SelectContext(ctx, &namespaces,
			`SELECT `+namespaceColumns+` FROM namespaces WHERE groups && $1 ORDER BY name LIMIT $2 OFFSET $3`,
			pq.Array(filter.Groups), limit, filter.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	return namespaces, nil
}

// Update writes the mutable namespace fields and replaces its links in one
// transaction. The name is never changed.
func (r *NamespaceRepository) Update(ctx context.Context, ns *models.Namespace) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockNamespace(ctx, tx, ns.ID); err != nil {
		return err
	}

	ns.UpdatedAt = time.Now().UTC()
	if ns.Groups == nil {
		ns.Groups = pq.StringArray{}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE namespaces SET
			company = $2, email = $3, avatar_url = $4, description = $5,
			resources = $6, groups = $7, updated_at = $8
		WHERE id = $1`,
		ns.ID, ns.Company, ns.Email, ns.AvatarURL, ns.Description, ns.Resources, ns.Groups, ns.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update namespace: %w", err)
	}

	if err := replaceLinks(ctx, tx, ns.ID, ns.Links); err != nil {
		return err
	}

	return tx.Commit()
}

// SetLinks replaces the full link set of a namespace. Readers observe either
// the previous set or the new one.
func (r *NamespaceRepository) SetLinks(ctx context.Context, namespaceID string, links []models.NamespaceLink) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockNamespace(ctx, tx, namespaceID); err != nil {
		return err
	}
	if err := replaceLinks(ctx, tx, namespaceID, links); err != nil {
		return err
	}

	return tx.Commit()
}

// Delete removes a namespace after its import records and links.
func (r *NamespaceRepository) Delete(ctx context.Context, namespaceID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockNamespace(ctx, tx, namespaceID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_imports WHERE namespace_id = $1`, namespaceID); err != nil {
		return fmt.Errorf("failed to delete namespace imports: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM namespace_links WHERE namespace_id = $1`, namespaceID); err != nil {
		return fmt.Errorf("failed to delete namespace links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE id = $1`, namespaceID); err != nil {
		return fmt.Errorf("failed to delete namespace: %w", err)
	}

	return tx.Commit()
}

// lockNamespace takes a row lock so concurrent link replacements serialize.
func lockNamespace(ctx context.Context, tx *sqlx.Tx, namespaceID string) error {
	var id string
	err := tx.GetContext(ctx, &id, `SELECT id FROM namespaces WHERE id = $1 FOR UPDATE`, namespaceID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("namespace %s: %w", namespaceID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock namespace: %w", err)
	}
	return nil
}

func replaceLinks(ctx context.Context, tx *sqlx.Tx, namespaceID string, links []models.NamespaceLink) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM namespace_links WHERE namespace_id = $1`, namespaceID); err != nil {
		return fmt.Errorf("failed to clear namespace links: %w", err)
	}
	return insertLinks(ctx, tx, namespaceID, links)
}

func insertLinks(ctx context.Context, tx *sqlx.Tx, namespaceID string, links []models.NamespaceLink) error {
	for i, l := range links {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO namespace_links (namespace_id, position, name, url) VALUES ($1, $2, $3, $4)`,
			namespaceID, i, l.Name, l.URL,
		)
		if err != nil {
			return fmt.Errorf("failed to insert namespace link %q: %w", l.Name, err)
		}
	}
	return nil
}

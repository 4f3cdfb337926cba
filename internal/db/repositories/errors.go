// Package repositories implements the PostgreSQL persistence layer for the
// collection hub. Lookups return (nil, nil) when no row matches; callers
// decide whether absence is an error.
package repositories

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNamespaceExists is returned when creating a namespace whose name is taken.
	ErrNamespaceExists = errors.New("namespace already exists")
	// ErrDuplicateImport is returned when an import record for the task id already exists.
	ErrDuplicateImport = errors.New("import record already exists for task")
	// ErrNotFound is returned by mutations addressed at a row that does not exist.
	ErrNotFound = errors.New("not found")
)

// isUniqueViolation reports whether err is a PostgreSQL unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

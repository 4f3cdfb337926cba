package models

import "time"

// CollectionImport links an upstream import task to the collection version it imports.
// TaskID and CreatedAt are assigned by the upstream service.
type CollectionImport struct {
	TaskID      string    `json:"id" db:"task_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	NamespaceID string    `json:"-" db:"namespace_id"`
	Namespace   string    `json:"namespace" db:"namespace"`
	Name        string    `json:"name" db:"name"`
	Version     string    `json:"version" db:"version"`
}

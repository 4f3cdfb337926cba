// Package models defines the database model types for the collection hub.
// Each type corresponds to a database table and carries both json and db
// (sqlx) struct tags. Query logic belongs in the repositories package.
package models

import (
	"time"

	"github.com/lib/pq"
)

// Namespace is a named ownership boundary under which collections are published.
type Namespace struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Company     string         `json:"company" db:"company"`
	Email       string         `json:"email" db:"email"`
	AvatarURL   string         `json:"avatar_url" db:"avatar_url"`
	Description string         `json:"description" db:"description"`
	Resources   string         `json:"resources" db:"resources"`
	Groups      pq.StringArray `json:"groups" db:"groups"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`

	// Links is loaded separately from namespace_links, ordered by position.
	Links []NamespaceLink `json:"links" db:"-"`
}

// NamespaceLink is a named URL shown alongside a namespace.
type NamespaceLink struct {
	Name string `json:"name" db:"name"`
	URL  string `json:"url" db:"url"`
}

// SharesGroup reports whether any of groups is one of the namespace's groups.
func (n *Namespace) SharesGroup(groups []string) bool {
	for _, g := range groups {
		for _, own := range n.Groups {
			if g == own {
				return true
			}
		}
	}
	return false
}

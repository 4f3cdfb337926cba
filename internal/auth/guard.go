package auth

import (
	"errors"

	"github.com/collection-hub/collection-hub/internal/db/models"
)

// ErrForbidden is returned when a caller may not publish into a namespace.
var ErrForbidden = errors.New("caller is not permitted to publish into this namespace")

// Guard decides who may publish into a namespace. A caller qualifies by
// sharing a group with the namespace (ownership) or by belonging to the
// privileged operator group.
type Guard struct {
	PrivilegedGroup string
}

// NewGuard returns a Guard for the given operator group. An empty group
// disables the operator override.
func NewGuard(privilegedGroup string) *Guard {
	return &Guard{PrivilegedGroup: privilegedGroup}
}

// IsPrivileged reports whether user belongs to the operator group
func (g *Guard) IsPrivileged(user *models.User) bool {
	return user != nil && g.PrivilegedGroup != "" && user.InGroup(g.PrivilegedGroup)
}

// IsOwner reports whether user shares a group with ns
func (g *Guard) IsOwner(user *models.User, ns *models.Namespace) bool {
	return user != nil && ns != nil && ns.SharesGroup(user.Groups)
}

// CanPublish returns nil when user may publish into ns and ErrForbidden otherwise.
func (g *Guard) CanPublish(user *models.User, ns *models.Namespace) error {
	if g.IsOwner(user, ns) || g.IsPrivileged(user) {
		return nil
	}
	return ErrForbidden
}

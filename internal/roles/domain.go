package roles

import (
	"errors"
	"strings"
)

// Role is one member of the closed set of application roles.
type Role int

const (
	// User is the role granted to every registered account.
	User Role = iota + 1
	// Admin is the role for privileged accounts.
	Admin
)

// Authority strings are part of the storage contract; persisted role
// records must use exactly these identifiers.
const (
	AuthorityUser  = "ROLE_USER"
	AuthorityAdmin = "ROLE_ADMIN"
)

// ErrUnknownRole indicates a role name or authority outside the catalog.
var ErrUnknownRole = errors.New("roles: unknown role")

// String returns the logical role name.
func (r Role) String() string {
	switch r {
	case User:
		return "USER"
	case Admin:
		return "ADMIN"
	default:
		return "UNKNOWN"
	}
}

// Authority returns the authority string of r in the default catalog.
func (r Role) Authority() string {
	return Default.AuthorityOf(r)
}

// Definition binds a role to its authority string.
type Definition struct {
	Role      Role
	Authority string
}

// Hierarchy maps a role to the roles it implies.
type Hierarchy map[Role][]Role

// Implies reports whether holding held satisfies a requirement for
// required. Without a hierarchy only exact matches qualify.
func (h Hierarchy) Implies(held, required Role) bool {
	if held == required {
		return true
	}
	seen := map[Role]struct{}{held: {}}
	queue := []Role{held}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range h[current] {
			if next == required {
				return true
			}
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return false
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

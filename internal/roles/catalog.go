package roles

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog holds the authority string of every role.
type Catalog struct {
	authorities map[Role]string
	byAuthority map[string]Role
}

// Default is the catalog used by the application. It is built at
// package initialisation and panics if misconfigured.
var Default = MustNewCatalog(
	Definition{Role: User, Authority: AuthorityUser},
	Definition{Role: Admin, Authority: AuthorityAdmin},
)

// NewCatalog validates definitions and builds a Catalog.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("roles: catalog requires at least one role")
	}
	c := &Catalog{
		authorities: make(map[Role]string, len(defs)),
		byAuthority: make(map[string]Role, len(defs)),
	}
	for _, def := range defs {
		authority := strings.TrimSpace(def.Authority)
		if authority == "" {
			return nil, fmt.Errorf("roles: role %s has no authority", def.Role)
		}
		if _, dup := c.authorities[def.Role]; dup {
			return nil, fmt.Errorf("roles: role %s defined twice", def.Role)
		}
		if other, dup := c.byAuthority[authority]; dup {
			return nil, fmt.Errorf("roles: authority %q already bound to %s", authority, other)
		}
		c.authorities[def.Role] = authority
		c.byAuthority[authority] = def.Role
	}
	return c, nil
}

// MustNewCatalog is like NewCatalog but panics on error.
func MustNewCatalog(defs ...Definition) *Catalog {
	c, err := NewCatalog(defs...)
	if err != nil {
		panic(fmt.Sprintf("roles.MustNewCatalog: %v", err))
	}
	return c
}

// AuthorityOf returns the authority string for role, or "" when the role
// is not part of the catalog.
func (c *Catalog) AuthorityOf(role Role) string {
	return c.authorities[role]
}

// Contains reports whether role belongs to the catalog.
func (c *Catalog) Contains(role Role) bool {
	_, ok := c.authorities[role]
	return ok
}

// FromAuthority resolves a persisted authority string.
func (c *Catalog) FromAuthority(authority string) (Role, error) {
	role, ok := c.byAuthority[strings.TrimSpace(authority)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, authority)
	}
	return role, nil
}

// Parse accepts either a role name (USER, admin) or an authority string.
func (c *Catalog) Parse(value string) (Role, error) {
	name := normalizeName(value)
	for role := range c.authorities {
		if role.String() == name {
			return role, nil
		}
	}
	if role, ok := c.byAuthority[name]; ok {
		return role, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, value)
}

// Roles lists catalog roles in declaration order.
func (c *Catalog) Roles() []Role {
	out := make([]Role, 0, len(c.authorities))
	for role := range c.authorities {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AuthorityOf returns the authority of role in the default catalog.
func AuthorityOf(role Role) string {
	return Default.AuthorityOf(role)
}

// FromAuthority resolves authority against the default catalog.
func FromAuthority(authority string) (Role, error) {
	return Default.FromAuthority(authority)
}

// Parse resolves value against the default catalog.
func Parse(value string) (Role, error) {
	return Default.Parse(value)
}

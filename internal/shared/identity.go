package shared

import "github.com/odyssey-erp/gatekeeper/internal/roles"

// Identity is the principal bound to a session. The zero value is the
// anonymous identity.
type Identity struct {
	Username string
	Role     roles.Role
}

// Anonymous is the identity of a request with no authenticated session.
var Anonymous = Identity{}

// Authenticated reports whether the identity belongs to a logged-in user.
func (i Identity) Authenticated() bool {
	return i.Username != ""
}

// Authority returns the authority string of the identity's role, or ""
// for anonymous identities.
func (i Identity) Authority() string {
	if !i.Authenticated() {
		return ""
	}
	return roles.AuthorityOf(i.Role)
}

package rbac

import (
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/roles"
)

// Access identifies the kind of requirement a rule imposes.
type Access int

const (
	// AccessPermitAll admits every identity, anonymous included.
	AccessPermitAll Access = iota + 1
	// AccessAuthenticated admits any authenticated identity.
	AccessAuthenticated
	// AccessRole admits identities holding a specific role.
	AccessRole
)

// Requirement is the access condition attached to a rule.
type Requirement struct {
	Access Access
	Role   roles.Role
}

// PermitAll returns a requirement allowing any identity.
func PermitAll() Requirement {
	return Requirement{Access: AccessPermitAll}
}

// RequireAuth returns a requirement allowing any authenticated identity.
func RequireAuth() Requirement {
	return Requirement{Access: AccessAuthenticated}
}

// RequireRole returns a requirement allowing only identities with role.
func RequireRole(role roles.Role) Requirement {
	return Requirement{Access: AccessRole, Role: role}
}

// String renders the requirement the way it is written in policy files.
func (r Requirement) String() string {
	switch r.Access {
	case AccessPermitAll:
		return "permit_all"
	case AccessAuthenticated:
		return "authenticated"
	case AccessRole:
		return "role(" + r.Role.String() + ")"
	default:
		return "invalid"
	}
}

// Rule maps a URL pattern and optional method set to a requirement.
// An empty Methods slice matches any method.
type Rule struct {
	Pattern     string
	Methods     []string
	Requirement Requirement
}

// String renders the rule for logs and the policy CLI.
func (r Rule) String() string {
	methods := "ANY"
	if len(r.Methods) > 0 {
		methods = strings.Join(r.Methods, ",")
	}
	return methods + " " + r.Pattern + " -> " + r.Requirement.String()
}

// AllowsMethod reports whether the rule applies to method.
func (r Rule) AllowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	method = strings.ToUpper(method)
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Outcome is the result category of an access decision.
type Outcome int

const (
	// Allow lets the request proceed.
	Allow Outcome = iota + 1
	// DenyUnauthenticated requires the caller to log in first.
	DenyUnauthenticated
	// DenyForbidden rejects an authenticated caller lacking the role.
	DenyForbidden
)

// String returns a stable label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "deny_unauthenticated"
	case DenyForbidden:
		return "deny_forbidden"
	default:
		return "unknown"
	}
}

// Decision is produced fresh for every evaluated request.
type Decision struct {
	Outcome        Outcome
	RedirectTarget string
	Rule           Rule
}

// Allowed reports whether the decision lets the request through.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

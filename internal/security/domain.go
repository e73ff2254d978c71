// Package security decides, per request, whether the caller may proceed,
// must log in, or is forbidden.
package security

import (
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// State tracks how far a request got through the decision pipeline.
type State int

const (
	// Start means the request was received but nothing was resolved.
	Start State = iota
	// IdentityResolved means the session store answered.
	IdentityResolved
	// PolicyEvaluated means the access policy produced a decision.
	PolicyEvaluated
	// Responded means the decision was translated into an Action.
	Responded
)

func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case IdentityResolved:
		return "identity_resolved"
	case PolicyEvaluated:
		return "policy_evaluated"
	case Responded:
		return "responded"
	default:
		return "unknown"
	}
}

// Action is what the HTTP layer must do with the request.
type Action int

const (
	// Proceed hands the request to the application.
	Proceed Action = iota + 1
	// RedirectToLogin sends the caller to the login page.
	RedirectToLogin
	// RenderForbidden answers with the forbidden response.
	RenderForbidden
)

func (a Action) String() string {
	switch a {
	case Proceed:
		return "proceed"
	case RedirectToLogin:
		return "redirect_to_login"
	case RenderForbidden:
		return "render_forbidden"
	default:
		return "unknown"
	}
}

// Request is the input of one decision.
type Request struct {
	Path       string
	Method     string
	SessionRef string
}

// Result is the output of one decision. It is never persisted.
type Result struct {
	State    State
	Identity shared.Identity
	Decision rbac.Decision
	Action   Action
	// Location is the redirect target for RedirectToLogin and the
	// forbidden page for RenderForbidden.
	Location string
	// Bypassed is set for paths on the ignore list.
	Bypassed bool
}

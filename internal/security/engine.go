package security

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// IdentityResolver answers which identity a session reference is bound to.
// *shared.SessionManager satisfies it.
type IdentityResolver interface {
	GetIdentity(ctx context.Context, ref string) (shared.Identity, error)
}

// DecisionObserver counts decisions.
type DecisionObserver interface {
	ObserveDecision(action, outcome string)
}

// Engine runs the per-request decision pipeline. It holds no per-request
// state and is safe for concurrent use.
type Engine struct {
	policy     *rbac.Policy
	identities IdentityResolver
	observer   DecisionObserver
	logger     *slog.Logger
}

// NewEngine builds an Engine over an already validated policy.
func NewEngine(policy *rbac.Policy, identities IdentityResolver) *Engine {
	return &Engine{policy: policy, identities: identities, logger: slog.Default()}
}

// WithObserver reports every decision to o.
func (e *Engine) WithObserver(o DecisionObserver) *Engine {
	e.observer = o
	return e
}

// WithLogger sets the logger used by the middleware.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// Policy returns the policy the engine enforces.
func (e *Engine) Policy() *rbac.Policy {
	return e.policy
}

// Decide resolves the caller's identity, evaluates the policy and
// translates the decision into an Action. A store failure yields an error
// wrapping shared.ErrUnavailable; a policy without a matching rule yields
// rbac.ErrNoMatchingRule. Neither is ever turned into Proceed.
func (e *Engine) Decide(ctx context.Context, req Request) (Result, error) {
	res := Result{State: Start, Identity: shared.Anonymous}

	if e.policy.Ignored(req.Path) {
		res.State = Responded
		res.Action = Proceed
		res.Bypassed = true
		return res, nil
	}

	identity, err := e.identities.GetIdentity(ctx, req.SessionRef)
	if err != nil {
		return res, fmt.Errorf("security: resolve identity: %w", err)
	}
	res.Identity = identity
	res.State = IdentityResolved

	decision, err := e.policy.Evaluate(req.Path, req.Method, identity)
	if err != nil {
		return res, fmt.Errorf("security: evaluate: %w", err)
	}
	res.Decision = decision
	res.State = PolicyEvaluated

	switch decision.Outcome {
	case rbac.Allow:
		res.Action = Proceed
	case rbac.DenyUnauthenticated:
		res.Action = RedirectToLogin
		res.Location = decision.RedirectTarget
	case rbac.DenyForbidden:
		res.Action = RenderForbidden
		res.Location = decision.RedirectTarget
	default:
		return res, fmt.Errorf("security: %w: outcome %s", rbac.ErrNoMatchingRule, decision.Outcome)
	}
	res.State = Responded

	if e.observer != nil {
		e.observer.ObserveDecision(res.Action.String(), decision.Outcome.String())
	}
	return res, nil
}

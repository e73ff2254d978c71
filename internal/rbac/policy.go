package rbac

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

var (
	// ErrInvalidPolicy wraps every configuration problem found by NewPolicy.
	ErrInvalidPolicy = errors.New("rbac: invalid policy")
	// ErrNoMatchingRule means the rule table was exhausted without a match.
	// The catch-all invariant makes this an internal consistency failure.
	ErrNoMatchingRule = errors.New("rbac: no matching rule")
)

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodConnect: {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

// Config is the startup configuration of the access policy.
type Config struct {
	// Rules are evaluated in order; the last one must be the catch-all.
	Rules []Rule

	LoginPage          string
	LoginProcessingURL string
	DefaultSuccessURL  string
	FailureURL         string
	LogoutURL          string
	LogoutSuccessURL   string
	ForbiddenPage      string

	// Ignored patterns bypass the security layer entirely.
	Ignored []string

	// Hierarchy lets a role satisfy requirements for the roles it implies.
	Hierarchy roles.Hierarchy
}

// DefaultConfig returns the stock policy: static assets and the /user
// area are public, everything else requires a login.
func DefaultConfig() Config {
	return Config{
		Rules: []Rule{
			{Pattern: "/images/**", Requirement: PermitAll()},
			{Pattern: "/css/**", Requirement: PermitAll()},
			{Pattern: "/user/**", Requirement: PermitAll()},
			{Pattern: CatchAllPattern, Requirement: RequireAuth()},
		},
		LoginPage:          "/user/login",
		LoginProcessingURL: "/user/login",
		DefaultSuccessURL:  "/",
		FailureURL:         "/user/login?error",
		LogoutURL:          "/user/logout",
		LogoutSuccessURL:   "/user/login?logout",
		ForbiddenPage:      "/forbidden.html",
	}
}

// Policy is an immutable, validated rule table. It is safe for
// concurrent use without synchronisation.
type Policy struct {
	rules     []Rule
	ignored   []string
	hierarchy roles.Hierarchy

	loginPage          string
	loginProcessingURL string
	defaultSuccessURL  string
	failureURL         string
	logoutURL          string
	logoutSuccessURL   string
	forbiddenPage      string
}

// NewPolicy validates cfg and builds a Policy. The login, failure and
// logout endpoints are implicitly public and are placed ahead of the
// configured rules.
func NewPolicy(cfg Config) (*Policy, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	p := &Policy{
		ignored:            append([]string(nil), cfg.Ignored...),
		hierarchy:          copyHierarchy(cfg.Hierarchy),
		loginPage:          cfg.LoginPage,
		loginProcessingURL: orDefault(cfg.LoginProcessingURL, cfg.LoginPage),
		defaultSuccessURL:  orDefault(cfg.DefaultSuccessURL, "/"),
		failureURL:         orDefault(cfg.FailureURL, cfg.LoginPage+"?error"),
		logoutURL:          cfg.LogoutURL,
		logoutSuccessURL:   orDefault(cfg.LogoutSuccessURL, cfg.LoginPage+"?logout"),
		forbiddenPage:      cfg.ForbiddenPage,
	}

	seen := make(map[string]struct{})
	for _, public := range []string{p.loginPage, p.loginProcessingURL, stripQuery(p.failureURL), p.logoutURL} {
		if public == "" {
			continue
		}
		if _, dup := seen[public]; dup {
			continue
		}
		seen[public] = struct{}{}
		p.rules = append(p.rules, Rule{Pattern: public, Requirement: PermitAll()})
	}
	for _, rule := range cfg.Rules {
		p.rules = append(p.rules, normalizeRule(rule))
	}
	return p, nil
}

// MustNewPolicy is like NewPolicy but panics on error.
func MustNewPolicy(cfg Config) *Policy {
	p, err := NewPolicy(cfg)
	if err != nil {
		panic(fmt.Sprintf("rbac.MustNewPolicy: %v", err))
	}
	return p
}

// Evaluate decides whether identity may perform method on requestPath.
func (p *Policy) Evaluate(requestPath, method string, identity shared.Identity) (Decision, error) {
	rule, ok := Match(p.rules, requestPath, method)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s %s", ErrNoMatchingRule, method, requestPath)
	}

	switch rule.Requirement.Access {
	case AccessPermitAll:
		return Decision{Outcome: Allow, Rule: rule}, nil
	case AccessAuthenticated:
		if !identity.Authenticated() {
			return p.unauthenticated(rule), nil
		}
		return Decision{Outcome: Allow, Rule: rule}, nil
	case AccessRole:
		if !identity.Authenticated() {
			return p.unauthenticated(rule), nil
		}
		if p.hierarchy.Implies(identity.Role, rule.Requirement.Role) {
			return Decision{Outcome: Allow, Rule: rule}, nil
		}
		return Decision{Outcome: DenyForbidden, RedirectTarget: p.forbiddenPage, Rule: rule}, nil
	default:
		return Decision{}, fmt.Errorf("%w: rule %q has no requirement", ErrNoMatchingRule, rule.Pattern)
	}
}

// Ignored reports whether requestPath bypasses the security layer.
func (p *Policy) Ignored(requestPath string) bool {
	for _, pattern := range p.ignored {
		if Matches(pattern, requestPath) {
			return true
		}
	}
	return false
}

// Rules returns a copy of the effective rule table, implicit rules first.
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	for i, rule := range p.rules {
		rule.Methods = append([]string(nil), rule.Methods...)
		out[i] = rule
	}
	return out
}

// IgnoredPatterns returns a copy of the ignore list.
func (p *Policy) IgnoredPatterns() []string {
	return append([]string(nil), p.ignored...)
}

// Hierarchy returns a copy of the role hierarchy rules are evaluated with.
func (p *Policy) Hierarchy() roles.Hierarchy { return copyHierarchy(p.hierarchy) }

// LoginPage is where unauthenticated callers are redirected.
func (p *Policy) LoginPage() string { return p.loginPage }

// LoginProcessingURL receives submitted credentials.
func (p *Policy) LoginProcessingURL() string { return p.loginProcessingURL }

// DefaultSuccessURL is the landing page after login without a saved request.
func (p *Policy) DefaultSuccessURL() string { return p.defaultSuccessURL }

// FailureURL is where a failed login is redirected.
func (p *Policy) FailureURL() string { return p.failureURL }

// LogoutURL terminates the session.
func (p *Policy) LogoutURL() string { return p.logoutURL }

// LogoutSuccessURL is where the caller lands after logout.
func (p *Policy) LogoutSuccessURL() string { return p.logoutSuccessURL }

// ForbiddenPage is shown to authenticated callers lacking a role.
func (p *Policy) ForbiddenPage() string { return p.forbiddenPage }

func (p *Policy) unauthenticated(rule Rule) Decision {
	return Decision{Outcome: DenyUnauthenticated, RedirectTarget: p.loginPage, Rule: rule}
}

func validateConfig(cfg Config) error {
	if len(cfg.Rules) == 0 {
		return fmt.Errorf("%w: rule table is empty", ErrInvalidPolicy)
	}
	if cfg.LoginPage == "" {
		return fmt.Errorf("%w: login page is required", ErrInvalidPolicy)
	}
	if cfg.ForbiddenPage == "" {
		return fmt.Errorf("%w: forbidden page is required", ErrInvalidPolicy)
	}
	for _, u := range []string{cfg.LoginPage, cfg.LoginProcessingURL, cfg.LogoutURL, cfg.ForbiddenPage} {
		if u != "" && !strings.HasPrefix(u, "/") {
			return fmt.Errorf("%w: path %q must start with /", ErrInvalidPolicy, u)
		}
	}

	last := len(cfg.Rules) - 1
	for i, rule := range cfg.Rules {
		if err := ValidatePattern(rule.Pattern); err != nil {
			return fmt.Errorf("%w: rule %d: %v", ErrInvalidPolicy, i, err)
		}
		for _, m := range rule.Methods {
			if _, ok := knownMethods[strings.ToUpper(strings.TrimSpace(m))]; !ok {
				return fmt.Errorf("%w: rule %d: unknown method %q", ErrInvalidPolicy, i, m)
			}
		}
		switch rule.Requirement.Access {
		case AccessPermitAll, AccessAuthenticated:
		case AccessRole:
			if !roles.Default.Contains(rule.Requirement.Role) {
				return fmt.Errorf("%w: rule %d: role %s is not in the catalog", ErrInvalidPolicy, i, rule.Requirement.Role)
			}
		default:
			return fmt.Errorf("%w: rule %d: missing requirement", ErrInvalidPolicy, i)
		}
		if isCatchAll(rule.Pattern) && i != last {
			return fmt.Errorf("%w: catch-all rule must be the last entry (found at %d)", ErrInvalidPolicy, i)
		}
	}

	final := cfg.Rules[last]
	if !isCatchAll(final.Pattern) || len(final.Methods) > 0 || final.Requirement.Access != AccessAuthenticated {
		return fmt.Errorf("%w: last rule must be %s requiring authentication for any method", ErrInvalidPolicy, CatchAllPattern)
	}

	for i, pattern := range cfg.Ignored {
		if err := ValidatePattern(pattern); err != nil {
			return fmt.Errorf("%w: ignore %d: %v", ErrInvalidPolicy, i, err)
		}
	}
	for held, implied := range cfg.Hierarchy {
		if !roles.Default.Contains(held) {
			return fmt.Errorf("%w: hierarchy role %s is not in the catalog", ErrInvalidPolicy, held)
		}
		for _, r := range implied {
			if !roles.Default.Contains(r) {
				return fmt.Errorf("%w: hierarchy role %s is not in the catalog", ErrInvalidPolicy, r)
			}
		}
	}
	return nil
}

func isCatchAll(pattern string) bool {
	segments := splitPath(pattern)
	return len(segments) == 1 && segments[0] == anySegments
}

func normalizeRule(rule Rule) Rule {
	if len(rule.Methods) == 0 {
		rule.Methods = nil
		return rule
	}
	methods := make([]string, 0, len(rule.Methods))
	for _, m := range rule.Methods {
		methods = append(methods, strings.ToUpper(strings.TrimSpace(m)))
	}
	rule.Methods = methods
	return rule
}

func copyHierarchy(h roles.Hierarchy) roles.Hierarchy {
	if len(h) == 0 {
		return nil
	}
	out := make(roles.Hierarchy, len(h))
	for k, v := range h {
		out[k] = append([]roles.Role(nil), v...)
	}
	return out
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

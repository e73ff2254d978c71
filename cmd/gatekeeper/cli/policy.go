package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// PolicyOptions defines the flags shared by the policy commands.
type PolicyOptions struct {
	File       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// PolicySummary is the JSON form of policy check.
type PolicySummary struct {
	OK        bool         `json:"ok"`
	Source    string       `json:"source"`
	LoginPage string       `json:"login_page"`
	Forbidden string       `json:"forbidden_page"`
	Ignored   []string     `json:"ignored"`
	Rules     []PolicyRule `json:"rules"`
}

// PolicyRule is one rule of the effective table.
type PolicyRule struct {
	Pattern     string   `json:"pattern"`
	Methods     []string `json:"methods,omitempty"`
	Requirement string   `json:"requirement"`
}

// ExplainOptions selects the request to evaluate with policy explain.
type ExplainOptions struct {
	PolicyOptions
	Path      string
	Method    string
	Username  string
	Authority string
}

// Explanation is the JSON form of policy explain.
type Explanation struct {
	Path      string `json:"path"`
	Method    string `json:"method"`
	Authority string `json:"authority,omitempty"`
	Ignored   bool   `json:"ignored"`
	Rule      string `json:"rule,omitempty"`
	Outcome   string `json:"outcome"`
	Redirect  string `json:"redirect,omitempty"`
}

// LoadPolicy reads path, or the built-in policy when path is empty.
func LoadPolicy(path string) (*rbac.Policy, error) {
	cfg := rbac.DefaultConfig()
	if path != "" {
		loaded, err := rbac.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return rbac.NewPolicy(cfg)
}

// CheckCommand validates a policy file and prints its effective rules.
// It exits 1 when the policy is rejected.
func CheckCommand(opts PolicyOptions) int {
	opts = withWriters(opts)
	policy, err := LoadPolicy(opts.File)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "policy check: %v\n", err)
		return 1
	}
	summary := PolicySummary{
		OK:        true,
		Source:    sourceName(opts.File),
		LoginPage: policy.LoginPage(),
		Forbidden: policy.ForbiddenPage(),
		Ignored:   policy.IgnoredPatterns(),
	}
	for _, rule := range policy.Rules() {
		summary.Rules = append(summary.Rules, PolicyRule{
			Pattern:     rule.Pattern,
			Methods:     rule.Methods,
			Requirement: rule.Requirement.String(),
		})
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "policy check: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "policy %s OK (%d rules)\n", summary.Source, len(summary.Rules))
	_, _ = fmt.Fprintf(opts.Stdout, "login page: %s\nforbidden page: %s\n", summary.LoginPage, summary.Forbidden)
	for _, pattern := range summary.Ignored {
		_, _ = fmt.Fprintf(opts.Stdout, "  ignore %s\n", pattern)
	}
	for i, rule := range policy.Rules() {
		_, _ = fmt.Fprintf(opts.Stdout, "  %2d. %s\n", i+1, rule)
	}
	return 0
}

// ExplainCommand evaluates one request against the policy and reports the
// matching rule and decision.
func ExplainCommand(opts ExplainOptions) int {
	opts.PolicyOptions = withWriters(opts.PolicyOptions)
	if opts.Path == "" || !strings.HasPrefix(opts.Path, "/") {
		_, _ = fmt.Fprintln(opts.Stderr, "policy explain: --path is required and must start with /")
		return 1
	}
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = "GET"
	}
	identity, err := explainIdentity(opts.Username, opts.Authority)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "policy explain: %v\n", err)
		return 1
	}
	policy, err := LoadPolicy(opts.File)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "policy explain: %v\n", err)
		return 1
	}

	out := Explanation{Path: opts.Path, Method: method, Authority: identity.Authority()}
	if policy.Ignored(opts.Path) {
		out.Ignored = true
		out.Outcome = "bypass"
	} else {
		decision, err := policy.Evaluate(opts.Path, method, identity)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "policy explain: %v\n", err)
			return 1
		}
		out.Rule = decision.Rule.String()
		out.Outcome = decision.Outcome.String()
		out.Redirect = decision.RedirectTarget
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(out); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "policy explain: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	who := "anonymous"
	if identity.Authenticated() {
		who = identity.Username + " (" + identity.Authority() + ")"
	}
	_, _ = fmt.Fprintf(opts.Stdout, "%s %s as %s\n", method, opts.Path, who)
	if out.Ignored {
		_, _ = fmt.Fprintln(opts.Stdout, "  ignored: security layer bypassed")
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "  rule:    %s\n  outcome: %s\n", out.Rule, out.Outcome)
	if out.Redirect != "" {
		_, _ = fmt.Fprintf(opts.Stdout, "  target:  %s\n", out.Redirect)
	}
	return 0
}

func explainIdentity(username, authority string) (shared.Identity, error) {
	if authority == "" {
		return shared.Anonymous, nil
	}
	role, err := roles.Parse(authority)
	if err != nil {
		return shared.Identity{}, err
	}
	if username == "" {
		username = "someone"
	}
	return shared.Identity{Username: username, Role: role}, nil
}

func withWriters(opts PolicyOptions) PolicyOptions {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return opts
}

func sourceName(path string) string {
	if path == "" {
		return "(built-in)"
	}
	return path
}

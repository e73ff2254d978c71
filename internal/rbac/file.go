package rbac

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/gatekeeper/internal/roles"
)

// Access kinds as written in policy files.
const (
	fileAccessPermitAll     = "permit_all"
	fileAccessAuthenticated = "authenticated"
	fileAccessRole          = "role"
)

type policyDocument struct {
	LoginPage          string              `yaml:"login_page"`
	LoginProcessingURL string              `yaml:"login_processing_url"`
	DefaultSuccessURL  string              `yaml:"default_success_url"`
	FailureURL         string              `yaml:"failure_url"`
	LogoutURL          string              `yaml:"logout_url"`
	LogoutSuccessURL   string              `yaml:"logout_success_url"`
	ForbiddenPage      string              `yaml:"forbidden_page"`
	Ignore             []string            `yaml:"ignore"`
	Hierarchy          map[string][]string `yaml:"hierarchy"`
	Rules              []policyRule        `yaml:"rules"`
}

type policyRule struct {
	Pattern string   `yaml:"pattern"`
	Methods []string `yaml:"methods"`
	Access  string   `yaml:"access"`
	Role    string   `yaml:"role"`
}

// LoadFile reads a YAML policy document. Endpoint paths left out of the
// document keep the values of DefaultConfig.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rbac: read policy file: %w", err)
	}
	cfg, err := ParseYAML(data)
	if err != nil {
		return Config{}, fmt.Errorf("rbac: %s: %w", path, err)
	}
	return cfg, nil
}

// ParseYAML decodes a policy document. Unknown keys are rejected.
func ParseYAML(data []byte) (Config, error) {
	var doc policyDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode policy: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Rules = nil
	overrideString(&cfg.LoginPage, doc.LoginPage)
	overrideString(&cfg.LoginProcessingURL, doc.LoginProcessingURL)
	overrideString(&cfg.DefaultSuccessURL, doc.DefaultSuccessURL)
	overrideString(&cfg.FailureURL, doc.FailureURL)
	overrideString(&cfg.LogoutURL, doc.LogoutURL)
	overrideString(&cfg.LogoutSuccessURL, doc.LogoutSuccessURL)
	overrideString(&cfg.ForbiddenPage, doc.ForbiddenPage)
	cfg.Ignored = doc.Ignore

	if len(doc.Hierarchy) > 0 {
		cfg.Hierarchy = make(roles.Hierarchy, len(doc.Hierarchy))
		for held, implied := range doc.Hierarchy {
			heldRole, err := roles.Parse(held)
			if err != nil {
				return Config{}, fmt.Errorf("hierarchy: %w", err)
			}
			for _, name := range implied {
				role, err := roles.Parse(name)
				if err != nil {
					return Config{}, fmt.Errorf("hierarchy %s: %w", held, err)
				}
				cfg.Hierarchy[heldRole] = append(cfg.Hierarchy[heldRole], role)
			}
		}
	}

	for i, r := range doc.Rules {
		req, err := parseRequirement(r.Access, r.Role)
		if err != nil {
			return Config{}, fmt.Errorf("rule %d (%s): %w", i, r.Pattern, err)
		}
		cfg.Rules = append(cfg.Rules, Rule{Pattern: r.Pattern, Methods: r.Methods, Requirement: req})
	}
	return cfg, nil
}

func parseRequirement(access, role string) (Requirement, error) {
	switch strings.ToLower(strings.TrimSpace(access)) {
	case fileAccessPermitAll:
		return PermitAll(), nil
	case fileAccessAuthenticated:
		return RequireAuth(), nil
	case fileAccessRole:
		parsed, err := roles.Parse(role)
		if err != nil {
			return Requirement{}, err
		}
		return RequireRole(parsed), nil
	default:
		return Requirement{}, fmt.Errorf("unknown access %q", access)
	}
}

func overrideString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

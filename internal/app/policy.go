package app

import (
	"fmt"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

// LoadPolicy builds the access policy from POLICY_FILE, or from the
// built-in table when no file is configured. Any error must stop startup.
func LoadPolicy(cfg *Config) (*rbac.Policy, error) {
	policyCfg := rbac.DefaultConfig()
	if cfg != nil && cfg.PolicyFile != "" {
		loaded, err := rbac.LoadFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		policyCfg = loaded
	}
	policy, err := rbac.NewPolicy(policyCfg)
	if err != nil {
		return nil, fmt.Errorf("app: access policy: %w", err)
	}
	return policy, nil
}

package rbac

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("testdata", "policy.yaml"))
	require.NoError(t, err)

	require.Len(t, cfg.Rules, 5)
	assert.Equal(t, RequireRole(roles.Admin), cfg.Rules[3].Requirement)
	assert.Equal(t, []string{"GET", "POST"}, cfg.Rules[3].Methods)
	assert.Equal(t, []string{"/h2-console/**"}, cfg.Ignored)
	assert.Equal(t, roles.Hierarchy{roles.Admin: {roles.User}}, cfg.Hierarchy)
	assert.Equal(t, "/user/logout", cfg.LogoutURL, "unspecified endpoints keep defaults")

	p, err := NewPolicy(cfg)
	require.NoError(t, err)
	d, err := p.Evaluate("/admin/users", http.MethodGet, shared.Identity{Username: "bob", Role: roles.User})
	require.NoError(t, err)
	assert.Equal(t, DenyForbidden, d.Outcome)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)
}

func TestParseYAMLErrors(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "rulez: []\n",
		"unknown access": "rules:\n  - pattern: /**\n    access: everyone\n",
		"unknown role":   "rules:\n  - pattern: /x\n    access: role\n    role: ROOT\n",
		"bad hierarchy":  "hierarchy:\n  ROOT: [USER]\n",
	}
	for name, doc := range cases {
		_, err := ParseYAML([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestParseYAMLEmptyDocumentFailsValidation(t *testing.T) {
	cfg, err := ParseYAML(nil)
	require.NoError(t, err)
	_, err = NewPolicy(cfg)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

package rbac

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/user/**", "/user/login", true},
		{"/user/**", "/user/../admin/x", false},
		{"/admin/**", "/user/../admin/x", true},
		{"/admin/**", "/../../admin", true},
		{"/css/**", "/css/./app.css", true},
		{"/user/*", "/user/a/..", false},
		{"/user/**", "/user/a/b/c", true},
		{"/user/**", "/users", false},
		{"/user/**", "/userx/login", false},
		{"/css/**", "/css", true},
		{"/css/**", "/css/", true},
		{"/css/**", "/css/app.css", true},
		{"/**", "/", true},
		{"/**", "/anything/at/all", true},
		{"/user/*", "/user/login", true},
		{"/user/*", "/user", false},
		{"/user/*", "/user/a/b", false},
		{"/user/*/edit", "/user/42/edit", true},
		{"/user/*/edit", "/user/42/view", false},
		{"/images/*.png", "/images/logo.png", true},
		{"/images/*.png", "/images/logo.jpg", false},
		{"/Admin/**", "/admin/x", false},
		{"/admin", "/admin", true},
		{"/admin", "/admin/x", false},
		{"/user//login", "/user/login", true},
		{"/a/**/b", "/a/x/b", false},
		{"/[", "/[", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Matches(tc.pattern, tc.path), "%s vs %s", tc.pattern, tc.path)
	}
}

func TestValidatePattern(t *testing.T) {
	require.NoError(t, ValidatePattern("/**"))
	require.NoError(t, ValidatePattern("/user/*/edit"))
	require.NoError(t, ValidatePattern("/images/*.png"))

	assert.Error(t, ValidatePattern("user/**"))
	assert.Error(t, ValidatePattern("/a/**/b"))
	assert.Error(t, ValidatePattern("/a/b**"))
	assert.Error(t, ValidatePattern("/a/[b"))
	assert.Error(t, ValidatePattern("/user/../admin"))
	assert.Error(t, ValidatePattern("/./css/**"))
}

func TestMatchFirstWinsAndSkipsMethodMismatch(t *testing.T) {
	rules := []Rule{
		{Pattern: "/api/**", Methods: []string{http.MethodPost}, Requirement: RequireRole(2)},
		{Pattern: "/api/**", Requirement: PermitAll()},
		{Pattern: "/api/items", Requirement: RequireAuth()},
		{Pattern: CatchAllPattern, Requirement: RequireAuth()},
	}

	rule, ok := Match(rules, "/api/items", http.MethodGet)
	require.True(t, ok)
	assert.Equal(t, AccessPermitAll, rule.Requirement.Access)

	rule, ok = Match(rules, "/api/items", "post")
	require.True(t, ok)
	assert.Equal(t, AccessRole, rule.Requirement.Access)

	rule, ok = Match(rules, "/other", http.MethodGet)
	require.True(t, ok)
	assert.Equal(t, CatchAllPattern, rule.Pattern)

	_, ok = Match(rules[:1], "/other", http.MethodGet)
	assert.False(t, ok)
}

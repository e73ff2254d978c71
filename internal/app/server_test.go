package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/users"
	_ "github.com/odyssey-erp/gatekeeper/testing"
)

type client struct {
	handler http.Handler
	cookie  *http.Cookie
	name    string
}

func testConfig() *Config {
	return &Config{
		AppEnv:                  "test",
		AppRequestTimeout:       5 * time.Second,
		SessionSecret:           "session-secret",
		SessionTTL:              time.Hour,
		SessionCookie:           "gk_test",
		CSRFSecret:              "csrf-secret",
		AdminToken:              "let-me-in",
		UserStore:               UserStoreMemory,
		RateLimitPerMinute:      1000,
		LoginRateLimitPerMinute: 100,
	}
}

func newTestServer(t *testing.T, cfg *Config, tweaks ...func(*rbac.Config)) (http.Handler, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	policyCfg := rbac.DefaultConfig()
	last := len(policyCfg.Rules) - 1
	rules := append([]rbac.Rule{}, policyCfg.Rules[:last]...)
	policyCfg.Rules = append(rules, rbac.Rule{Pattern: "/admin/**", Requirement: rbac.RequireRole(roles.Admin)}, policyCfg.Rules[last])
	for _, tweak := range tweaks {
		tweak(&policyCfg)
	}
	policy, err := rbac.NewPolicy(policyCfg)
	require.NoError(t, err)

	metrics := observability.NewMetrics()
	handler, err := NewServer(Deps{
		Logger:  newLogger(cfg, &strings.Builder{}),
		Config:  cfg,
		Redis:   rdb,
		Policy:  policy,
		Users:   users.NewMemoryRepository(),
		Metrics: metrics,
	})
	require.NoError(t, err)
	return handler, metrics
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name != c.name {
			continue
		}
		if ck.MaxAge < 0 {
			c.cookie = nil
		} else {
			c.cookie = ck
		}
	}
	return rec
}

func (c *client) get(target string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (c *client) post(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func newClient(_ *testing.T, handler http.Handler, cfg *Config) *client {
	return &client{handler: handler, name: cfg.SessionCookie}
}

func TestHealthzBypassesSecurity(t *testing.T) {
	cfg := testConfig()
	handler, _ := newTestServer(t, cfg)
	rec := newClient(t, handler, cfg).get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStaticAssetsArePublic(t *testing.T) {
	cfg := testConfig()
	handler, _ := newTestServer(t, cfg)
	c := newClient(t, handler, cfg)

	rec := c.get("/css/app.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	rec = c.get("/images/logo.svg")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignupLoginLogoutFlow(t *testing.T) {
	cfg := testConfig()
	handler, metrics := newTestServer(t, cfg)
	c := newClient(t, handler, cfg)

	rec := c.get("/")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/user/login", rec.Header().Get("Location"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = c.get("/user/login")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign in")

	rec = c.post("/user/signup", url.Values{"username": {"alice"}, "password": {"wonderland"}, "email": {"alice@example.com"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/user/login", rec.Header().Get("Location"))

	rec = c.post("/user/login", url.Values{"username": {"alice"}, "password": {"nope-nope"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/user/login?error", rec.Header().Get("Location"))

	rec = c.post("/user/login", url.Values{"username": {"alice"}, "password": {"wonderland"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"), "saved request")

	rec = c.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	var who map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&who))
	assert.Equal(t, map[string]string{"username": "alice", "authority": "ROLE_USER"}, who)

	rec = c.get("/admin/users")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Access denied")

	rec = c.post("/user/logout", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/user/login?logout", rec.Header().Get("Location"))

	rec = c.get("/")
	assert.Equal(t, http.StatusFound, rec.Code)

	metricsRec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRec.Body.String()
	assert.Contains(t, body, `gatekeeper_logins_total{result="success"} 1`)
	assert.Contains(t, body, `gatekeeper_logins_total{result="failure"} 1`)
	assert.Contains(t, body, `gatekeeper_security_decisions_total{action="render_forbidden",outcome="deny_forbidden"} 1`)
}

func TestAdminArea(t *testing.T) {
	cfg := testConfig()
	handler, _ := newTestServer(t, cfg)
	c := newClient(t, handler, cfg)

	rec := c.post("/user/signup", url.Values{
		"username": {"root"}, "password": {"supersecret"}, "email": {"root@example.com"},
		"admin": {"true"}, "admin_token": {"let-me-in"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = c.get("/admin/users")
	require.Equal(t, http.StatusFound, rec.Code)

	rec = c.post("/user/login", url.Values{"username": {"root"}, "password": {"supersecret"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/users", rec.Header().Get("Location"))

	rec = c.get("/admin/users")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"authority":"ROLE_ADMIN"`)

	rec = c.get("/admin/jobs/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutesHonorPolicyHierarchy(t *testing.T) {
	cfg := testConfig()
	handler, _ := newTestServer(t, cfg, func(c *rbac.Config) {
		c.Hierarchy = roles.Hierarchy{roles.User: {roles.Admin}}
	})
	c := newClient(t, handler, cfg)

	rec := c.post("/user/signup", url.Values{"username": {"alice"}, "password": {"wonderland"}, "email": {"alice@example.com"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	rec = c.post("/user/login", url.Values{"username": {"alice"}, "password": {"wonderland"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = c.get("/admin/users")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = c.get("/admin/jobs/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCSRFEnforcedWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.CSRFEnabled = true
	cfg.CSRFIgnore = []string{"/user/signup"}
	handler, _ := newTestServer(t, cfg)
	c := newClient(t, handler, cfg)

	rec := c.post("/user/signup", url.Values{"username": {"alice"}, "password": {"wonderland"}, "email": {"alice@example.com"}})
	require.Equal(t, http.StatusSeeOther, rec.Code, "ignored pattern")

	rec = c.post("/user/login", url.Values{"username": {"alice"}, "password": {"wonderland"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = c.get("/user/login")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	const marker = `name="csrf_token" value="`
	i := strings.Index(body, marker)
	require.GreaterOrEqual(t, i, 0)
	token := body[i+len(marker):]
	token = token[:strings.IndexByte(token, '"')]

	rec = c.post("/user/login", url.Values{"username": {"alice"}, "password": {"wonderland"}, "csrf_token": {token}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestLoadPolicy(t *testing.T) {
	policy, err := LoadPolicy(&Config{})
	require.NoError(t, err)
	assert.Equal(t, "/user/login", policy.LoginPage())

	policy, err = LoadPolicy(&Config{PolicyFile: "../rbac/testdata/policy.yaml"})
	require.NoError(t, err)
	assert.True(t, policy.Ignored("/h2-console/index"))

	_, err = LoadPolicy(&Config{PolicyFile: "does-not-exist.yaml"})
	assert.Error(t, err)
}

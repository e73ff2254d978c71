package users_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
	"github.com/odyssey-erp/gatekeeper/internal/view"
)

func newRouter(t *testing.T, token string, identity shared.Identity) http.Handler {
	t.Helper()
	svc, _ := newService(token)
	templates, err := view.NewEngine()
	require.NoError(t, err)
	h := users.NewHandler(nil, svc, templates, shared.NewCSRFManager("csrf"), rbac.Middleware{}, "/user/login")
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithIdentity(req.Context(), identity)))
		})
	})
	h.MountRoutes(r)
	r.Route("/admin", h.MountAdminRoutes)
	return r
}

func postForm(target string, form url.Values, jsonClient bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if jsonClient {
		req.Header.Set("Accept", "application/json")
	}
	return req
}

func TestSignupPage(t *testing.T) {
	router := newRouter(t, "", shared.Anonymous)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/signup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<form")
}

func TestSignupRedirectsToLogin(t *testing.T) {
	router := newRouter(t, "", shared.Anonymous)
	form := url.Values{"username": {"alice"}, "password": {"wonderland"}, "email": {"alice@example.com"}}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, postForm("/user/signup", form, false))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/user/login", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, postForm("/user/signup", form, false))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="alice"`)
	assert.Contains(t, rec.Body.String(), "Username: taken")
}

func TestSignupMultibytePasswordReRendersForm(t *testing.T) {
	router := newRouter(t, "", shared.Anonymous)
	form := url.Values{"username": {"minji"}, "password": {strings.Repeat("비", 30)}, "email": {"minji@example.com"}}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, postForm("/user/signup", form, false))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="minji"`)
	assert.Contains(t, rec.Body.String(), "Password: max")
}

func TestSignupJSONClient(t *testing.T) {
	router := newRouter(t, "tok", shared.Anonymous)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, postForm("/user/signup", url.Values{"username": {"a"}}, true))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body.Errors, "Password")

	form := url.Values{"username": {"root"}, "password": {"supersecret"}, "email": {"root@example.com"}, "admin": {"true"}, "admin_token": {"tok"}}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, postForm("/user/signup", form, true))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"authority":"ROLE_ADMIN"`)

	form.Set("username", "root2")
	form.Set("admin_token", "bad")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, postForm("/user/signup", form, true))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminUsersRequiresAdmin(t *testing.T) {
	cases := []struct {
		name     string
		identity shared.Identity
		want     int
	}{
		{"anonymous", shared.Anonymous, http.StatusUnauthorized},
		{"user", shared.Identity{Username: "alice", Role: roles.User}, http.StatusForbidden},
		{"admin", shared.Identity{Username: "root", Role: roles.Admin}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newRouter(t, "", tc.identity).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAdminUsersPaginates(t *testing.T) {
	router := newRouter(t, "", shared.Identity{Username: "root", Role: roles.Admin})
	for _, name := range []string{"alice", "bob", "carol"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, postForm("/user/signup", url.Values{"username": {name}, "password": {"wonderland"}, "email": {name + "@example.com"}}, true))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users?page=2&per_page=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Users []struct {
			Username string `json:"username"`
		} `json:"users"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Users, 1)
	assert.Equal(t, "carol", body.Users[0].Username)
	assert.Equal(t, shared.Pagination{Page: 2, PerPage: 2, Total: 3, TotalPages: 2}, body.Pagination)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users?page=4611686018427387904&per_page=20", nil))
	require.Equal(t, http.StatusOK, rec.Code, "page past the end is empty, not an error")
	body.Users = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Empty(t, body.Users)
}

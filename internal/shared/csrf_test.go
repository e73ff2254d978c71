package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

func TestCSRFVerify(t *testing.T) {
	sm, _ := newManager(t)
	csrf := shared.NewCSRFManager("csrfsecret")
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	token, err := csrf.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	again, _ := csrf.EnsureToken(context.Background(), sess)
	assert.Equal(t, token, again)

	assert.NoError(t, csrf.VerifyToken(context.Background(), sess, token))
	assert.ErrorIs(t, csrf.VerifyToken(context.Background(), sess, "nope"), shared.ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(context.Background(), sess, ""), shared.ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(context.Background(), nil, token), shared.ErrCSRFTokenMissing)

	csrf.Rotate(sess)
	assert.ErrorIs(t, csrf.VerifyToken(context.Background(), sess, token), shared.ErrCSRFTokenMissing)
}

func TestCSRFMiddleware(t *testing.T) {
	sm, _ := newManager(t)
	csrf := shared.NewCSRFManager("csrfsecret")
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	token, _ := csrf.EnsureToken(context.Background(), sess)

	skip := func(r *http.Request) bool { return strings.HasPrefix(r.URL.Path, "/hooks/") }
	h := csrf.Middleware(nil, skip)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(method, target string, form url.Values, header string) int {
		req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if header != "" {
			req.Header.Set(shared.CSRFHeader, header)
		}
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, serve(http.MethodGet, "/x", nil, ""))
	assert.Equal(t, http.StatusForbidden, serve(http.MethodPost, "/x", nil, ""))
	assert.Equal(t, http.StatusNoContent, serve(http.MethodPost, "/x", url.Values{shared.CSRFFormField: {token}}, ""))
	assert.Equal(t, http.StatusNoContent, serve(http.MethodPost, "/x", nil, token))
	assert.Equal(t, http.StatusNoContent, serve(http.MethodPost, "/hooks/in", nil, ""))
}

package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{shared.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", shared.ErrDuplicate), http.StatusConflict},
		{ErrValidation, http.StatusBadRequest},
		{ErrForbidden, http.StatusForbidden},
		{shared.ErrBadCredential, http.StatusUnauthorized},
		{fmt.Errorf("redis: %w", shared.ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	}
}

func TestProblemBody(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, http.StatusForbidden, "Forbidden", "nope")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"title":"Forbidden","status":403,"detail":"nope"}`, rec.Body.String())
}

func TestWantsJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, WantsJSON(req))

	req.Header.Set("Accept", "text/html,application/json;q=0.9")
	assert.True(t, WantsJSON(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	assert.True(t, WantsJSON(req))
}

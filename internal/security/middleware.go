package security

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// MiddlewareConfig wires the engine into the HTTP layer.
type MiddlewareConfig struct {
	// SessionRef extracts the session reference from the request.
	SessionRef func(*http.Request) string
	// Forbidden renders the forbidden page. It must write a 403.
	Forbidden http.Handler
}

// Middleware enforces decisions. Allowed requests continue with the
// resolved identity in their context.
func (e *Engine) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ref := ""
			if cfg.SessionRef != nil {
				ref = cfg.SessionRef(r)
			}
			res, err := e.Decide(r.Context(), Request{Path: r.URL.Path, Method: r.Method, SessionRef: ref})
			if err != nil {
				e.fail(w, r, err)
				return
			}

			switch res.Action {
			case Proceed:
				next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), res.Identity)))
			case RedirectToLogin:
				e.redirectToLogin(w, r, res)
			case RenderForbidden:
				e.logger.Warn("access denied",
					slog.String("user", res.Identity.Username),
					slog.String("authority", res.Identity.Authority()),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("rule", res.Decision.Rule.String()))
				if httpx.WantsJSON(r) || cfg.Forbidden == nil {
					httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
					return
				}
				cfg.Forbidden.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), res.Identity)))
			}
		})
	}
}

func (e *Engine) redirectToLogin(w http.ResponseWriter, r *http.Request, res Result) {
	if httpx.WantsJSON(r) {
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title:    "Unauthorized",
			Status:   http.StatusUnauthorized,
			Location: res.Location,
		})
		return
	}
	if r.Method == http.MethodGet {
		if sess := shared.SessionFromContext(r.Context()); sess != nil {
			sess.Set(shared.SavedRequestKey, r.URL.RequestURI())
		}
	}
	http.Redirect(w, r, res.Location, http.StatusFound)
}

func (e *Engine) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, shared.ErrUnavailable) {
		e.logger.Error("security decision unavailable", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	e.logger.Error("security decision failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

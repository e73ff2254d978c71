package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Middleware guards individual handlers by role, on top of the URL
// policy enforced for every request.
type Middleware struct {
	Hierarchy roles.Hierarchy
	Logger    *slog.Logger
}

// RequireAny ensures the current identity holds at least one of the roles.
func (m Middleware) RequireAny(required ...roles.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			id := shared.IdentityFromContext(r.Context())
			if !id.Authenticated() {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if m.holdsAny(id.Role, required) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac role check failed",
					slog.String("user", id.Username),
					slog.String("authority", id.Authority()),
					slog.String("path", r.URL.Path))
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func (m Middleware) holdsAny(held roles.Role, required []roles.Role) bool {
	for _, r := range required {
		if m.Hierarchy.Implies(held, r) {
			return true
		}
	}
	return false
}

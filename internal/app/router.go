package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/security"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
	"github.com/odyssey-erp/gatekeeper/internal/view"
	"github.com/odyssey-erp/gatekeeper/jobs"
	"github.com/odyssey-erp/gatekeeper/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Engine         *security.Engine
	AuthHandler    *auth.Handler
	UsersHandler   *users.Handler
	JobHandler     *jobs.Handler
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with gatekeeper defaults. Only
// /healthz is served outside the security layer.
func NewRouter(params RouterParams) http.Handler {
	root := chi.NewRouter()
	root.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r := chi.NewRouter()
	root.Mount("/", r)

	forbidden := forbiddenPage(params.Templates, params.Logger, http.StatusForbidden)
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Engine:         params.Engine,
		Forbidden:      forbidden,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		id := shared.IdentityFromContext(r.Context())
		httpx.JSON(w, http.StatusOK, map[string]string{
			"username":  id.Username,
			"authority": id.Authority(),
		})
	})

	policy := params.Engine.Policy()
	r.Get(policy.ForbiddenPage(), forbiddenPage(params.Templates, params.Logger, http.StatusOK))

	loginLimit := 10
	if params.Config != nil && params.Config.LoginRateLimitPerMinute > 0 {
		loginLimit = params.Config.LoginRateLimitPerMinute
	}
	r.Group(func(r chi.Router) {
		r.Use(limitPosts(loginLimit))
		params.AuthHandler.MountRoutes(r)
		if params.UsersHandler != nil {
			params.UsersHandler.MountRoutes(r)
		}
	})

	r.Route("/admin", func(r chi.Router) {
		if params.UsersHandler != nil {
			params.UsersHandler.MountAdminRoutes(r)
		}
		if params.JobHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(roles.Admin))
				r.Route("/jobs", params.JobHandler.MountRoutes)
			})
		}
	})

	// Stylesheets and images, public under the default policy.
	fileServer := staticCacheHandler(http.FileServer(http.FS(web.Assets())))
	r.Handle("/css/*", fileServer)
	r.Handle("/images/*", fileServer)

	return root
}

func forbiddenPage(templates *view.Engine, logger *slog.Logger, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := templates.Render(w, status, "pages/forbidden.html", view.TemplateData{
			Title:       "Forbidden",
			CurrentPath: r.URL.Path,
			Identity:    shared.IdentityFromContext(r.Context()),
		})
		if err != nil {
			logger.Error("render forbidden", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		}
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers.
// Static assets are cached for 1 hour in browser.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}

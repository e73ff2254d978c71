package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/security"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Engine         *security.Engine
	Forbidden      http.Handler
	Metrics        *observability.Metrics
}

// MiddlewareStack installs the gatekeeper middleware chain. The session is
// loaded before CSRF and the access decision, which run last.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         cfg.Config == nil || !cfg.Config.IsProduction(),
	})

	timeout := 30 * time.Second
	rateLimit := 120
	if cfg.Config != nil {
		if cfg.Config.AppRequestTimeout > 0 {
			timeout = cfg.Config.AppRequestTimeout
		}
		if cfg.Config.RateLimitPerMinute > 0 {
			rateLimit = cfg.Config.RateLimitPerMinute
		}
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	middlewares = append(middlewares, cfg.SessionManager.Middleware(cfg.Logger))
	if cfg.Config != nil && cfg.Config.CSRFEnabled {
		middlewares = append(middlewares, cfg.CSRFManager.Middleware(cfg.Logger, csrfSkipper(cfg.Config.CSRFIgnore, cfg.Engine)))
	}
	middlewares = append(middlewares, cfg.Engine.Middleware(security.MiddlewareConfig{
		SessionRef: cfg.SessionManager.SessionRef,
		Forbidden:  cfg.Forbidden,
	}))
	return middlewares
}

// csrfSkipper exempts CSRF_IGNORE patterns and paths the access policy
// ignores altogether.
func csrfSkipper(patterns []string, engine *security.Engine) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if engine != nil && engine.Policy().Ignored(r.URL.Path) {
			return true
		}
		for _, pattern := range patterns {
			if rbac.Matches(pattern, r.URL.Path) {
				return true
			}
		}
		return false
	}
}

// limitPosts rate limits POST requests per client IP, leaving other
// methods untouched.
func limitPosts(perMinute int) func(http.Handler) http.Handler {
	limiter := httprate.LimitByIP(perMinute, time.Minute)
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

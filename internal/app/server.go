package app

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/security"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
	"github.com/odyssey-erp/gatekeeper/internal/view"
	"github.com/odyssey-erp/gatekeeper/jobs"
)

// Deps are the long-lived collaborators the HTTP server is built from.
type Deps struct {
	Logger  *slog.Logger
	Config  *Config
	Redis   *redis.Client
	Policy  *rbac.Policy
	Users   users.Repository
	Metrics *observability.Metrics

	// Optional.
	LoginSessions auth.Repository
	Audit         *shared.AuditLogger
	Jobs          jobs.QueueInspector
}

// NewServer wires services, handlers and middleware into one handler.
func NewServer(d Deps) (http.Handler, error) {
	if d.Config == nil || d.Redis == nil || d.Policy == nil || d.Users == nil {
		return nil, errors.New("app: config, redis, policy and users are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	templates, err := view.NewEngine()
	if err != nil {
		return nil, err
	}
	sessions := shared.NewSessionManager(d.Redis, d.Config.SessionCookie, d.Config.SessionSecret, d.Config.SessionTTL, d.Config.IsProduction())
	csrf := shared.NewCSRFManager(d.Config.CSRFSecret)
	guard := rbac.Middleware{Hierarchy: d.Policy.Hierarchy(), Logger: logger}

	authService := auth.NewService(d.Users, sessions, d.LoginSessions).WithSessionTTL(d.Config.SessionTTL)
	authHandler := auth.NewHandler(logger, authService, templates, sessions, csrf, d.Policy).
		WithObserver(d.Metrics)
	if d.Audit != nil {
		authHandler.WithAudit(d.Audit)
	}

	usersHandler := users.NewHandler(logger, users.NewService(d.Users, d.Config.AdminToken), templates, csrf, guard, d.Policy.LoginPage())

	engine := security.NewEngine(d.Policy, sessions).WithLogger(logger)
	if d.Metrics != nil {
		engine.WithObserver(d.Metrics)
	}

	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         d.Config,
		Templates:      templates,
		SessionManager: sessions,
		CSRFManager:    csrf,
		Engine:         engine,
		AuthHandler:    authHandler,
		UsersHandler:   usersHandler,
		JobHandler:     jobs.NewHandler(d.Jobs, logger),
		RBACMiddleware: guard,
		Metrics:        d.Metrics,
	}), nil
}

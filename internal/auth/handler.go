package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
	"github.com/odyssey-erp/gatekeeper/internal/view"
)

// Login results reported to the LoginObserver.
const (
	LoginSuccess     = "success"
	LoginFailure     = "failure"
	LoginInvalid     = "invalid"
	LoginUnavailable = "unavailable"
)

// LoginObserver counts login attempts.
type LoginObserver interface {
	ObserveLogin(result string)
}

// AuditRecorder persists security events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	policy         *rbac.Policy
	validator      *validator.Validate
	audit          AuditRecorder
	observer       LoginObserver
}

// NewHandler constructs a Handler instance. Endpoint paths come from the
// access policy.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, policy *rbac.Policy) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		policy:         policy,
		validator:      validator.New(),
	}
}

// WithAudit records login and logout events through a.
func (h *Handler) WithAudit(a AuditRecorder) *Handler {
	h.audit = a
	return h
}

// WithObserver reports login results to o.
func (h *Handler) WithObserver(o LoginObserver) *Handler {
	h.observer = o
	return h
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get(h.policy.LoginPage(), h.showLogin)
	r.Post(h.policy.LoginProcessingURL(), h.handleLogin)
	r.Get(h.policy.LogoutURL(), h.handleLogout)
	r.Post(h.policy.LogoutURL(), h.handleLogout)
}

type loginForm struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required,max=72"`
}

type loginPageData struct {
	Action string
}

// Notices shown on the login page, keyed by query flag.
var loginNotices = []struct{ flag, text string }{
	{"error", "Invalid username or password."},
	{"unavailable", "Sign in is temporarily unavailable. Please try again."},
	{"logout", "You have been signed out."},
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, r, http.StatusOK)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int) {
	sess := shared.SessionFromContext(r.Context())
	var (
		csrfToken string
		flash     *shared.FlashMessage
	)
	if sess != nil {
		csrfToken, _ = h.csrfManager.EnsureToken(r.Context(), sess)
		flash = sess.PopFlash()
	}
	notice := ""
	query := r.URL.Query()
	for _, n := range loginNotices {
		if query.Has(n.flag) {
			notice = n.text
			break
		}
	}
	err := h.templates.Render(w, status, "pages/login.html", view.TemplateData{
		Title:       "Sign in",
		CSRFToken:   csrfToken,
		Flash:       flash,
		Notice:      notice,
		CurrentPath: r.URL.Path,
		Data:        loginPageData{Action: h.policy.LoginProcessingURL()},
	})
	if err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}
	if err := h.validator.Struct(form); err != nil || !users.PasswordFits(form.Password) {
		h.observe(LoginInvalid)
		h.loginFailed(w, r, form.Username)
		return
	}

	identity, err := h.service.Login(r.Context(), form.Username, form.Password)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrBadCredential):
		h.observe(LoginFailure)
		h.recordAudit(r.Context(), shared.AuditLog{
			Actor:    form.Username,
			Action:   shared.AuditLoginFailed,
			Entity:   "user",
			EntityID: form.Username,
			Meta:     map[string]any{"ip": r.RemoteAddr},
		})
		h.loginFailed(w, r, form.Username)
		return
	case errors.Is(err, shared.ErrUnavailable):
		h.observe(LoginUnavailable)
		h.logger.Error("login store unavailable", slog.Any("error", err))
		if httpx.WantsJSON(r) {
			httpx.RespondError(w, err)
			return
		}
		http.Redirect(w, r, h.policy.LoginPage()+"?unavailable", http.StatusSeeOther)
		return
	default:
		h.logger.Error("login failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	target := safeTarget(sess.Get(shared.SavedRequestKey), h.policy.DefaultSuccessURL())
	sess.Delete(shared.SavedRequestKey)
	sess.Regenerate(h.sessionManager)
	sess.SetIdentity(identity)
	h.csrfManager.Rotate(sess)

	if err := h.service.RecordLogin(r.Context(), sess.ID, identity, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("record login session", slog.Any("error", err))
	}
	h.recordAudit(r.Context(), shared.AuditLog{
		Actor:    identity.Username,
		Action:   shared.AuditLoginSucceeded,
		Entity:   "user",
		EntityID: identity.Username,
		Meta:     map[string]any{"ip": r.RemoteAddr, "authority": identity.Authority()},
	})
	h.observe(LoginSuccess)
	h.logger.Info("login succeeded", slog.String("user", identity.Username), slog.String("authority", identity.Authority()))

	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]string{
			"username":  identity.Username,
			"authority": identity.Authority(),
			"redirect":  target,
		})
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// loginFailed answers every rejected credential the same way so the
// response never reveals which half of the pair was wrong.
func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request, username string) {
	h.logger.Info("login rejected", slog.String("user", username))
	if httpx.WantsJSON(r) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid username or password")
		return
	}
	http.Redirect(w, r, h.policy.FailureURL(), http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		identity := sess.Identity()
		if err := h.service.Logout(r.Context(), sess.ID); err != nil {
			h.logger.Error("logout", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		h.sessionManager.Destroy(sess)
		if identity.Authenticated() {
			h.recordAudit(r.Context(), shared.AuditLog{
				Actor:    identity.Username,
				Action:   shared.AuditLogout,
				Entity:   "user",
				EntityID: identity.Username,
			})
		}
	}
	http.Redirect(w, r, h.policy.LogoutSuccessURL(), http.StatusSeeOther)
}

func (h *Handler) observe(result string) {
	if h.observer != nil {
		h.observer.ObserveLogin(result)
	}
}

func (h *Handler) recordAudit(ctx context.Context, log shared.AuditLog) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, log); err != nil {
		h.logger.Warn("audit record", slog.String("action", log.Action), slog.Any("error", err))
	}
}

// safeTarget accepts only local absolute paths as post-login targets.
func safeTarget(saved, fallback string) string {
	if saved == "" || !strings.HasPrefix(saved, "/") || strings.HasPrefix(saved, "//") || strings.HasPrefix(saved, "/\\") {
		return fallback
	}
	return saved
}

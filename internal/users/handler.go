package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/roles"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/view"
)

// Handler manages signup and account administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	loginPage string
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware, loginPage string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbac, loginPage: loginPage}
}

// SignupPath serves the registration form and accepts submissions.
const SignupPath = "/user/signup"

// MountRoutes registers the public signup routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get(SignupPath, h.showSignup)
	r.Post(SignupPath, h.signup)
}

type signupPageData struct {
	Username  string
	Email     string
	LoginPage string
	Errors    map[string]string
}

func (h *Handler) showSignup(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, signupPageData{LoginPage: h.loginPage})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, data signupPageData) {
	sess := shared.SessionFromContext(r.Context())
	var (
		token string
		flash *shared.FlashMessage
	)
	if sess != nil {
		token, _ = h.csrf.EnsureToken(r.Context(), sess)
		flash = sess.PopFlash()
	}
	err := h.templates.Render(w, status, "pages/signup.html", view.TemplateData{
		Title:       "Create account",
		CSRFToken:   token,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	})
	if err != nil {
		h.logger.Error("render signup", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// MountAdminRoutes registers account administration under /admin.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(roles.Admin))
		r.Get("/users", h.listUsers)
	})
}

type userView struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Authority string    `json:"authority"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toView(u User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Authority: roles.AuthorityOf(u.Role),
		Active:    u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	page := shared.PaginationFromQuery(r.URL.Query(), len(list))
	start, end := page.Bounds()
	out := make([]userView, 0, end-start)
	for _, u := range list[start:end] {
		out = append(out, toView(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out, "pagination": page})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	admin, _ := strconv.ParseBool(r.PostFormValue("admin"))
	in := SignupInput{
		Username:   r.PostFormValue("username"),
		Password:   r.PostFormValue("password"),
		Email:      r.PostFormValue("email"),
		Admin:      admin,
		AdminToken: r.PostFormValue("admin_token"),
	}

	user, err := h.service.Register(r.Context(), in)
	if err != nil {
		h.signupFailed(w, r, in, err)
		return
	}
	h.logger.Info("user registered",
		slog.String("user", user.Username),
		slog.String("authority", roles.AuthorityOf(user.Role)))
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusCreated, toView(*user))
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Account created. Please sign in."})
	}
	http.Redirect(w, r, h.loginPage, http.StatusSeeOther)
}

func (h *Handler) signupFailed(w http.ResponseWriter, r *http.Request, in SignupInput, err error) {
	page := signupPageData{Username: in.Username, Email: in.Email, LoginPage: h.loginPage}
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		if httpx.WantsJSON(r) {
			httpx.JSON(w, http.StatusBadRequest, map[string]any{"errors": verr.Fields})
			return
		}
		page.Errors = verr.Fields
		h.render(w, r, http.StatusBadRequest, page)
	case errors.Is(err, shared.ErrDuplicate):
		if httpx.WantsJSON(r) {
			httpx.RespondError(w, err)
			return
		}
		page.Errors = map[string]string{"Username": "taken"}
		h.render(w, r, http.StatusConflict, page)
	case errors.Is(err, ErrAdminTokenMismatch):
		h.logger.Warn("admin signup rejected", slog.String("user", NormalizeUsername(in.Username)))
		if httpx.WantsJSON(r) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "admin token mismatch")
			return
		}
		page.Errors = map[string]string{"AdminToken": "mismatch"}
		h.render(w, r, http.StatusForbidden, page)
	default:
		h.logger.Error("signup failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

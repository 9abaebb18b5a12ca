package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/simplement/accounts/internal/observability"
	"github.com/simplement/accounts/internal/platform/httpx"
	"github.com/simplement/accounts/internal/shared"
	"github.com/simplement/accounts/internal/view"
)

// EmailVerifier is the slice of the verification gate the auth handler
// needs: the account page shows verification state and signup triggers the
// first confirmation email.
type EmailVerifier interface {
	HasVerifiedEmail(ctx context.Context, userID int64) (bool, error)
	SendEmailVerification(ctx context.Context, userID int64) (bool, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	verifier       EmailVerifier
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
	metrics        *observability.Metrics
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, verifier EmailVerifier, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		verifier:       verifier,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
		metrics:        metrics,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/signup", h.showSignup)
	r.Post("/signup", h.handleSignup)
}

// MountAccountRoutes registers the signed-in account pages. The login
// history lists addresses and user agents, so it sits behind the
// verification gate.
func (h *Handler) MountAccountRoutes(r chi.Router, requireVerified func(http.Handler) http.Handler) {
	r.Get("/", h.showAccount)
	if requireVerified != nil {
		r.With(requireVerified).Get("/logins", h.showLoginHistory)
	} else {
		r.Get("/logins", h.showLoginHistory)
	}
}

// MountAPIRoutes registers the JSON endpoints.
func (h *Handler) MountAPIRoutes(r chi.Router) {
	r.Get("/me", h.handleMe)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
	Remember bool
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if su := SessionUserFromContext(r.Context()); su.LoggedIn() {
		http.Redirect(w, r, "/account", http.StatusSeeOther)
		return
	}
	h.renderLogin(w, r, http.StatusOK, loginPageData{})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	su := SessionUserFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())

	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		Remember: r.PostFormValue("remember") == "1",
	}
	formErrors := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				formErrors[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}

	if len(formErrors) == 0 {
		identity, err := h.service.Authenticate(r.Context(), form.Email, form.Password, RequestMetaFromHTTP(r))
		switch {
		case errors.Is(err, shared.ErrAuthentication):
			h.metrics.LoginFailure()
			formErrors["general"] = "Invalid email or password"
		case err != nil:
			h.logger.Error("authenticate", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		default:
			su.Login(identity)
			h.metrics.LoginSuccess()
			if form.Remember {
				if err := h.service.RememberMe(r.Context(), su); err != nil {
					h.logger.Warn("issue remember token", slog.Any("error", err))
				}
			}
			if sess != nil {
				sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back"})
			}
			http.Redirect(w, r, "/account", http.StatusSeeOther)
			return
		}
	}

	form.Password = ""
	h.renderLogin(w, r, http.StatusBadRequest, loginPageData{Form: form, Errors: formErrors})
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, data loginPageData) {
	viewData := h.baseData(r, "Sign in")
	viewData.Data = data
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	su := SessionUserFromContext(r.Context())
	if su != nil {
		su.Logout(r.Context())
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type signupForm struct {
	FirstName string `validate:"required,max=100"`
	LastName  string `validate:"required,max=100"`
	Email     string `validate:"required,email"`
	Phone     string `validate:"omitempty,max=32"`
	Password  string `validate:"required,min=8"`
}

type signupPageData struct {
	Form   signupForm
	Errors map[string]string
}

func (h *Handler) showSignup(w http.ResponseWriter, r *http.Request) {
	if su := SessionUserFromContext(r.Context()); su.LoggedIn() {
		http.Redirect(w, r, "/account", http.StatusSeeOther)
		return
	}
	h.renderSignup(w, r, http.StatusOK, signupPageData{})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	su := SessionUserFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())

	form := signupForm{
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
		Email:     r.PostFormValue("email"),
		Phone:     r.PostFormValue("phone"),
		Password:  r.PostFormValue("password"),
	}
	formErrors := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				formErrors[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}

	if len(formErrors) == 0 {
		err := h.service.CreateUser(r.Context(), form.Email, form.Password, form.FirstName, form.LastName, form.Phone)
		switch {
		case errors.Is(err, shared.ErrAuthentication):
			// Same wording as a failed login so the form does not reveal
			// whether the address is registered.
			formErrors["general"] = "Unable to create an account with these details"
		case err != nil:
			h.logger.Error("create user", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		default:
			h.metrics.SignupCreated()
			identity, err := h.service.Authenticate(r.Context(), form.Email, form.Password, RequestMetaFromHTTP(r))
			if err != nil {
				h.logger.Error("post-signup authenticate", slog.Any("error", err))
				http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
				return
			}
			su.Login(identity)
			if h.verifier != nil {
				sent, err := h.verifier.SendEmailVerification(r.Context(), identity.ID)
				if err != nil {
					h.logger.Warn("send verification email", slog.Any("error", err))
				} else if sent {
					h.metrics.VerificationSent()
				}
			}
			if sess != nil {
				sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Account created. Check your inbox to verify your email address."})
			}
			http.Redirect(w, r, "/account", http.StatusSeeOther)
			return
		}
	}

	form.Password = ""
	h.renderSignup(w, r, http.StatusBadRequest, signupPageData{Form: form, Errors: formErrors})
}

func (h *Handler) renderSignup(w http.ResponseWriter, r *http.Request, status int, data signupPageData) {
	viewData := h.baseData(r, "Sign up")
	viewData.Data = data
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, "pages/signup.html", viewData); err != nil {
		h.logger.Error("render signup", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type accountPageData struct {
	Identity      *Identity
	EmailVerified bool
}

func (h *Handler) showAccount(w http.ResponseWriter, r *http.Request) {
	su := SessionUserFromContext(r.Context())
	if !su.LoggedIn() {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	identity := su.Identity()

	verified := false
	if h.verifier != nil {
		ok, err := h.verifier.HasVerifiedEmail(r.Context(), identity.ID)
		if err != nil {
			h.logger.Warn("verification lookup", slog.Any("error", err))
		} else {
			verified = ok
		}
	}

	viewData := h.baseData(r, "Your account")
	viewData.Data = accountPageData{
		Identity:      identity,
		EmailVerified: verified,
	}
	if err := h.templates.Render(w, "pages/account.html", viewData); err != nil {
		h.logger.Error("render account", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type loginHistoryPageData struct {
	History []LoginEntry
}

func (h *Handler) showLoginHistory(w http.ResponseWriter, r *http.Request) {
	su := SessionUserFromContext(r.Context())
	if !su.LoggedIn() {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}

	history, err := h.service.LoginHistory(r.Context(), su.Identity().ID, 50)
	if err != nil {
		h.logger.Error("login history", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	viewData := h.baseData(r, "Recent sign-ins")
	viewData.Data = loginHistoryPageData{History: history}
	if err := h.templates.Render(w, "pages/logins.html", viewData); err != nil {
		h.logger.Error("render login history", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	su := SessionUserFromContext(r.Context())
	if !su.LoggedIn() {
		httpx.RespondError(w, shared.ErrAuthentication)
		return
	}
	httpx.JSON(w, http.StatusOK, su.Identity())
}

func (h *Handler) baseData(r *http.Request, title string) view.TemplateData {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	su := SessionUserFromContext(r.Context())
	userName := ""
	if su.LoggedIn() {
		userName = su.Identity().FullName()
	}
	return view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		LoggedIn:    su.LoggedIn(),
		UserName:    userName,
	}
}

func fieldMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Enter a valid email address"
	case "min":
		return "Too short"
	case "max":
		return "Too long"
	default:
		return "Invalid value"
	}
}

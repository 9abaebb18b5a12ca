package verification

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/simplement/accounts/internal/auth"
	"github.com/simplement/accounts/internal/observability"
	"github.com/simplement/accounts/internal/shared"
	"github.com/simplement/accounts/internal/view"
)

// Handler wires the email confirmation endpoints.
type Handler struct {
	logger      *slog.Logger
	gate        *Gate
	templates   *view.Engine
	csrfManager *shared.CSRFManager
	metrics     *observability.Metrics
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, gate *Gate, templates *view.Engine, csrf *shared.CSRFManager, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:      logger,
		gate:        gate,
		templates:   templates,
		csrfManager: csrf,
		metrics:     metrics,
	}
}

// MountRoutes registers verification routes, mounted under /auth.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/verify/email", h.handleConfirm)
	r.Post("/verify/resend", h.handleResend)
}

type verifyResultData struct {
	Verified bool
}

// handleConfirm is the target of the link mailed to the user. The link
// carries the user id and the single-use hash.
func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	hash := r.URL.Query().Get("hash")
	verified := false
	if err == nil && hash != "" {
		verified, err = h.gate.VerifyEmail(r.Context(), userID, hash)
		if err != nil {
			h.logger.Error("verify email", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}
	if verified {
		h.metrics.VerificationConfirmed()
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	su := auth.SessionUserFromContext(r.Context())
	userName := ""
	if su.LoggedIn() {
		userName = su.Identity().FullName()
	}
	viewData := view.TemplateData{
		Title:       "Email verification",
		CSRFToken:   csrfToken,
		CurrentPath: r.URL.Path,
		LoggedIn:    su.LoggedIn(),
		UserName:    userName,
		Data:        verifyResultData{Verified: verified},
	}
	if err := h.templates.Render(w, "pages/verify_result.html", viewData); err != nil {
		h.logger.Error("render verify result", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	su := auth.SessionUserFromContext(r.Context())
	if !su.LoggedIn() {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	sent, err := h.gate.SendEmailVerification(r.Context(), su.Identity().ID)
	if err != nil {
		h.logger.Error("resend verification", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if sent {
		h.metrics.VerificationSent()
		if sess != nil {
			sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Verification email sent. Check your inbox."})
		}
	} else if sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Your email address does not need verification."})
	}
	http.Redirect(w, r, "/account", http.StatusSeeOther)
}

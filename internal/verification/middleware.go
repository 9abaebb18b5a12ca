package verification

import (
	"log/slog"
	"net/http"

	"github.com/simplement/accounts/internal/auth"
)

// Middleware wires verification checks for HTTP handlers.
type Middleware struct {
	Gate   *Gate
	Logger *slog.Logger
}

// RequireVerified ensures the current user meets the configured minimum
// verification level. Anonymous requests are redirected to the login page,
// unverified users are refused.
func (m Middleware) RequireVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		su := auth.SessionUserFromContext(r.Context())
		if !su.LoggedIn() {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
		ok, err := m.Gate.IsVerified(r.Context(), su.Identity().ID)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("verification check", slog.Any("error", err))
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

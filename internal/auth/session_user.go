package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/simplement/accounts/internal/shared"
)

// CookieJar is the cookie transport the authenticator writes through. The
// HTTP boundary provides an implementation per request; the service itself
// never touches http types.
type CookieJar interface {
	RememberToken() (string, bool)
	SetRememberToken(value string, expires time.Time)
	ClearRememberToken()
}

// SessionUser wraps the shared session with the authenticator and exposes
// the authenticated identity. Constructing it is the single place silent
// cookie re-authentication happens: once per request, only when the
// session holds no identity.
type SessionUser struct {
	sess     *shared.Session
	svc      *Service
	jar      CookieJar
	meta     RequestMeta
	identity *Identity
}

// NewSessionUser builds the per-request session wrapper. When the session
// is anonymous it attempts a remember-me login before returning.
func NewSessionUser(ctx context.Context, sess *shared.Session, svc *Service, jar CookieJar, meta RequestMeta) *SessionUser {
	su := &SessionUser{sess: sess, svc: svc, jar: jar, meta: meta}
	su.identity = su.loadIdentity()

	if su.identity == nil && svc != nil {
		svc.TryAuthenticateByCookies(ctx, su)
	}
	return su
}

// LoggedIn reports whether the session carries an authenticated identity.
func (su *SessionUser) LoggedIn() bool {
	return su != nil && su.identity != nil
}

// Identity returns the authenticated principal, nil when anonymous.
func (su *SessionUser) Identity() *Identity {
	if su == nil {
		return nil
	}
	return su.identity
}

// Login stores the identity in the session.
func (su *SessionUser) Login(identity *Identity) {
	if su == nil || identity == nil {
		return
	}
	su.identity = identity
	if su.sess == nil {
		return
	}
	blob, err := json.Marshal(identity)
	if err != nil {
		slog.Default().Warn("marshal identity", slog.Any("error", err))
		return
	}
	su.sess.SetIdentity(string(blob))
}

// Logout revokes the remember-me token first, while the identity is still
// available to locate the ledger row, then clears the session identity.
func (su *SessionUser) Logout(ctx context.Context) {
	if su == nil {
		return
	}
	if su.svc != nil {
		su.svc.ForgetMe(ctx, su)
	}
	su.identity = nil
	if su.sess != nil {
		su.sess.ClearIdentity()
	}
}

func (su *SessionUser) loadIdentity() *Identity {
	if su.sess == nil {
		return nil
	}
	blob := su.sess.Identity()
	if blob == "" {
		return nil
	}
	var identity Identity
	if err := json.Unmarshal([]byte(blob), &identity); err != nil {
		su.sess.ClearIdentity()
		return nil
	}
	return &identity
}

type sessionUserContextKey struct{}

// ContextWithSessionUser stores the wrapper in context.
func ContextWithSessionUser(ctx context.Context, su *SessionUser) context.Context {
	return context.WithValue(ctx, sessionUserContextKey{}, su)
}

// SessionUserFromContext extracts the wrapper from context.
func SessionUserFromContext(ctx context.Context) *SessionUser {
	su, _ := ctx.Value(sessionUserContextKey{}).(*SessionUser)
	return su
}

// HTTPCookieJar adapts a request/response pair to CookieJar.
type HTTPCookieJar struct {
	w      http.ResponseWriter
	r      *http.Request
	secure bool
}

// NewHTTPCookieJar wraps the request and response writer.
func NewHTTPCookieJar(w http.ResponseWriter, r *http.Request, secure bool) *HTTPCookieJar {
	return &HTTPCookieJar{w: w, r: r, secure: secure}
}

// RememberToken reads the remember-me cookie from the request.
func (j *HTTPCookieJar) RememberToken() (string, bool) {
	cookie, err := j.r.Cookie(RememberCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// SetRememberToken writes the secret with an absolute expiry.
func (j *HTTPCookieJar) SetRememberToken(value string, expires time.Time) {
	http.SetCookie(j.w, &http.Cookie{
		Name:     RememberCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearRememberToken expires the cookie with an empty value.
func (j *HTTPCookieJar) ClearRememberToken() {
	http.SetCookie(j.w, &http.Cookie{
		Name:     RememberCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

var _ CookieJar = (*HTTPCookieJar)(nil)

// RequestMetaFromHTTP captures the login attributes from a request.
func RequestMetaFromHTTP(r *http.Request) RequestMeta {
	return RequestMeta{
		RemoteAddr:   r.RemoteAddr,
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		UserAgent:    r.UserAgent(),
	}
}

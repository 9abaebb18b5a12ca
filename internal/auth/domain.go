package auth

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Role is the account role stored on the user row.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
	RoleGuest    Role = "guest"
)

// RememberCookieName is the cookie carrying the rotating remember-me secret.
const RememberCookieName = "remember_token"

// DefaultRememberTTL is the remember-me token lifetime (180 days).
const DefaultRememberTTL = 180 * 24 * time.Hour

// IdentityLogKey is the reserved identity-data key holding the id of the
// login_log row created for this login. RememberMe and ForgetMe use it to
// find the row that owns the outstanding token.
const IdentityLogKey = "login_log_id"

// User represents an account record. DeletedAt is a soft-delete marker; a
// non-nil value excludes the row from every lookup except the signup
// duplicate-email probe. Rows are never physically deleted.
type User struct {
	ID                    int64
	Email                 string
	PasswordHash          string
	FirstName             string
	LastName              string
	Phone                 string
	Role                  Role
	Verified              uint32
	EmailVerificationHash *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	DeletedAt             *time.Time
}

// LoginEntry is one login_log row: an audit record created per successful
// authentication that also holds the current remember-me secret. A non-nil
// RememberHash always has a ValidTill in the future; consuming or revoking
// the token nulls both fields in one statement.
type LoginEntry struct {
	ID           int64
	UserID       int64
	CreatedAt    time.Time
	RemoteAddr   string
	ForwardedFor string
	UserAgent    string
	RememberHash *string
	ValidTill    *time.Time
}

// RequestMeta carries the request attributes captured with each login.
// All fields are optional; non-HTTP callers pass the zero value.
type RequestMeta struct {
	RemoteAddr   string
	ForwardedFor string
	UserAgent    string
}

// Identity is the authenticated principal snapshot: user id, role, and the
// user's public attributes (password hash excluded) plus the originating
// ledger row id under IdentityLogKey.
type Identity struct {
	ID   int64             `json:"id"`
	Role Role              `json:"role"`
	Data map[string]string `json:"data"`
}

// LogEntryID returns the login_log row id stashed in the identity data,
// or zero when absent.
func (i *Identity) LogEntryID() int64 {
	if i == nil || i.Data == nil {
		return 0
	}
	id, err := strconv.ParseInt(i.Data[IdentityLogKey], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// FullName joins the first and last name attributes for display.
func (i *Identity) FullName() string {
	if i == nil || i.Data == nil {
		return ""
	}
	return strings.TrimSpace(i.Data["first_name"] + " " + i.Data["last_name"])
}

var emailFolder = cases.Fold()

// NormalizeEmail trims and case-folds an email address so lookups and the
// unique index agree on a single canonical form.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// publicAttributes builds the identity data snapshot from a user record.
// The password hash is deliberately excluded.
func publicAttributes(u *User) map[string]string {
	return map[string]string{
		"id":         strconv.FormatInt(u.ID, 10),
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"phone":      u.Phone,
		"role":       string(u.Role),
		"verified":   strconv.FormatUint(uint64(u.Verified), 10),
		"created_at": u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

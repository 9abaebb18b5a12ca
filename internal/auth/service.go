package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/simplement/accounts/internal/shared"
)

// ErrTokenExhausted signals the issuance retry ceiling was reached without
// finding a unique secret. It fails the RememberMe call closed instead of
// looping forever.
var ErrTokenExhausted = errors.New("auth: remember token generation exhausted")

// ServiceConfig tunes the authenticator.
type ServiceConfig struct {
	// RememberTTL is the remember-me token lifetime. Zero means
	// DefaultRememberTTL (180 days).
	RememberTTL time.Duration
	// Now is a clock override for tests. Nil means time.Now.
	Now func() time.Time
}

// Service is the authenticator: it validates credentials, issues, rotates
// and revokes remember-me tokens against the login ledger, and creates
// authenticated identities. It never reads request state itself; the HTTP
// boundary passes RequestMeta explicitly.
type Service struct {
	repo        Repository
	hasher      PasswordHasher
	logger      *slog.Logger
	rememberTTL time.Duration
	now         func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, hasher PasswordHasher, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.RememberTTL <= 0 {
		cfg.RememberTTL = DefaultRememberTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		hasher:      hasher,
		logger:      logger,
		rememberTTL: cfg.RememberTTL,
		now:         cfg.Now,
	}
}

// RememberTTL exposes the configured token lifetime.
func (s *Service) RememberTTL() time.Duration {
	return s.rememberTTL
}

// Authenticate validates an email/password pair and returns a fresh
// Identity. Unknown email, soft-deleted user and wrong password all fail
// with the same generic shared.ErrAuthentication. A hash flagged as
// needing rehash is upgraded in the same request.
func (s *Service) Authenticate(ctx context.Context, email, password string, meta RequestMeta) (*Identity, error) {
	user, err := s.repo.FindUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrAuthentication
		}
		return nil, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, shared.ErrAuthentication
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		upgraded, err := s.hasher.Hash(password)
		if err != nil {
			return nil, fmt.Errorf("auth: rehash password: %w", err)
		}
		if err := s.repo.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
			return nil, fmt.Errorf("auth: persist rehash: %w", err)
		}
		user.PasswordHash = upgraded
	}

	return s.createIdentity(ctx, user, meta)
}

// CreateUser registers a new customer account. A taken email, whether the
// owning account is live or soft-deleted, fails with the generic
// shared.ErrAuthentication so signup leaks no more than login does.
func (s *Service) CreateUser(ctx context.Context, email, password, firstName, lastName, phone string) error {
	email = NormalizeEmail(email)

	taken, err := s.repo.EmailTaken(ctx, email)
	if err != nil {
		return err
	}
	if taken {
		return shared.ErrAuthentication
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}

	_, err = s.repo.CreateUser(ctx, CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Phone:        phone,
		Role:         RoleCustomer,
	})
	if errors.Is(err, ErrDuplicateEmail) {
		// Lost the race against a concurrent signup for the same email.
		return shared.ErrAuthentication
	}
	return err
}

// TryAuthenticateByCookies attempts a silent login from a presented
// remember-me cookie. The token is consumed on presentation; success logs
// the session in and immediately issues a replacement secret, so a leaked
// cookie replays at most once. A stale or forged cookie is cleared and the
// request proceeds anonymously.
func (s *Service) TryAuthenticateByCookies(ctx context.Context, su *SessionUser) {
	if su == nil || su.LoggedIn() {
		return
	}
	presented, ok := su.jar.RememberToken()
	if !ok || presented == "" {
		return
	}

	entry, err := s.repo.ConsumeToken(ctx, presented, su.meta.UserAgent, s.now())
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("consume remember token", slog.Any("error", err))
		}
		s.ForgetMe(ctx, su)
		return
	}

	user, err := s.repo.FindUserByID(ctx, entry.UserID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("load remembered user", slog.Any("error", err))
		}
		s.ForgetMe(ctx, su)
		return
	}

	identity, err := s.createIdentity(ctx, user, su.meta)
	if err != nil {
		s.logger.Warn("create remembered identity", slog.Any("error", err))
		s.ForgetMe(ctx, su)
		return
	}

	su.Login(identity)

	if err := s.RememberMe(ctx, su); err != nil {
		s.logger.Warn("rotate remember token", slog.Any("error", err))
	}
}

// RememberMe issues a long-lived token for the logged-in session: revoke
// any outstanding token first, then persist a fresh secret on the ledger
// row stashed in the identity and mirror it into the cookie. A session
// holds at most one active token. Missing ledger rows abort silently; only
// retry exhaustion surfaces as an error.
func (s *Service) RememberMe(ctx context.Context, su *SessionUser) error {
	if su == nil || !su.LoggedIn() {
		return nil
	}

	s.ForgetMe(ctx, su)

	entryID := su.Identity().LogEntryID()
	if entryID == 0 {
		return nil
	}
	entry, err := s.repo.FindEntryByID(ctx, entryID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("load ledger entry", slog.Any("error", err))
		}
		return nil
	}

	validTill := s.now().Add(s.rememberTTL)

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		secret, err := newRememberSecret()
		if err != nil {
			return err
		}
		err = s.repo.IssueToken(ctx, entry.ID, secret, validTill)
		if errors.Is(err, ErrDuplicateToken) {
			continue
		}
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("auth: issue token: %w", err)
		}
		su.jar.SetRememberToken(secret, validTill)
		return nil
	}
	return ErrTokenExhausted
}

// ForgetMe clears the remember-me cookie unconditionally and, when logged
// in, revokes the token on the identity's ledger row. Safe to call twice;
// bookkeeping failures never block the user-visible action.
func (s *Service) ForgetMe(ctx context.Context, su *SessionUser) {
	if su == nil {
		return
	}
	su.jar.ClearRememberToken()

	if !su.LoggedIn() {
		return
	}
	entryID := su.Identity().LogEntryID()
	if entryID == 0 {
		return
	}
	if err := s.repo.ClearToken(ctx, entryID); err != nil && !errors.Is(err, shared.ErrNotFound) {
		s.logger.Warn("clear remember token", slog.Any("error", err))
	}
}

// LoginHistory returns the newest ledger rows for the user.
func (s *Service) LoginHistory(ctx context.Context, userID int64, limit int) ([]LoginEntry, error) {
	return s.repo.ListLoginHistory(ctx, userID, limit)
}

// createIdentity records one ledger row for the login and builds the
// identity snapshot around it.
func (s *Service) createIdentity(ctx context.Context, user *User, meta RequestMeta) (*Identity, error) {
	entry, err := s.repo.CreateLoginEntry(ctx, user.ID, meta)
	if err != nil {
		return nil, fmt.Errorf("auth: record login: %w", err)
	}

	data := publicAttributes(user)
	data[IdentityLogKey] = strconv.FormatInt(entry.ID, 10)

	return &Identity{ID: user.ID, Role: user.Role, Data: data}, nil
}

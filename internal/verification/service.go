package verification

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/simplement/accounts/internal/mailer"
	"github.com/simplement/accounts/internal/shared"
)

// MailDispatcher hands a rendered message to the delivery pipeline. In
// production it enqueues a background job; tests capture the message.
type MailDispatcher interface {
	Dispatch(ctx context.Context, msg mailer.Message) error
}

// GateConfig tunes the verification gate.
type GateConfig struct {
	// MinimumLevel is the mask IsVerified checks. Zero means LevelEmail.
	MinimumLevel Level
	// EmailSubject of the verification mail. Empty means the default.
	EmailSubject string
	// EmailFrom/EmailFromName override the transport sender when set.
	EmailFrom     string
	EmailFromName string
	// BaseURL is the public origin used to build the confirm link.
	BaseURL string
	// Now is a clock override for tests. Nil means time.Now.
	Now func() time.Time
}

// Gate tracks per-user verification state as a bitmask, answers
// verified-or-not queries with role-based bypass, and sends email
// verification challenges.
type Gate struct {
	repo       Repository
	dispatcher MailDispatcher
	templates  *mailer.TemplateEngine
	translator mailer.Translator
	logger     *slog.Logger
	cfg        GateConfig
	now        func() time.Time
}

// NewGate constructs a Gate.
func NewGate(repo Repository, dispatcher MailDispatcher, templates *mailer.TemplateEngine, translator mailer.Translator, logger *slog.Logger, cfg GateConfig) *Gate {
	if cfg.MinimumLevel == 0 {
		cfg.MinimumLevel = LevelEmail
	}
	if cfg.EmailSubject == "" {
		cfg.EmailSubject = "Verify your email address"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if translator == nil {
		translator = mailer.NoopTranslator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		repo:       repo,
		dispatcher: dispatcher,
		templates:  templates,
		translator: translator,
		logger:     logger,
		cfg:        cfg,
		now:        cfg.Now,
	}
}

// IsVerified checks the configured minimum level.
func (g *Gate) IsVerified(ctx context.Context, userID int64) (bool, error) {
	return g.HasVerified(ctx, userID, g.cfg.MinimumLevel)
}

// HasVerifiedEmail checks the email gate specifically.
func (g *Gate) HasVerifiedEmail(ctx context.Context, userID int64) (bool, error) {
	return g.HasVerified(ctx, userID, LevelEmail)
}

// HasVerified reports whether the user passes the given level; zero means
// the configured minimum. A privileged role passes regardless of stored
// bits, a missing user never passes.
func (g *Gate) HasVerified(ctx context.Context, userID int64, level Level) (bool, error) {
	if level == 0 {
		level = g.cfg.MinimumLevel
	}
	return g.verify(ctx, userID, level, "")
}

// VerifyEmail grants the email bit when the presented hash exactly matches
// the stored pending secret. The secret is single-use: granting nulls it,
// so a second presentation fails. No mutation happens on mismatch.
func (g *Gate) VerifyEmail(ctx context.Context, userID int64, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	return g.verify(ctx, userID, LevelEmail, hash)
}

// verify implements the shared check-and-optionally-grant sequence: role
// bypass first, then the already-granted mask, then the presented secret.
// The ordering means an already-verified user reports true even when the
// presented hash is wrong.
func (g *Gate) verify(ctx context.Context, userID int64, level Level, presentedHash string) (bool, error) {
	acc, err := g.repo.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	switch g.resolveRoleBypass(acc) {
	case BypassGrant:
		return true, nil
	case BypassDeny:
		return false, nil
	}

	if acc.Verified.Includes(level) {
		return true, nil
	}

	if presentedHash != "" && acc.PendingEmailHash != nil && *acc.PendingEmailHash == presentedHash {
		if err := g.repo.GrantLevel(ctx, userID, acc.Verified|level, true); err != nil {
			return false, fmt.Errorf("verification: grant level: %w", err)
		}
		return true, nil
	}

	return false, nil
}

// SendEmailVerification stores a fresh single-use secret on the account,
// renders the verification email and hands it to the dispatcher. It
// returns false without sending when the account is missing, role-bypassed
// or already email-verified.
func (g *Gate) SendEmailVerification(ctx context.Context, userID int64) (bool, error) {
	acc, err := g.repo.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if g.resolveRoleBypass(acc) != BypassNone {
		return false, nil
	}
	if acc.Verified.Includes(LevelEmail) {
		return false, nil
	}

	hash, err := g.newVerificationHash()
	if err != nil {
		return false, err
	}
	if err := g.repo.SetPendingEmailHash(ctx, userID, hash); err != nil {
		return false, fmt.Errorf("verification: store pending hash: %w", err)
	}

	body, err := g.templates.RenderVerifyEmail(mailer.VerifyEmailData{
		FirstName:  acc.FirstName,
		LastName:   acc.LastName,
		Hash:       hash,
		ConfirmURL: g.confirmURL(userID, hash),
	})
	if err != nil {
		return false, err
	}

	msg := mailer.Message{
		To:       acc.Email,
		ToName:   acc.FirstName + " " + acc.LastName,
		Subject:  g.translator.Translate(g.cfg.EmailSubject),
		HTMLBody: body,
		From:     g.cfg.EmailFrom,
		FromName: g.cfg.EmailFromName,
	}
	if err := g.dispatcher.Dispatch(ctx, msg); err != nil {
		return false, fmt.Errorf("verification: dispatch mail: %w", err)
	}
	return true, nil
}

// resolveRoleBypass is the three-way role check: admin passes every gate,
// guest is a hard stop, anything else has no opinion and falls through to
// the bitmask.
func (g *Gate) resolveRoleBypass(acc *Account) Bypass {
	switch acc.Role {
	case "admin":
		return BypassGrant
	case "guest":
		return BypassDeny
	default:
		return BypassNone
	}
}

// newVerificationHash builds the emailed secret: issuance time plus random
// hex, matchable only by exact equality against the stored copy.
func (g *Gate) newVerificationHash() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("verification: generate hash: %w", err)
	}
	return strconv.FormatInt(g.now().Unix(), 10) + "$" + hex.EncodeToString(b), nil
}

func (g *Gate) confirmURL(userID int64, hash string) string {
	base := g.cfg.BaseURL
	if base == "" {
		base = "http://localhost:8080"
	}
	return fmt.Sprintf("%s/auth/verify/email?id=%d&hash=%s", base, userID, url.QueryEscape(hash))
}

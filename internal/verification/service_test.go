package verification

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/simplement/accounts/internal/mailer"
	"github.com/simplement/accounts/internal/shared"
	_ "github.com/simplement/accounts/testing"
)

type memAccounts struct {
	mu       sync.Mutex
	accounts map[int64]*Account
}

func newMemAccounts(accounts ...Account) *memAccounts {
	m := &memAccounts{accounts: make(map[int64]*Account)}
	for i := range accounts {
		acc := accounts[i]
		m.accounts[acc.ID] = &acc
	}
	return m
}

func (m *memAccounts) GetAccount(ctx context.Context, id int64) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *acc
	return &copied, nil
}

func (m *memAccounts) GrantLevel(ctx context.Context, id int64, mask Level, clearPending bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return shared.ErrNotFound
	}
	acc.Verified = mask
	if clearPending {
		acc.PendingEmailHash = nil
	}
	return nil
}

func (m *memAccounts) SetPendingEmailHash(ctx context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return shared.ErrNotFound
	}
	acc.PendingEmailHash = &hash
	return nil
}

func (m *memAccounts) pending(id int64) *string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].PendingEmailHash
}

var _ Repository = (*memAccounts)(nil)

type capturingDispatcher struct {
	messages []mailer.Message
}

func (d *capturingDispatcher) Dispatch(ctx context.Context, msg mailer.Message) error {
	d.messages = append(d.messages, msg)
	return nil
}

func newTestGate(t *testing.T, repo Repository, dispatcher MailDispatcher) *Gate {
	t.Helper()
	templates, err := mailer.NewTemplateEngine(mailer.NoopTranslator{})
	require.NoError(t, err)
	return NewGate(repo, dispatcher, templates, mailer.NoopTranslator{}, nil, GateConfig{
		BaseURL: "https://accounts.test",
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	})
}

func pendingHash(hash string) *string {
	return &hash
}

func TestLevelIncludes(t *testing.T) {
	require.True(t, Level(1).Includes(LevelEmail))
	require.True(t, Level(3).Includes(LevelEmail))
	require.False(t, Level(0).Includes(LevelEmail))
	require.False(t, Level(2).Includes(LevelEmail))
}

func TestVerifyEmailGrantsOnExactMatch(t *testing.T) {
	repo := newMemAccounts(Account{ID: 1, Role: "customer", PendingEmailHash: pendingHash("1700$abcd")})
	gate := newTestGate(t, repo, &capturingDispatcher{})

	ok, err := gate.VerifyEmail(context.Background(), 1, "1700$abcd")
	require.NoError(t, err)
	require.True(t, ok)

	acc, err := repo.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, acc.Verified.Includes(LevelEmail))
	// The secret is single-use.
	require.Nil(t, acc.PendingEmailHash)
}

func TestVerifyEmailSecondPresentationFails(t *testing.T) {
	repo := newMemAccounts(Account{ID: 1, Role: "customer", PendingEmailHash: pendingHash("1700$abcd")})
	gate := newTestGate(t, repo, &capturingDispatcher{})

	ok, err := gate.VerifyEmail(context.Background(), 1, "1700$abcd")
	require.NoError(t, err)
	require.True(t, ok)

	// The hash is gone, but the already-granted bit short-circuits the
	// check, so a replayed link still reports success.
	ok, err = gate.VerifyEmail(context.Background(), 1, "1700$abcd")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyEmailRejectsMismatch(t *testing.T) {
	repo := newMemAccounts(Account{ID: 1, Role: "customer", PendingEmailHash: pendingHash("1700$abcd")})
	gate := newTestGate(t, repo, &capturingDispatcher{})

	ok, err := gate.VerifyEmail(context.Background(), 1, "1700$wrong")
	require.NoError(t, err)
	require.False(t, ok)

	// Mismatch mutates nothing: the pending secret survives.
	require.NotNil(t, repo.pending(1))

	ok, err = gate.VerifyEmail(context.Background(), 1, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyEmailAlreadyVerifiedIgnoresHash(t *testing.T) {
	repo := newMemAccounts(Account{ID: 1, Role: "customer", Verified: LevelEmail})
	gate := newTestGate(t, repo, &capturingDispatcher{})

	ok, err := gate.VerifyEmail(context.Background(), 1, "completely-wrong")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyMergesBits(t *testing.T) {
	const LevelPhone Level = 2
	repo := newMemAccounts(Account{ID: 1, Role: "customer", Verified: LevelPhone, PendingEmailHash: pendingHash("h")})
	gate := newTestGate(t, repo, &capturingDispatcher{})

	ok, err := gate.VerifyEmail(context.Background(), 1, "h")
	require.NoError(t, err)
	require.True(t, ok)

	acc, err := repo.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, acc.Verified.Includes(LevelEmail))
	require.True(t, acc.Verified.Includes(LevelPhone))
}

func TestRoleBypass(t *testing.T) {
	repo := newMemAccounts(
		Account{ID: 1, Role: "admin"},
		Account{ID: 2, Role: "guest", Verified: LevelEmail, PendingEmailHash: pendingHash("h")},
		Account{ID: 3, Role: "customer"},
	)
	gate := newTestGate(t, repo, &capturingDispatcher{})

	// Admin passes without any stored bits.
	ok, err := gate.IsVerified(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)

	// Guest never passes, stored bits and a correct hash notwithstanding.
	ok, err = gate.IsVerified(context.Background(), 2)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = gate.VerifyEmail(context.Background(), 2, "h")
	require.NoError(t, err)
	require.False(t, ok)

	// Everyone else falls through to the bitmask.
	ok, err = gate.IsVerified(context.Background(), 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyMissingAccount(t *testing.T) {
	gate := newTestGate(t, newMemAccounts(), &capturingDispatcher{})

	ok, err := gate.IsVerified(context.Background(), 99)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = gate.VerifyEmail(context.Background(), 99, "anything")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSendEmailVerification(t *testing.T) {
	repo := newMemAccounts(Account{ID: 1, Role: "customer", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"})
	dispatcher := &capturingDispatcher{}
	gate := newTestGate(t, repo, dispatcher)

	sent, err := gate.SendEmailVerification(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, sent)
	require.Len(t, dispatcher.messages, 1)

	msg := dispatcher.messages[0]
	require.Equal(t, "ada@example.com", msg.To)
	require.Contains(t, msg.HTMLBody, "Ada")

	stored := repo.pending(1)
	require.NotNil(t, stored)
	require.True(t, strings.HasPrefix(*stored, "1700000000$"))
	require.Contains(t, msg.HTMLBody, "https://accounts.test/auth/verify/email?id=1")

	// The mailed link closes the loop.
	ok, err := gate.VerifyEmail(context.Background(), 1, *stored)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSendEmailVerificationNoops(t *testing.T) {
	repo := newMemAccounts(
		Account{ID: 1, Role: "admin", Email: "root@example.com"},
		Account{ID: 2, Role: "guest", Email: "guest@example.com"},
		Account{ID: 3, Role: "customer", Email: "done@example.com", Verified: LevelEmail},
	)
	dispatcher := &capturingDispatcher{}
	gate := newTestGate(t, repo, dispatcher)

	for _, id := range []int64{1, 2, 3, 99} {
		sent, err := gate.SendEmailVerification(context.Background(), id)
		require.NoError(t, err)
		require.False(t, sent, "user %d should not receive a verification email", id)
	}
	require.Empty(t, dispatcher.messages)
}

func TestResendReplacesPendingHash(t *testing.T) {
	repo := newMemAccounts(Account{ID: 1, Role: "customer", Email: "ada@example.com", PendingEmailHash: pendingHash("old")})
	dispatcher := &capturingDispatcher{}
	gate := newTestGate(t, repo, dispatcher)

	sent, err := gate.SendEmailVerification(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, sent)

	stored := repo.pending(1)
	require.NotNil(t, stored)
	require.NotEqual(t, "old", *stored)

	// The superseded link is dead.
	ok, err := gate.VerifyEmail(context.Background(), 1, "old")
	require.NoError(t, err)
	require.False(t, ok)
}

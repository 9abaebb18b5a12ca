package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/simplement/accounts/internal/shared"
)

func TestEnsureTokenIsStablePerSession(t *testing.T) {
	sm := newManager(t)
	csrf := shared.NewCSRFManager("csrf-secret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)

	first, err := csrf.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	again, err := csrf.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestVerifyToken(t *testing.T) {
	sm := newManager(t)
	csrf := shared.NewCSRFManager("csrf-secret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)

	token, err := csrf.EnsureToken(context.Background(), sess)
	require.NoError(t, err)

	require.NoError(t, csrf.VerifyToken(context.Background(), sess, token))
	require.ErrorIs(t, csrf.VerifyToken(context.Background(), sess, ""), shared.ErrCSRFTokenMissing)
	require.ErrorIs(t, csrf.VerifyToken(context.Background(), sess, "forged"), shared.ErrCSRFTokenMismatch)
	require.ErrorIs(t, csrf.VerifyToken(context.Background(), nil, token), shared.ErrCSRFTokenMissing)
}

func TestVerifyTokenWithoutSessionToken(t *testing.T) {
	sm := newManager(t)
	csrf := shared.NewCSRFManager("csrf-secret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)

	require.ErrorIs(t, csrf.VerifyToken(context.Background(), sess, "anything"), shared.ErrCSRFTokenMissing)
}

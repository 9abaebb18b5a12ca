package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/simplement/accounts/internal/shared"
)

func newManager(t *testing.T) *shared.SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
}

func TestSessionRoundTrip(t *testing.T) {
	sm := newManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	sess.Set("theme", "dark")
	sess.SetIdentity(`{"id":1}`)

	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), res, req, sess))

	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "test_session", cookies[0].Name)
	require.Equal(t, sess.ID, cookies[0].Value)

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(cookies[0])
	sess2, err := sm.Load(context.Background(), req2)
	require.NoError(t, err)
	require.Equal(t, "dark", sess2.Get("theme"))
	require.Equal(t, `{"id":1}`, sess2.Identity())
}

func TestSessionDestroy(t *testing.T) {
	sm := newManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	sess.Set("k", "v")
	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), res, req, sess))

	sm.Destroy(sess)
	destroyRes := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), destroyRes, req, sess))

	cookies := destroyRes.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Negative(t, cookies[0].MaxAge)

	// The stored payload is gone; presenting the old cookie starts fresh.
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: sess.ID})
	sess2, err := sm.Load(context.Background(), req2)
	require.NoError(t, err)
	require.Empty(t, sess2.Get("k"))
}

func TestClearIdentity(t *testing.T) {
	sm := newManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)

	sess.SetIdentity(`{"id":7}`)
	sess.ClearIdentity()
	require.Empty(t, sess.Identity())

	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), res, req, sess))

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: sess.ID})
	sess2, err := sm.Load(context.Background(), req2)
	require.NoError(t, err)
	require.Empty(t, sess2.Identity())
}

func TestFlashMessages(t *testing.T) {
	sm := newManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)

	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "first"})
	sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "second"})

	first := sess.PopFlash()
	require.NotNil(t, first)
	require.Equal(t, "first", first.Message)

	second := sess.PopFlash()
	require.NotNil(t, second)
	require.Equal(t, "second", second.Message)

	require.Nil(t, sess.PopFlash())
}

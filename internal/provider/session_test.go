package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xevivu-client/internal/backend"
	"xevivu-client/internal/domain"
)

func TestRegisterCreatesProfileAndSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.session.Register(ctx, "new@b.com", "pw123456", "Newbie", "555"))

	cur := e.session.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "new@b.com", cur.Email)
	assert.Equal(t, "Newbie", cur.Name)
	assert.Equal(t, "555", cur.Phone)
	assert.Equal(t, domain.RoleUser, cur.Role)

	profiles := e.srv.Rows("profiles")
	require.Len(t, profiles, 1)
	assert.Equal(t, "Newbie", profiles[0]["name"])
	assert.Equal(t, cur.ID, profiles[0]["id"])
}

func TestRegisterWithEmailConfirmationPending(t *testing.T) {
	e := newEnv(t)
	e.srv.DeferConfirmation = true

	require.NoError(t, e.session.Register(context.Background(), "new@b.com", "pw123456", "Newbie", ""))

	assert.Nil(t, e.session.Current())
	assert.Empty(t, e.srv.Rows("profiles"), "profile upsert is deferred to the first sign-in")
}

func TestLoginMergesProfileRole(t *testing.T) {
	e := newEnv(t)
	e.loginAs(t, "boss@b.com", "admin")

	cur := e.session.Current()
	require.NotNil(t, cur)
	assert.Equal(t, domain.RoleAdmin, cur.Role)
	assert.True(t, e.session.IsAdmin())
}

func TestLoginWrongPassword(t *testing.T) {
	e := newEnv(t)
	e.srv.RegisterUser("a@b.com", "right", nil)

	err := e.session.Login(context.Background(), "a@b.com", "wrong")
	assert.Error(t, err)
	assert.Nil(t, e.session.Current())
}

func TestFirstLoginCreatesProfile(t *testing.T) {
	e := newEnv(t)
	// Identity exists but has no profile row yet.
	e.srv.RegisterUser("a@b.com", "pw123456", map[string]string{"name": "Ann", "phone": "777"})

	require.NoError(t, e.session.Login(context.Background(), "a@b.com", "pw123456"))

	cur := e.session.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "Ann", cur.Name)

	profiles := e.srv.Rows("profiles")
	require.Len(t, profiles, 1)
	assert.Equal(t, "Ann", profiles[0]["name"])
	assert.Equal(t, "777", profiles[0]["phone"])
}

func TestLogoutTransitionsToAnonymous(t *testing.T) {
	e := newEnv(t)
	e.session.Start(context.Background())
	e.loginAs(t, "a@b.com", "user")
	require.NotNil(t, e.session.Current())

	require.NoError(t, e.session.Logout(context.Background()))

	// The transition rides the SIGNED_OUT event through the event loop.
	require.Eventually(t, func() bool {
		return e.session.Current() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartRestoresPersistedSession(t *testing.T) {
	e := newEnv(t)
	id := e.loginAs(t, "a@b.com", "user")

	// A second provider stack over the same store stands in for a restart.
	client := backend.NewClient(e.srv.URL(), e.srv.AnonKey())
	auth := backend.NewAuth(client, e.store)
	tables := backend.NewTables(client, auth)
	restarted := NewSessionProvider(auth, tables)
	t.Cleanup(restarted.Close)

	assert.True(t, restarted.Booting())
	restarted.Start(context.Background())

	assert.False(t, restarted.Booting())
	cur := restarted.Current()
	require.NotNil(t, cur)
	assert.Equal(t, id, cur.ID)
}

func TestProfileFetchFailureFallsBackToTokenClaims(t *testing.T) {
	e := newEnv(t)
	e.srv.RegisterUser("a@b.com", "pw123456", map[string]string{"name": "Ann", "phone": "777"})

	// Auth talks to the live backend; the table client points at a dead one,
	// so the profile round trip fails while sign-in succeeds.
	dead := backend.NewClient("http://127.0.0.1:1", e.srv.AnonKey())
	liveAuth := backend.NewAuth(backend.NewClient(e.srv.URL(), e.srv.AnonKey()), e.store)
	session := NewSessionProvider(liveAuth, backend.NewTables(dead, liveAuth))
	t.Cleanup(session.Close)

	require.NoError(t, session.Login(context.Background(), "a@b.com", "pw123456"))

	cur := session.Current()
	require.NotNil(t, cur, "a flaky profile read must not bounce the user to login")
	assert.Equal(t, "a@b.com", cur.Email)
	assert.Equal(t, "Ann", cur.Name)
	assert.Equal(t, domain.RoleUser, cur.Role)
}

func TestOnChangeFiresOnIdentityChange(t *testing.T) {
	e := newEnv(t)
	calls := 0
	e.session.OnChange(func() { calls++ })

	e.loginAs(t, "a@b.com", "user")
	assert.Greater(t, calls, 0)

	before := calls
	// Reload with the same identity must not refire.
	e.session.Reload(context.Background())
	assert.Equal(t, before, calls)
}

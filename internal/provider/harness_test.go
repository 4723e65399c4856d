package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"xevivu-client/internal/backend"
	"xevivu-client/internal/backendtest"
	"xevivu-client/internal/upload"
)

// env wires the full client stack against an in-process backend, the same
// way cmd/app does at startup.
type env struct {
	srv      *backendtest.Server
	store    *backend.LocalStore
	auth     *backend.Auth
	tables   *backend.Tables
	realtime *backend.Realtime
	uploader *upload.Uploader

	session  *SessionProvider
	cars     *CarProvider
	bookings *BookingProvider
}

func newEnv(t *testing.T) *env {
	t.Helper()

	srv := backendtest.New()
	t.Cleanup(srv.Close)

	store, err := backend.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	client := backend.NewClient(srv.URL(), srv.AnonKey())
	auth := backend.NewAuth(client, store)
	tables := backend.NewTables(client, auth)
	storage := backend.NewStorage(client, auth)
	realtime := backend.NewRealtime(srv.URL(), srv.AnonKey())

	carsNorm := upload.NewNormalizer(srv.URL(), "cars")
	slipsNorm := upload.NewNormalizer(srv.URL(), "slips")
	uploader := upload.NewUploader(storage, carsNorm, slipsNorm, t.TempDir())

	session := NewSessionProvider(auth, tables)
	cars := NewCarProvider(tables, uploader, session, realtime)
	bookings := NewBookingProvider(tables, uploader, session, realtime)

	e := &env{
		srv:      srv,
		store:    store,
		auth:     auth,
		tables:   tables,
		realtime: realtime,
		uploader: uploader,
		session:  session,
		cars:     cars,
		bookings: bookings,
	}
	t.Cleanup(func() {
		e.bookings.Close()
		e.cars.Close()
		e.session.Close()
	})
	return e
}

// loginAs registers an identity with the given profile role and signs the
// session provider in. Returns the identity id.
func (e *env) loginAs(t *testing.T, email, role string) string {
	t.Helper()
	id := e.srv.RegisterUser(email, "pw123456", map[string]string{"name": "Test User"})
	e.srv.Seed("profiles", map[string]any{"id": id, "email": email, "name": "Test User", "role": role})
	require.NoError(t, e.session.Login(context.Background(), email, "pw123456"))
	return id
}

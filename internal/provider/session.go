// Package provider holds the explicitly constructed client-side services:
// the session provider and the collection providers with their caches.
// Each is built at app start, handed its collaborators, and torn down with
// Close; nothing here is an ambient singleton.
package provider

import (
	"context"
	"sync"
	"time"

	"xevivu-client/internal/backend"
	"xevivu-client/internal/domain"
	"xevivu-client/internal/logger"
)

const profilesTable = "profiles"

// SessionProvider owns the authenticated identity for the running client.
// It bootstraps from the persisted session, reacts to backend auth events,
// and exposes the current Session to every other provider.
type SessionProvider struct {
	auth   *backend.Auth
	tables *backend.Tables

	mu      sync.RWMutex
	current *domain.Session
	booting bool
	closed  bool

	onChange []func()
	done     chan struct{}
}

func NewSessionProvider(auth *backend.Auth, tables *backend.Tables) *SessionProvider {
	return &SessionProvider{
		auth:    auth,
		tables:  tables,
		booting: true,
		done:    make(chan struct{}),
	}
}

// Start restores the persisted session, loads the profile, and begins
// listening for auth events. Booting is cleared exactly once, even when the
// profile fetch fails.
func (p *SessionProvider) Start(ctx context.Context) {
	if err := p.auth.LoadPersisted(); err != nil {
		logger.Warn("Failed to restore persisted session", "error", err)
	}
	p.load(ctx)

	p.mu.Lock()
	p.booting = false
	p.mu.Unlock()

	go p.eventLoop()
}

func (p *SessionProvider) eventLoop() {
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-p.auth.Events():
			if !ok {
				return
			}
			switch ev {
			case backend.EventSignedOut:
				// Direct transition to anonymous, no network round trip.
				p.setCurrent(nil)
			case backend.EventSignedIn, backend.EventTokenRefreshed, backend.EventUserUpdated:
				p.load(context.Background())
			}
		}
	}
}

// load re-runs the session+profile fetch. Profile fields win over auth
// metadata; when the profile round trip fails entirely, a minimal session
// is built from the access-token claims so the user is never bounced back
// to the login screen by a flaky profile read.
func (p *SessionProvider) load(ctx context.Context) {
	s := p.auth.CurrentSession()
	if s == nil {
		p.setCurrent(nil)
		return
	}

	profile, err := p.fetchOrCreateProfile(ctx, s)
	if err != nil {
		logger.Warn("Profile load failed, using token claims", "user_id", s.User.ID, "error", err)
		p.setCurrent(minimalSession(s))
		return
	}
	p.setCurrent(domain.MergeSession(s.User.ID, s.User.Email, s.User.UserMetadata["name"], s.User.UserMetadata["phone"], profile))
}

func minimalSession(s *backend.AuthSession) *domain.Session {
	if claims, err := backend.ParseTokenClaims(s.AccessToken); err == nil && claims.Subject != "" {
		return domain.MergeSession(claims.Subject, claims.Email, claims.Name, claims.Phone, nil)
	}
	return domain.MergeSession(s.User.ID, s.User.Email, s.User.UserMetadata["name"], s.User.UserMetadata["phone"], nil)
}

func (p *SessionProvider) fetchOrCreateProfile(ctx context.Context, s *backend.AuthSession) (*domain.Profile, error) {
	profile, err := p.fetchProfile(ctx, s.User.ID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}

	// First sign-in on this identity: create the profile from auth metadata.
	payload := map[string]any{
		"id":    s.User.ID,
		"email": s.User.Email,
		"name":  s.User.UserMetadata["name"],
		"phone": s.User.UserMetadata["phone"],
	}
	if err := p.tables.Upsert(ctx, profilesTable, payload); err != nil {
		return nil, err
	}
	return p.fetchProfile(ctx, s.User.ID)
}

func (p *SessionProvider) fetchProfile(ctx context.Context, id string) (*domain.Profile, error) {
	rows, err := p.tables.Select(ctx, backend.SelectQuery{
		Table: profilesTable,
		Eq:    [][2]string{{"id", id}},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	profile := domain.ProfileFromRow(domain.Row(rows[0]))
	return &profile, nil
}

func (p *SessionProvider) setCurrent(s *domain.Session) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	changed := !sameIdentity(p.current, s)
	p.current = s
	callbacks := p.onChange
	p.mu.Unlock()

	if changed {
		for _, cb := range callbacks {
			cb()
		}
	}
}

func sameIdentity(a, b *domain.Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Role == b.Role
}

// Current returns the active Session, or nil when anonymous.
func (p *SessionProvider) Current() *domain.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Booting reports whether the startup session restore is still running.
func (p *SessionProvider) Booting() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.booting
}

func (p *SessionProvider) IsAdmin() bool {
	return p.Current().IsAdmin()
}

// OnChange registers a callback invoked whenever the session identity
// changes. Collection providers use it to re-scope their caches. Must be
// called before Start.
func (p *SessionProvider) OnChange(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, cb)
}

// Login signs in and reloads the session+profile before returning.
func (p *SessionProvider) Login(ctx context.Context, email, password string) error {
	if err := p.auth.SignIn(ctx, email, password); err != nil {
		return err
	}
	p.load(ctx)
	return nil
}

// Register creates an identity. The profile row is upserted only when the
// backend returns an active session immediately; with email confirmation
// enabled the upsert is deferred to the first sign-in.
func (p *SessionProvider) Register(ctx context.Context, email, password, name, phone string) error {
	s, err := p.auth.SignUp(ctx, email, password, name, phone)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	payload := map[string]any{
		"id":         s.User.ID,
		"email":      email,
		"name":       name,
		"phone":      phone,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.tables.Upsert(ctx, profilesTable, payload); err != nil {
		return err
	}
	p.auth.NotifyUserUpdated()
	p.load(ctx)
	return nil
}

// Logout revokes the session. The transition to anonymous happens via the
// SIGNED_OUT event.
func (p *SessionProvider) Logout(ctx context.Context) error {
	return p.auth.SignOut(ctx)
}

// Reload re-runs the session+profile fetch on demand.
func (p *SessionProvider) Reload(ctx context.Context) {
	p.load(ctx)
}

// Close stops the event loop and freezes the provider's state.
func (p *SessionProvider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.done)
}

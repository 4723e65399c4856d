package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"xevivu-client/internal/logger"
)

// AuthEvent mirrors the backend's auth state changes. The session provider
// reacts to these to keep identity-scoped caches in step.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

const sessionKey = "@xevivu_session_v1"

// AuthUser is the identity portion of an issued session.
type AuthUser struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	UserMetadata map[string]string `json:"user_metadata"`
}

// AuthSession is the persisted-session blob: tokens plus identity. Stored
// opaquely in the local store between runs.
type AuthSession struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	User         AuthUser `json:"user"`
}

// Auth is the client for the backend's session issuance, refresh and
// revocation endpoints. It owns the in-memory session and its persistence.
type Auth struct {
	client *Client
	store  *LocalStore

	mu      sync.RWMutex
	session *AuthSession

	events chan AuthEvent
}

func NewAuth(client *Client, store *LocalStore) *Auth {
	return &Auth{
		client: client,
		store:  store,
		events: make(chan AuthEvent, 8),
	}
}

// Events delivers auth state changes. The channel is buffered; when the
// consumer lags, older events are dropped in favor of the newest one.
func (a *Auth) Events() <-chan AuthEvent { return a.events }

func (a *Auth) emit(ev AuthEvent) {
	for {
		select {
		case a.events <- ev:
			return
		default:
			select {
			case <-a.events:
			default:
			}
		}
	}
}

// LoadPersisted restores the session blob saved by a previous run, if any.
func (a *Auth) LoadPersisted() error {
	data, ok, err := a.store.Get(sessionKey)
	if err != nil {
		return fmt.Errorf("failed to load persisted session: %w", err)
	}
	if !ok {
		return nil
	}
	var s AuthSession
	if err := json.Unmarshal(data, &s); err != nil {
		// A corrupt blob is treated as signed out, not as a fatal error.
		logger.Warn("Discarding unreadable persisted session", "error", err)
		_ = a.store.Delete(sessionKey)
		return nil
	}
	a.mu.Lock()
	a.session = &s
	a.mu.Unlock()
	return nil
}

// CurrentSession returns a copy of the active session, or nil.
func (a *Auth) CurrentSession() *AuthSession {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return nil
	}
	s := *a.session
	return &s
}

// AccessToken implements TokenSource.
func (a *Auth) AccessToken() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil || a.session.AccessToken == "" {
		return "", false
	}
	return a.session.AccessToken, true
}

func (a *Auth) setSession(s *AuthSession) error {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
	if s == nil {
		return a.store.Delete(sessionKey)
	}
	blob, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return a.store.Set(sessionKey, blob)
}

// SignIn exchanges credentials for a session and persists it.
func (a *Auth) SignIn(ctx context.Context, email, password string) error {
	logger.BackendCall("auth", "sign_in", "email", email)
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	q := url.Values{"grant_type": []string{"password"}}
	resp, err := a.client.do(ctx, http.MethodPost, "/auth/v1/token", q, "", bytes.NewReader(body), jsonHeaders)
	if err != nil {
		logger.BackendResult("auth", "sign_in", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("sign in rejected: HTTP %d: %s", resp.StatusCode, snippet(resp.Body))
		logger.BackendResult("auth", "sign_in", err)
		return err
	}

	var s AuthSession
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}
	if err := a.setSession(&s); err != nil {
		return err
	}
	logger.BackendResult("auth", "sign_in", nil, "user_id", s.User.ID)
	a.emit(EventSignedIn)
	return nil
}

// SignUp registers a new identity, stashing name and phone in the auth
// metadata. Depending on the project's email-confirmation setting the
// response may or may not carry an active session; the returned session is
// nil in the deferred case.
func (a *Auth) SignUp(ctx context.Context, email, password, name, phone string) (*AuthSession, error) {
	logger.BackendCall("auth", "sign_up", "email", email)
	body, _ := json.Marshal(map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"name": name, "phone": phone},
	})
	resp, err := a.client.do(ctx, http.MethodPost, "/auth/v1/signup", nil, "", bytes.NewReader(body), jsonHeaders)
	if err != nil {
		logger.BackendResult("auth", "sign_up", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("sign up rejected: HTTP %d: %s", resp.StatusCode, snippet(resp.Body))
		logger.BackendResult("auth", "sign_up", err)
		return nil, err
	}

	var s AuthSession
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode signup response: %w", err)
	}
	logger.BackendResult("auth", "sign_up", nil, "immediate_session", s.AccessToken != "")
	if s.AccessToken == "" {
		// Email confirmation pending; no session yet.
		return nil, nil
	}
	if err := a.setSession(&s); err != nil {
		return nil, err
	}
	a.emit(EventSignedIn)
	return &s, nil
}

// SignOut revokes the session server-side, clears the persisted blob and
// announces SIGNED_OUT. The revocation error propagates so the caller can
// surface it.
func (a *Auth) SignOut(ctx context.Context) error {
	token, ok := a.AccessToken()
	if !ok {
		return nil
	}
	logger.BackendCall("auth", "sign_out")
	resp, err := a.client.do(ctx, http.MethodPost, "/auth/v1/logout", nil, token, nil, nil)
	if err != nil {
		logger.BackendResult("auth", "sign_out", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("sign out rejected: HTTP %d: %s", resp.StatusCode, snippet(resp.Body))
		logger.BackendResult("auth", "sign_out", err)
		return err
	}
	logger.BackendResult("auth", "sign_out", nil)
	if err := a.setSession(nil); err != nil {
		return err
	}
	a.emit(EventSignedOut)
	return nil
}

// Refresh trades the refresh token for a new session.
func (a *Auth) Refresh(ctx context.Context) error {
	cur := a.CurrentSession()
	if cur == nil || cur.RefreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}
	logger.BackendCall("auth", "refresh")
	body, _ := json.Marshal(map[string]string{"refresh_token": cur.RefreshToken})
	q := url.Values{"grant_type": []string{"refresh_token"}}
	resp, err := a.client.do(ctx, http.MethodPost, "/auth/v1/token", q, "", bytes.NewReader(body), jsonHeaders)
	if err != nil {
		logger.BackendResult("auth", "refresh", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("token refresh rejected: HTTP %d: %s", resp.StatusCode, snippet(resp.Body))
		logger.BackendResult("auth", "refresh", err)
		return err
	}
	var s AuthSession
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return fmt.Errorf("failed to decode refreshed session: %w", err)
	}
	if err := a.setSession(&s); err != nil {
		return err
	}
	logger.BackendResult("auth", "refresh", nil)
	a.emit(EventTokenRefreshed)
	return nil
}

// NotifyUserUpdated announces a profile change so identity-derived state is
// reloaded, mirroring the backend's USER_UPDATED event.
func (a *Auth) NotifyUserUpdated() {
	a.emit(EventUserUpdated)
}

// TokenClaims is the subset of access-token claims used to build a minimal
// session when the profile fetch fails.
type TokenClaims struct {
	Subject string
	Email   string
	Name    string
	Phone   string
}

// ParseTokenClaims decodes the access token without verifying its
// signature. The token was issued by the backend over TLS and is only used
// as a local fallback identity source, never for authorization decisions.
func ParseTokenClaims(accessToken string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	out := &TokenClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		if name, ok := meta["name"].(string); ok {
			out.Name = name
		}
		if phone, ok := meta["phone"].(string); ok {
			out.Phone = phone
		}
	}
	return out, nil
}

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

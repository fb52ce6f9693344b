// Package credstore persists the authenticated session (access token,
// renewal token, ID token, expiry and decoded identity) and the transient
// pending-authorization record of an in-flight login.
//
// SECURITY: token values are never logged. Mutations emit SECURITY_AUDIT
// records carrying only metadata (issuer, expiry, whether a renewal value
// is present).
package credstore

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"warden/internal/identity"
	"warden/pkg/oauth"
)

var (
	// ErrNoSession is returned by Load when no session is stored.
	ErrNoSession = errors.New("no stored session")

	// ErrNoPending is returned by LoadPending when no authorization is in flight.
	ErrNoPending = errors.New("no pending authorization")
)

// Store is the credential store used by the session manager.
type Store interface {
	// Save replaces the stored credentials with tok. The expiry is computed
	// from tok.ExpiresIn with the store's clock. A token without a refresh
	// token keeps the previously stored one, as does one without an ID token.
	// Use it for the refresh grant.
	Save(tok *oauth.Token) error
	// Replace stores tok as a brand new session. Nothing from the previous
	// session survives. Use it for the authorization-code grant.
	Replace(tok *oauth.Token) error
	// SaveIdentity attaches a decoded identity to the current session.
	SaveIdentity(id *identity.Identity) error
	Load() (*StoredSession, error)

	AccessToken() string
	RefreshToken() string
	IDToken() string
	Identity() *identity.Identity

	// IsExpired reports true if no expiry is recorded or the access token
	// expires within the skew window.
	IsExpired() bool
	ExpiresAt() time.Time

	// Clear removes the stored session. It is idempotent and leaves any
	// pending authorization in place.
	Clear() error

	SavePending(p *PendingAuthorization) error
	LoadPending() (*PendingAuthorization, error)
	DeletePending() error
}

// StoredSession is the persisted unit of session data.
type StoredSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`

	// ExpiresAtMillis is the access token expiry in epoch milliseconds.
	ExpiresAtMillis int64 `json:"expires_at,omitempty"`

	Identity *identity.Identity `json:"identity,omitempty"`
	Issuer   string             `json:"issuer,omitempty"`
	SavedAt  time.Time          `json:"saved_at"`
}

// ExpiresAt returns the expiry as a time, or the zero time if none is recorded.
func (s *StoredSession) ExpiresAt() time.Time {
	if s == nil || s.ExpiresAtMillis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.ExpiresAtMillis)
}

// PendingAuthorization correlates an outgoing authorization request with
// its callback.
type PendingAuthorization struct {
	FlowID       string    `json:"flow_id"`
	State        string    `json:"state"`
	ReturnPath   string    `json:"return_path"`
	RedirectURI  string    `json:"redirect_uri"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures a store.
type Option func(*sessionStore)

// WithClock sets the clock used for expiry computation.
func WithClock(c Clock) Option {
	return func(s *sessionStore) {
		s.clock = c
	}
}

// WithSkew sets the window before expiry in which IsExpired reports true.
func WithSkew(d time.Duration) Option {
	return func(s *sessionStore) {
		s.skew = d
	}
}

// WithIssuer records the issuer on saved sessions.
func WithIssuer(issuer string) Option {
	return func(s *sessionStore) {
		s.issuer = oauth.NormalizeIssuerURL(issuer)
	}
}

// backend is the raw persistence layer behind a store.
type backend interface {
	name() string
	readSession() (*StoredSession, error)
	writeSession(*StoredSession) error
	removeSession() error
	readPending() (*PendingAuthorization, error)
	writePending(*PendingAuthorization) error
	removePending() error
}

// sessionStore implements Store on top of a backend.
type sessionStore struct {
	mu      sync.Mutex
	backend backend
	clock   Clock
	skew    time.Duration
	issuer  string
}

func (s *sessionStore) init(b backend, opts []Option) {
	s.backend = b
	s.clock = realClock{}
	s.skew = oauth.TokenRefreshThreshold
	for _, opt := range opts {
		opt(s)
	}
}

func (s *sessionStore) Save(tok *oauth.Token) error {
	return s.save(tok, true)
}

func (s *sessionStore) Replace(tok *oauth.Token) error {
	return s.save(tok, false)
}

// save writes tok. With merge, renewal values missing from tok are carried
// over from the stored session.
func (s *sessionStore) save(tok *oauth.Token, merge bool) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("cannot save a token without an access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *StoredSession
	if merge {
		var err error
		prev, err = s.backend.readSession()
		if err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("Discarding unreadable stored session", "backend", s.backend.name(), "error", err)
		}
	}

	now := s.clock.Now()
	sess := &StoredSession{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      tok.IDToken,
		TokenType:    tok.TokenType,
		Issuer:       s.issuer,
		SavedAt:      now,
	}
	if lifetime := tok.Lifetime(); lifetime > 0 {
		sess.ExpiresAtMillis = now.Add(lifetime).UnixMilli()
	}
	if prev != nil {
		if sess.RefreshToken == "" {
			sess.RefreshToken = prev.RefreshToken
		}
		if sess.IDToken == "" {
			sess.IDToken = prev.IDToken
		}
	}

	if err := s.backend.writeSession(sess); err != nil {
		slog.Warn("SECURITY_AUDIT: session storage failed",
			"event", "session_store_failed",
			"backend", s.backend.name(),
			"issuer", s.issuer,
			"error", err.Error(),
		)
		return err
	}

	slog.Info("SECURITY_AUDIT: session stored",
		"event", "session_stored",
		"backend", s.backend.name(),
		"issuer", s.issuer,
		"expires_at", sess.ExpiresAt().Format(time.RFC3339),
		"has_refresh_token", sess.RefreshToken != "",
	)
	return nil
}

func (s *sessionStore) SaveIdentity(id *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.backend.readSession()
	if err != nil {
		return err
	}
	sess.Identity = id.Clone()
	return s.backend.writeSession(sess)
}

func (s *sessionStore) Load() (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.readSession()
}

// current returns the stored session or nil.
func (s *sessionStore) current() *StoredSession {
	sess, err := s.Load()
	if err != nil {
		return nil
	}
	return sess
}

func (s *sessionStore) AccessToken() string {
	if sess := s.current(); sess != nil {
		return sess.AccessToken
	}
	return ""
}

func (s *sessionStore) RefreshToken() string {
	if sess := s.current(); sess != nil {
		return sess.RefreshToken
	}
	return ""
}

func (s *sessionStore) IDToken() string {
	if sess := s.current(); sess != nil {
		return sess.IDToken
	}
	return ""
}

func (s *sessionStore) Identity() *identity.Identity {
	if sess := s.current(); sess != nil {
		return sess.Identity.Clone()
	}
	return nil
}

func (s *sessionStore) ExpiresAt() time.Time {
	return s.current().ExpiresAt()
}

func (s *sessionStore) IsExpired() bool {
	expiresAt := s.ExpiresAt()
	if expiresAt.IsZero() {
		return true
	}
	return s.clock.Now().After(expiresAt.Add(-s.skew))
}

func (s *sessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.removeSession(); err != nil {
		slog.Warn("SECURITY_AUDIT: session deletion failed",
			"event", "session_delete_failed",
			"backend", s.backend.name(),
			"error", err.Error(),
		)
		return err
	}

	slog.Info("SECURITY_AUDIT: session cleared",
		"event", "session_cleared",
		"backend", s.backend.name(),
	)
	return nil
}

func (s *sessionStore) SavePending(p *PendingAuthorization) error {
	if p == nil {
		return errors.New("pending authorization is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.writePending(p)
}

func (s *sessionStore) LoadPending() (*PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.readPending()
}

func (s *sessionStore) DeletePending() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.removePending()
}

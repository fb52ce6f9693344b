// Package session owns the authentication state machine: it decides whether
// the user is authenticated, persists credentials, refreshes them before
// they expire and tears the session down on logout or refresh failure.
//
// Manager methods never return protocol errors to callers that only need a
// state: CheckAuth, Refresh and HandleCallback resolve to a State or a
// boolean, and observers learn about transitions through Subscribe.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"warden/internal/authflow"
	"warden/internal/credstore"
	"warden/internal/identity"
	"warden/pkg/logging"
	"warden/pkg/oauth"
)

// DefaultRenewInterval is how often the renewal loop checks the stored
// expiry. It must stay shorter than the store's refresh skew.
const DefaultRenewInterval = time.Minute

// ErrNotAuthenticated is returned by Token when there is no usable session.
var ErrNotAuthenticated = errors.New("not authenticated")

// Config configures a Manager.
type Config struct {
	Flow authflow.Config

	// RedirectURI is the callback URL registered for this client.
	RedirectURI string

	// PostLogoutRedirectURI is where the end-session endpoint sends the user.
	// Logout return paths are resolved against it.
	PostLogoutRedirectURI string

	// RenewInterval is the renewal loop period. Defaults to DefaultRenewInterval.
	RenewInterval time.Duration

	// ExtraRoleClaims are additional top-level claims merged into roles.
	ExtraRoleClaims []string
}

// Listener observes state transitions.
type Listener func(State)

type listenerEntry struct {
	id int
	fn Listener
}

// Option configures a Manager.
type Option func(*Manager)

// WithNavigator sets how Login and Logout send the user agent to the
// authorization server. Defaults to NoopNavigator.
func WithNavigator(n Navigator) Option {
	return func(m *Manager) {
		m.navigator = n
	}
}

// WithOAuthClient sets the token endpoint client.
func WithOAuthClient(c *oauth.Client) Option {
	return func(m *Manager) {
		m.client = c
	}
}

// WithClock sets the clock used for pending authorization timestamps.
func WithClock(c credstore.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// Manager is the session state machine. It is safe for concurrent use.
type Manager struct {
	cfg       Config
	store     credstore.Store
	client    *oauth.Client
	navigator Navigator
	clock     credstore.Clock
	decoder   *identity.Decoder
	builder   *authflow.Builder
	exchanger *authflow.Exchanger

	// mu guards state and epoch and serializes credential store writes.
	mu    sync.RWMutex
	state State
	// epoch advances whenever the session is replaced or torn down outside
	// of a refresh, so an in-flight refresh can tell its result is stale.
	epoch uint64

	listenersMu sync.Mutex
	listeners   []listenerEntry
	nextID      int

	refreshGroup singleflight.Group

	renewMu     sync.Mutex
	renewCancel context.CancelFunc
	renewDone   chan struct{}
	closed      bool
}

// NewManager creates a Manager in PhaseLoading. Call CheckAuth to resolve
// the initial state.
func NewManager(cfg Config, store credstore.Store, opts ...Option) *Manager {
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = DefaultRenewInterval
	}
	if store == nil {
		store = credstore.Default()
	}

	m := &Manager{
		cfg:       cfg,
		store:     store,
		navigator: NoopNavigator{},
		decoder:   identity.NewDecoder(cfg.ExtraRoleClaims...),
		state:     State{Phase: PhaseLoading},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = oauth.NewClient(oauth.WithLogger(logging.ForSubsystem("OAuth")))
	}

	var builderOpts []authflow.Option
	if m.clock != nil {
		builderOpts = append(builderOpts, authflow.WithClock(m.clock))
	}
	m.builder = authflow.NewBuilder(cfg.Flow, m.client, store, builderOpts...)
	m.exchanger = authflow.NewExchanger(m.builder)
	return m
}

// Store returns the credential store.
func (m *Manager) Store() credstore.Store {
	return m.store
}

// State returns a snapshot of the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// HasRole reports whether the current identity holds role.
func (m *Manager) HasRole(role string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Identity.HasRole(role)
}

// HasAnyRole reports whether the current identity holds any of roles.
func (m *Manager) HasAnyRole(roles ...string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Identity.HasAnyRole(roles...)
}

// Subscribe registers l for state transitions. Listeners run synchronously
// in registration order on the goroutine that caused the transition, and
// must not block.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: l})
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			defer m.listenersMu.Unlock()
			for i, e := range m.listeners {
				if e.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Manager) notify(s State) {
	m.listenersMu.Lock()
	ls := make([]listenerEntry, len(m.listeners))
	copy(ls, m.listeners)
	m.listenersMu.Unlock()

	for _, e := range ls {
		e.fn(s.clone())
	}
}

// setStateLocked replaces the state. It reports whether listeners should be
// notified. Callers hold m.mu.
func (m *Manager) setStateLocked(s State) bool {
	changed := !m.state.equal(s)
	m.state = s
	return changed
}

// CheckAuth resolves the state from the credential store. A valid access
// token yields PhaseAuthenticated. An expired one with a refresh token gets a
// single refresh attempt. Anything else clears the store and yields
// PhaseUnauthenticated.
func (m *Manager) CheckAuth(ctx context.Context) State {
	sess, err := m.store.Load()
	if err != nil {
		if !errors.Is(err, credstore.ErrNoSession) {
			logging.Warn("Session", "Stored session is unreadable, discarding: %v", err)
		}
		m.teardown("no stored session")
		return m.State()
	}

	if !m.store.IsExpired() {
		m.adopt(sess)
		return m.State()
	}

	if sess.RefreshToken != "" {
		m.Refresh(ctx)
		return m.State()
	}

	m.teardown("access token expired without refresh token")
	return m.State()
}

// adopt commits a valid stored session, decoding the identity if the store
// has none cached.
func (m *Manager) adopt(sess *credstore.StoredSession) {
	m.mu.Lock()
	id := sess.Identity
	if id == nil {
		id = m.decode(sess.AccessToken)
		if err := m.store.SaveIdentity(id); err != nil {
			logging.Warn("Session", "Failed to cache decoded identity: %v", err)
		}
	}
	next := State{
		Phase:       PhaseAuthenticated,
		Identity:    id,
		AccessToken: oauth.NewRedactedToken(sess.AccessToken),
	}
	changed := m.setStateLocked(next)
	m.mu.Unlock()

	if changed {
		m.notify(next)
	}
	m.startRenewal()
}

// decode never fails: a token without readable claims yields an identity
// with no roles, so role checks fail closed.
func (m *Manager) decode(accessToken string) *identity.Identity {
	id, err := m.decoder.Decode(accessToken)
	if err != nil {
		logging.Warn("Session", "Access token claims are unreadable, continuing without roles: %v", err)
		return &identity.Identity{Roles: []string{}}
	}
	return id
}

// Login builds the authorization URL for returnPath and hands it to the
// navigator. It does not change the state.
func (m *Manager) Login(ctx context.Context, returnPath string) (string, error) {
	authURL, err := m.builder.BuildLoginURL(ctx, m.cfg.RedirectURI, returnPath)
	if err != nil {
		return "", err
	}
	if err := m.navigator.Navigate(authURL); err != nil {
		logging.Warn("Session", "Could not navigate to login page: %v", err)
	}
	return authURL, nil
}

// Logout clears the session, notifies listeners and only then navigates to
// the end-session URL. Local state is cleared even when the URL cannot be
// built. It is valid in every phase.
func (m *Manager) Logout(ctx context.Context, returnPath string) (string, error) {
	idTokenHint := m.store.IDToken()
	subject := ""
	if id := m.State().Identity; id != nil {
		subject = id.SubjectID
	}

	m.mu.Lock()
	m.epoch++
	if err := m.store.Clear(); err != nil {
		logging.Error("Session", err, "Failed to clear credential store on logout")
	}
	if err := m.store.DeletePending(); err != nil {
		logging.Warn("Session", "Failed to clear pending authorization on logout: %v", err)
	}
	next := State{Phase: PhaseUnauthenticated}
	changed := m.setStateLocked(next)
	m.mu.Unlock()

	m.stopRenewal()
	if changed {
		m.notify(next)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "logout",
		Outcome: "success",
		Subject: subject,
	})

	logoutURL, err := m.builder.BuildLogoutURL(ctx, m.postLogoutURI(returnPath), idTokenHint)
	if err != nil {
		return "", err
	}
	if err := m.navigator.Navigate(logoutURL); err != nil {
		logging.Warn("Session", "Could not navigate to logout page: %v", err)
	}
	return logoutURL, nil
}

func (m *Manager) postLogoutURI(returnPath string) string {
	base := m.cfg.PostLogoutRedirectURI
	if base == "" || returnPath == "" {
		return base
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return base
	}
	ref, err := url.Parse(authflow.SanitizeReturnPath(returnPath))
	if err != nil {
		return base
	}
	return baseURL.ResolveReference(ref).String()
}

// Refresh exchanges the stored refresh token for new credentials. Concurrent
// calls share one token endpoint request and all observe its outcome. On
// failure the session is torn down; there is no retry. A logout or a new
// login that happens while the request is in flight wins over its result.
//
// Cancelling ctx only stops this caller from waiting.
func (m *Manager) Refresh(ctx context.Context) bool {
	ch := m.refreshGroup.DoChan("refresh", func() (interface{}, error) {
		return m.doRefresh(), nil
	})

	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) doRefresh() bool {
	m.mu.RLock()
	epoch := m.epoch
	m.mu.RUnlock()

	refreshToken := m.store.RefreshToken()
	if refreshToken == "" {
		m.teardownIfCurrent(epoch, "no refresh token")
		return false
	}

	timeout := m.builder.Config().TokenTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	md, err := m.builder.Endpoints(ctx)
	if err != nil {
		m.auditRefresh("failure", err.Error())
		m.teardownIfCurrent(epoch, "token endpoint unavailable")
		return false
	}

	tok, err := m.client.RefreshToken(ctx, md.TokenEndpoint, refreshToken, m.cfg.Flow.ClientID)
	if err != nil {
		m.builder.NoteTokenFailure(err)
		m.auditRefresh("failure", err.Error())
		m.teardownIfCurrent(epoch, "refresh rejected")
		return false
	}

	if err := m.commit(tok, epoch, false); err != nil {
		m.auditRefresh("discarded", err.Error())
		return false
	}
	m.auditRefresh("success", "")
	return true
}

var errStaleResult = errors.New("session changed while the request was in flight")

// commit persists tok and enters PhaseAuthenticated. A new session replaces
// the stored one outright. A refresh (newSession false) merges into it and is
// dropped if the epoch moved since expectEpoch.
func (m *Manager) commit(tok *oauth.Token, expectEpoch uint64, newSession bool) error {
	m.mu.Lock()
	if newSession {
		m.epoch++
	} else if m.epoch != expectEpoch {
		m.mu.Unlock()
		return errStaleResult
	}

	save := m.store.Save
	if newSession {
		save = m.store.Replace
	}
	if err := save(tok); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to persist credentials: %w", err)
	}
	id := m.decode(tok.AccessToken)
	if err := m.store.SaveIdentity(id); err != nil {
		logging.Warn("Session", "Failed to cache decoded identity: %v", err)
	}

	next := State{
		Phase:       PhaseAuthenticated,
		Identity:    id,
		AccessToken: oauth.NewRedactedToken(tok.AccessToken),
	}
	changed := m.setStateLocked(next)
	m.mu.Unlock()

	if changed {
		m.notify(next)
	}
	m.startRenewal()
	return nil
}

// teardown clears the store and enters PhaseUnauthenticated.
func (m *Manager) teardown(reason string) {
	m.mu.Lock()
	m.epoch++
	m.teardownLocked(reason)
}

// teardownIfCurrent tears down only if nothing replaced the session since
// epoch was read.
func (m *Manager) teardownIfCurrent(epoch uint64, reason string) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.teardownLocked(reason)
}

// teardownLocked is entered with m.mu held and releases it.
func (m *Manager) teardownLocked(reason string) {
	wasAuthenticated := m.state.Authenticated()
	if err := m.store.Clear(); err != nil {
		logging.Error("Session", err, "Failed to clear credential store")
	}
	next := State{Phase: PhaseUnauthenticated}
	changed := m.setStateLocked(next)
	m.mu.Unlock()

	m.stopRenewal()
	if wasAuthenticated {
		logging.Audit(logging.AuditEvent{Action: "session_ended", Outcome: "success", Reason: reason})
	}
	if changed {
		m.notify(next)
	}
}

func (m *Manager) auditRefresh(outcome, reason string) {
	logging.Audit(logging.AuditEvent{
		Action:  "token_refresh",
		Outcome: outcome,
		Issuer:  oauth.NormalizeIssuerURL(m.cfg.Flow.Issuer),
		Reason:  reason,
	})
}

// CompleteLogin finishes the authorization-code flow: it validates state,
// exchanges code, persists the credentials and enters PhaseAuthenticated.
// It returns the path the user started the login from. Errors are
// authflow.ErrStateMismatch, authflow.ErrExchangeFailed or a persistence
// failure; the credential store is unchanged in every error case.
func (m *Manager) CompleteLogin(ctx context.Context, code, state string) (string, error) {
	res, err := m.exchanger.Exchange(ctx, code, state)
	if err != nil {
		return "", err
	}
	if err := m.commit(res.Token, 0, true); err != nil {
		return "", err
	}

	subject := ""
	if id := m.State().Identity; id != nil {
		subject = id.SubjectID
	}
	logging.Audit(logging.AuditEvent{
		Action:  "login_completed",
		Outcome: "success",
		FlowID:  res.FlowID,
		Subject: subject,
	})
	return res.ReturnPath, nil
}

// AbortLogin ends an in-flight login that will not be completed, for
// example because the callback carried an error. The pending authorization
// is discarded; the current session is left as it is.
func (m *Manager) AbortLogin(reason string) {
	m.exchanger.Abort(reason)
}

// HandleCallback is CompleteLogin reduced to success or failure.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) bool {
	if _, err := m.CompleteLogin(ctx, code, state); err != nil {
		logging.Warn("Session", "Login callback rejected: %v", err)
		return false
	}
	return true
}

// Close stops the renewal loop and waits for it to exit. The Manager must
// not be used afterwards.
func (m *Manager) Close() {
	m.renewMu.Lock()
	m.closed = true
	m.renewMu.Unlock()

	if done := m.stopRenewal(); done != nil {
		<-done
	}
}

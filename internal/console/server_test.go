package console

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/authflow"
	"warden/internal/config"
	"warden/internal/credstore"
	"warden/internal/session"
	"warden/internal/testing/mock"
)

type consoleFixture struct {
	srv     *mock.OAuthServer
	store   *credstore.MemoryStore
	manager *session.Manager
	console *Server
}

func newConsoleFixture(t *testing.T, routes ...config.RouteConfig) *consoleFixture {
	t.Helper()

	srv := mock.NewOAuthServer(mock.OAuthServerConfig{PKCERequired: true})
	issuer, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	ccfg := config.ConsoleConfig{
		Host:      "localhost",
		Port:      8080,
		PublicURL: "http://console.test",
		Routes:    routes,
	}

	store := credstore.NewMemoryStore()
	m := session.NewManager(session.Config{
		Flow: authflow.Config{
			Issuer:       issuer,
			ClientID:     srv.ClientID(),
			UsePKCE:      true,
			TokenTimeout: 5 * time.Second,
		},
		RedirectURI:           CallbackURL(ccfg),
		PostLogoutRedirectURI: PublicURL(ccfg) + "/",
	}, store)
	t.Cleanup(m.Close)

	c, err := New(ccfg, m)
	require.NoError(t, err)

	return &consoleFixture{srv: srv, store: store, manager: m, console: c}
}

func (f *consoleFixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.console.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// login drives /login, the authorization server and /callback.
func (f *consoleFixture) login(t *testing.T, returnTo string) *httptest.ResponseRecorder {
	t.Helper()
	rec := f.get(t, "/login?return_to="+url.QueryEscape(returnTo))
	require.Equal(t, http.StatusFound, rec.Code)

	back, err := f.srv.Authorize(context.Background(), rec.Header().Get("Location"))
	require.NoError(t, err)

	return f.get(t, CallbackPath+"?"+back.Encode())
}

func adminRoutes() []config.RouteConfig {
	return []config.RouteConfig{
		{Prefix: "/admin/", RequireAuth: true, Roles: []string{"admin"}},
		{Prefix: "/audit/", RequireAuth: true, Roles: []string{"auditor"}},
	}
}

func TestCallbackURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/callback", CallbackURL(config.ConsoleConfig{Host: "localhost", Port: 8080}))
	assert.Equal(t, "https://console.example.com/callback", CallbackURL(config.ConsoleConfig{PublicURL: "https://console.example.com/"}))
}

func TestHealthz(t *testing.T) {
	f := newConsoleFixture(t)
	rec := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPlaceholderWhileLoading(t *testing.T) {
	f := newConsoleFixture(t, adminRoutes()...)

	rec := f.get(t, "/admin/")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Checking your session")
}

func TestLoginRoundTrip(t *testing.T) {
	f := newConsoleFixture(t, adminRoutes()...)
	f.manager.CheckAuth(context.Background())

	rec := f.get(t, "/admin/jobs?page=2")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?return_to=%2Fadmin%2Fjobs%3Fpage%3D2", rec.Header().Get("Location"))

	rec = f.login(t, "/admin/jobs?page=2")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/jobs?page=2", rec.Header().Get("Location"))

	rec = f.get(t, "/admin/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Jane Doe")
	assert.Contains(t, body, "admin, offline_access, viewer")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	// Already authenticated: /login goes straight back.
	rec = f.get(t, "/login?return_to=/admin/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/", rec.Header().Get("Location"))
}

func TestLogin_RejectsForeignReturnPath(t *testing.T) {
	f := newConsoleFixture(t)
	f.manager.CheckAuth(context.Background())

	rec := f.login(t, "https://evil.example.com/")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestSessionAPI(t *testing.T) {
	f := newConsoleFixture(t)
	f.manager.CheckAuth(context.Background())

	rec := f.get(t, "/api/session")
	assert.JSONEq(t, `{"phase":"unauthenticated"}`, rec.Body.String())

	f.login(t, "/")
	rec = f.get(t, "/api/session")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Phase    string                 `json:"phase"`
		Identity map[string]interface{} `json:"identity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "authenticated", got.Phase)
	assert.NotEmpty(t, got.Identity)
	assert.NotContains(t, rec.Body.String(), f.store.AccessToken())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCallback_StateMismatch(t *testing.T) {
	f := newConsoleFixture(t)
	f.manager.CheckAuth(context.Background())

	rec := f.get(t, "/login?return_to=/")
	back, err := f.srv.Authorize(context.Background(), rec.Header().Get("Location"))
	require.NoError(t, err)

	rec = f.get(t, CallbackPath+"?code="+back.Get("code")+"&state=forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Return to login")
	assert.Contains(t, rec.Body.String(), `href="/login"`)
	assert.Empty(t, f.store.AccessToken())
	assert.Equal(t, session.PhaseUnauthenticated, f.manager.State().Phase)
}

func TestCallback_AuthorizationServerError(t *testing.T) {
	f := newConsoleFixture(t)
	f.manager.CheckAuth(context.Background())
	f.srv.FailAuthorization("access_denied", "User cancelled")

	rec := f.get(t, "/login?return_to=%2F")
	require.Equal(t, http.StatusFound, rec.Code)
	authURL := rec.Header().Get("Location")

	back, err := f.srv.Authorize(context.Background(), authURL)
	require.NoError(t, err)
	rec = f.get(t, CallbackPath+"?"+back.Encode())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "User cancelled")
	assert.Equal(t, 0, f.srv.TokenRequests())

	_, err = f.store.LoadPending()
	assert.ErrorIs(t, err, credstore.ErrNoPending)

	// The state from the failed attempt cannot complete a later callback.
	f.srv.FailAuthorization("", "")
	back, err = f.srv.Authorize(context.Background(), authURL)
	require.NoError(t, err)
	rec = f.get(t, CallbackPath+"?"+back.Encode())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, f.manager.State().Authenticated())
	assert.Equal(t, 0, f.srv.TokenRequests())
}

func TestAccessDenied(t *testing.T) {
	f := newConsoleFixture(t, adminRoutes()...)
	f.manager.CheckAuth(context.Background())
	f.login(t, "/")

	rec := f.get(t, "/audit/")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "<code>auditor</code>")
	assert.Contains(t, rec.Body.String(), "Jane Doe does not hold")
}

func TestHomePage(t *testing.T) {
	f := newConsoleFixture(t)
	f.manager.CheckAuth(context.Background())

	rec := f.get(t, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not signed in")
}

func TestLogout(t *testing.T) {
	f := newConsoleFixture(t)
	f.manager.CheckAuth(context.Background())
	f.login(t, "/")
	require.True(t, f.manager.State().Authenticated())

	rec := f.get(t, "/logout?return_to=/bye")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, f.srv.EndSessionEndpoint(), loc.Scheme+"://"+loc.Host+loc.Path)
	assert.Equal(t, "http://console.test/bye", loc.Query().Get("post_logout_redirect_uri"))
	assert.NotEmpty(t, loc.Query().Get("id_token_hint"))

	assert.Equal(t, session.PhaseUnauthenticated, f.manager.State().Phase)
	assert.Empty(t, f.store.AccessToken())
}

func TestProxy_InjectsBearerAndRefreshesOnInvalidToken(t *testing.T) {
	var calls atomic.Int32
	var firstToken, secondToken atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Cookie"), "cookies are not forwarded")
		auth := r.Header.Get("Authorization")
		if calls.Add(1) == 1 {
			firstToken.Store(auth)
			w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="revoked"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		secondToken.Store(auth)
		_, _ = w.Write([]byte("upstream:" + r.URL.Path))
	}))
	defer upstream.Close()

	f := newConsoleFixture(t, config.RouteConfig{Prefix: "/api/jobs/", RequireAuth: true, Upstream: upstream.URL})
	f.manager.CheckAuth(context.Background())
	f.login(t, "/")

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/17", nil)
	req.Header.Set("Cookie", "console=1")
	rec := httptest.NewRecorder()
	f.console.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upstream:/api/jobs/17", rec.Body.String())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, f.srv.RefreshRequests())
	assert.True(t, strings.HasPrefix(firstToken.Load().(string), "Bearer "))
	assert.NotEqual(t, firstToken.Load(), secondToken.Load(), "retried with the refreshed token")
	assert.Equal(t, "Bearer "+f.store.AccessToken(), secondToken.Load())
}

func TestProxy_OtherUnauthorizedPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="insufficient_scope"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	f := newConsoleFixture(t, config.RouteConfig{Prefix: "/api/jobs/", RequireAuth: true, Upstream: upstream.URL})
	f.manager.CheckAuth(context.Background())
	f.login(t, "/")

	rec := f.get(t, "/api/jobs/")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.srv.RefreshRequests())
}

func TestNew_InvalidUpstream(t *testing.T) {
	_, err := New(config.ConsoleConfig{Routes: []config.RouteConfig{{Prefix: "/x/", Upstream: "http://[::1"}}}, nil)
	assert.Error(t, err)
}

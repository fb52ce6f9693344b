package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/credstore"
	"warden/internal/testing/mock"
	"warden/pkg/oauth"
)

type flowFixture struct {
	srv       *mock.OAuthServer
	store     *credstore.MemoryStore
	clock     *mock.MockClock
	builder   *Builder
	exchanger *Exchanger
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	srv := mock.NewOAuthServer(mock.OAuthServerConfig{PKCERequired: true})
	issuer, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	clock := mock.NewMockClock(time.Now())
	store := credstore.NewMemoryStore(credstore.WithClock(clock))
	b := NewBuilder(Config{
		Issuer:       issuer,
		ClientID:     srv.ClientID(),
		UsePKCE:      true,
		TokenTimeout: 5 * time.Second,
	}, oauth.NewClient(), store, WithClock(clock))

	return &flowFixture{srv: srv, store: store, clock: clock, builder: b, exchanger: NewExchanger(b)}
}

// login builds a login URL and follows it through the mock server.
func (f *flowFixture) login(t *testing.T, returnPath string) url.Values {
	t.Helper()
	loginURL, err := f.builder.BuildLoginURL(context.Background(), testRedirect, returnPath)
	require.NoError(t, err)
	back, err := f.srv.Authorize(context.Background(), loginURL)
	require.NoError(t, err)
	return back
}

func TestExchange_Success(t *testing.T) {
	f := newFlowFixture(t)
	back := f.login(t, "/experiments")

	res, err := f.exchanger.Exchange(context.Background(), back.Get("code"), back.Get("state"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token.AccessToken)
	assert.NotEmpty(t, res.Token.RefreshToken)
	assert.Equal(t, "/experiments", res.ReturnPath)
	assert.NotEmpty(t, res.FlowID)
	assert.Equal(t, 1, f.srv.TokenRequests())

	_, err = f.store.LoadPending()
	assert.ErrorIs(t, err, credstore.ErrNoPending, "pending deleted after success")
	assert.Empty(t, f.store.AccessToken(), "exchanger never writes credentials")

	// Replaying the same callback is rejected without a token request.
	_, err = f.exchanger.Exchange(context.Background(), back.Get("code"), back.Get("state"))
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, 1, f.srv.TokenRequests())
}

func TestExchange_StateMismatch(t *testing.T) {
	f := newFlowFixture(t)
	back := f.login(t, "/")

	_, err := f.exchanger.Exchange(context.Background(), back.Get("code"), "forged-state")
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, 0, f.srv.TokenRequests(), "no network call on mismatch")

	_, err = f.store.LoadPending()
	assert.ErrorIs(t, err, credstore.ErrNoPending, "pending deleted after mismatch")
	_, err = f.store.Load()
	assert.ErrorIs(t, err, credstore.ErrNoSession)
}

func TestExchange_EmptyState(t *testing.T) {
	f := newFlowFixture(t)
	back := f.login(t, "/")

	_, err := f.exchanger.Exchange(context.Background(), back.Get("code"), "")
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, 0, f.srv.TokenRequests())
}

func TestExchange_NoPending(t *testing.T) {
	f := newFlowFixture(t)

	_, err := f.exchanger.Exchange(context.Background(), "code", "state")
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, 0, f.srv.TokenRequests())
}

func TestExchange_ExpiredPending(t *testing.T) {
	f := newFlowFixture(t)
	back := f.login(t, "/")

	f.clock.Advance(PendingTTL + time.Second)

	_, err := f.exchanger.Exchange(context.Background(), back.Get("code"), back.Get("state"))
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, 0, f.srv.TokenRequests())
}

func TestExchange_MissingCode(t *testing.T) {
	f := newFlowFixture(t)
	back := f.login(t, "/")

	_, err := f.exchanger.Exchange(context.Background(), "", back.Get("state"))
	assert.ErrorIs(t, err, ErrExchangeFailed)
	assert.Equal(t, 0, f.srv.TokenRequests())
}

func TestExchange_TokenEndpointFailure(t *testing.T) {
	f := newFlowFixture(t)
	back := f.login(t, "/")
	f.srv.FailTokenRequests(http.StatusInternalServerError, "server_error", "boom")

	_, err := f.exchanger.Exchange(context.Background(), back.Get("code"), back.Get("state"))
	require.ErrorIs(t, err, ErrExchangeFailed)

	var tokenErr *oauth.TokenError
	require.True(t, errors.As(err, &tokenErr))
	assert.Equal(t, http.StatusInternalServerError, tokenErr.StatusCode)
	assert.Equal(t, "server_error", tokenErr.Code)

	_, err = f.store.LoadPending()
	assert.ErrorIs(t, err, credstore.ErrNoPending, "pending deleted after failure")
	assert.Empty(t, f.store.AccessToken())
}

func TestExchange_InvalidCode(t *testing.T) {
	f := newFlowFixture(t)
	back := f.login(t, "/")

	_, err := f.exchanger.Exchange(context.Background(), "not-the-code", back.Get("state"))
	require.ErrorIs(t, err, ErrExchangeFailed)

	var tokenErr *oauth.TokenError
	require.True(t, errors.As(err, &tokenErr))
	assert.True(t, tokenErr.InvalidGrant())
}

func TestExchange_AbortConsumesPending(t *testing.T) {
	f := newFlowFixture(t)
	back := f.login(t, "/")

	f.exchanger.Abort("access_denied")
	_, err := f.store.LoadPending()
	assert.ErrorIs(t, err, credstore.ErrNoPending)

	_, err = f.exchanger.Exchange(context.Background(), back.Get("code"), back.Get("state"))
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, 0, f.srv.TokenRequests())

	// Aborting with nothing pending is harmless.
	f.exchanger.Abort("late error callback")
}

func TestParseCallback(t *testing.T) {
	code, state, err := ParseCallback(url.Values{"code": {"c"}, "state": {"s"}})
	require.NoError(t, err)
	assert.Equal(t, "c", code)
	assert.Equal(t, "s", state)

	_, state, err = ParseCallback(url.Values{"error": {"access_denied"}, "error_description": {"denied"}, "state": {"s"}})
	var cbErr *CallbackError
	require.True(t, errors.As(err, &cbErr))
	assert.Equal(t, "access_denied", cbErr.Code)
	assert.Equal(t, "s", state)
	assert.Equal(t, "authorization server returned access_denied: denied", cbErr.Error())
	assert.Equal(t, "authorization server returned x", (&CallbackError{Code: "x"}).Error())
}

func TestParseCallback_FlattensDescription(t *testing.T) {
	_, _, err := ParseCallback(url.Values{
		"error":             {"server_error"},
		"error_description": {"line one\nline two\n" + strings.Repeat("x", 500)},
	})
	var cbErr *CallbackError
	require.True(t, errors.As(err, &cbErr))
	assert.NotContains(t, cbErr.Description, "\n")
	assert.True(t, strings.HasPrefix(cbErr.Description, "line one line two x"))
	assert.Len(t, []rune(cbErr.Description), 200)
	assert.True(t, strings.HasSuffix(cbErr.Description, "..."))
}

// discoveryServer serves metadata whose token endpoint is tokenEndpoint(base)
// and answers /token with an invalid_grant error.
func discoveryServer(t *testing.T, tokenEndpoint func(base string) string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var discoveries atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/token" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		discoveries.Add(1)
		json.NewEncoder(w).Encode(oauth.Metadata{
			Issuer:                srv.URL,
			AuthorizationEndpoint: srv.URL + "/auth",
			TokenEndpoint:         tokenEndpoint(srv.URL),
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &discoveries
}

func exchangeOnce(t *testing.T, issuer string) {
	t.Helper()
	store := credstore.NewMemoryStore()
	b := NewBuilder(Config{Issuer: issuer, ClientID: "console", TokenTimeout: 2 * time.Second}, oauth.NewClient(), store)

	_, err := b.BuildLoginURL(context.Background(), testRedirect, "/")
	require.NoError(t, err)
	pending, err := store.LoadPending()
	require.NoError(t, err)

	_, err = NewExchanger(b).Exchange(context.Background(), "code", pending.State)
	assert.ErrorIs(t, err, ErrExchangeFailed)

	_, err = b.BuildLoginURL(context.Background(), testRedirect, "/")
	require.NoError(t, err)
}

func TestExchange_UnreachableTokenEndpointRediscovers(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	srv, discoveries := discoveryServer(t, func(string) string { return deadURL + "/token" })
	exchangeOnce(t, srv.URL)
	assert.Equal(t, int32(2), discoveries.Load())
}

func TestExchange_OAuthErrorKeepsDiscovery(t *testing.T) {
	srv, discoveries := discoveryServer(t, func(base string) string { return base + "/token" })
	exchangeOnce(t, srv.URL)
	assert.Equal(t, int32(1), discoveries.Load())
}

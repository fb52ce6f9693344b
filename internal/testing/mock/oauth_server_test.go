package mock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg OAuthServerConfig) *OAuthServer {
	t.Helper()
	s := NewOAuthServer(cfg)
	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func postToken(t *testing.T, s *OAuthServer, form url.Values) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(s.TokenEndpoint(), "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestOAuthServer_Discovery(t *testing.T) {
	s := startServer(t, OAuthServerConfig{})

	resp, err := http.Get(s.Issuer() + "/.well-known/openid-configuration")
	require.NoError(t, err)
	defer resp.Body.Close()

	var md map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&md))
	assert.Equal(t, s.Issuer(), md["issuer"])
	assert.Equal(t, s.EndSessionEndpoint(), md["end_session_endpoint"])
}

func TestOAuthServer_CodeIsSingleUse(t *testing.T) {
	s := startServer(t, OAuthServerConfig{})

	authURL := s.AuthorizeEndpoint() + "?" + url.Values{
		"response_type": {"code"},
		"client_id":     {"console"},
		"redirect_uri":  {"http://localhost:8085/callback"},
		"state":         {"st"},
	}.Encode()

	back, err := s.Authorize(context.Background(), authURL)
	require.NoError(t, err)
	assert.Equal(t, "st", back.Get("state"))
	require.NotEmpty(t, back.Get("code"))

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {back.Get("code")},
		"redirect_uri": {"http://localhost:8085/callback"},
		"client_id":    {"console"},
	}
	status, body := postToken(t, s, form)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])

	status, body = postToken(t, s, form)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])
	assert.Equal(t, 2, s.TokenRequests())
}

func TestOAuthServer_RefreshRotates(t *testing.T) {
	s := startServer(t, OAuthServerConfig{})
	issued := s.IssueTokens()

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {issued.RefreshToken}, "client_id": {"console"}}
	status, body := postToken(t, s, form)
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, issued.RefreshToken, body["refresh_token"])

	status, _ = postToken(t, s, form)
	assert.Equal(t, http.StatusBadRequest, status, "old refresh token is consumed")
	assert.Equal(t, 2, s.RefreshRequests())
}

func TestOAuthServer_FailureToggle(t *testing.T) {
	s := startServer(t, OAuthServerConfig{})
	issued := s.IssueTokens()

	s.FailTokenRequests(http.StatusServiceUnavailable, "temporarily_unavailable", "maintenance")
	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {issued.RefreshToken}, "client_id": {"console"}}
	status, body := postToken(t, s, form)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "temporarily_unavailable", body["error"])

	s.FailTokenRequests(0, "", "")
	status, _ = postToken(t, s, form)
	assert.Equal(t, http.StatusOK, status, "refresh token survives a failed request")
}

func TestOAuthServer_AuthorizationError(t *testing.T) {
	s := startServer(t, OAuthServerConfig{})
	s.FailAuthorization("access_denied", "User denied consent")

	authURL := s.AuthorizeEndpoint() + "?" + url.Values{
		"response_type": {"code"},
		"client_id":     {"console"},
		"redirect_uri":  {"http://localhost/callback"},
		"state":         {"st"},
	}.Encode()

	back, err := s.Authorize(context.Background(), authURL)
	require.NoError(t, err)
	assert.Equal(t, "access_denied", back.Get("error"))
	assert.Equal(t, "User denied consent", back.Get("error_description"))
	assert.Empty(t, back.Get("code"))
}

func TestOAuthServer_PKCE(t *testing.T) {
	s := startServer(t, OAuthServerConfig{PKCERequired: true})

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {"console"},
		"redirect_uri":  {"http://localhost/callback"},
	}
	_, err := s.Authorize(context.Background(), s.AuthorizeEndpoint()+"?"+params.Encode())
	assert.Error(t, err, "missing challenge is rejected")

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	params.Set("code_challenge", "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM")
	params.Set("code_challenge_method", "S256")
	back, err := s.Authorize(context.Background(), s.AuthorizeEndpoint()+"?"+params.Encode())
	require.NoError(t, err)

	status, _ := postToken(t, s, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {back.Get("code")},
		"redirect_uri":  {"http://localhost/callback"},
		"client_id":     {"console"},
		"code_verifier": {verifier},
	})
	assert.Equal(t, http.StatusOK, status)
}

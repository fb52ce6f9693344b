package mock

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RealmPath is the path prefix of the mock realm, mirroring Keycloak's layout.
const RealmPath = "/realms/warden"

// User is the identity the mock server puts into issued tokens.
type User struct {
	Subject    string
	Username   string
	Email      string
	Name       string
	GivenName  string
	FamilyName string

	RealmRoles  []string
	ClientRoles map[string][]string
	Groups      []string
}

// DefaultUser is used when OAuthServerConfig.User is empty.
var DefaultUser = User{
	Subject:     "8f1c2d3e-0000-4000-8000-000000000001",
	Username:    "jdoe",
	Email:       "jdoe@example.com",
	Name:        "Jane Doe",
	RealmRoles:  []string{"offline_access", "viewer"},
	ClientRoles: map[string][]string{"console": {"admin", "viewer"}},
}

// OAuthServerConfig configures the mock authorization server.
type OAuthServerConfig struct {
	// ClientID is the only client accepted. Defaults to "console".
	ClientID string

	// TokenLifetime is the access token lifetime. Defaults to one hour.
	TokenLifetime time.Duration

	User User

	// PKCERequired rejects authorization requests without a code_challenge.
	PKCERequired bool

	// OmitRefreshTokenOnRefresh makes refresh responses carry no
	// refresh_token, as some servers do when renewal values do not rotate.
	OmitRefreshTokenOnRefresh bool

	// OmitRefreshToken makes authorization-code responses carry no
	// refresh_token either.
	OmitRefreshToken bool

	// OmitIDToken drops id_token from every token response.
	OmitIDToken bool

	// TokenDelay is added to every token endpoint response.
	TokenDelay time.Duration

	// Clock drives iat/exp claims. Defaults to RealClock.
	Clock Clock

	Debug bool
}

// TokenResponse is the token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

type authCodeEntry struct {
	ClientID      string
	RedirectURI   string
	Scope         string
	CodeChallenge string
}

type tokenFailure struct {
	status      int
	code        string
	description string
}

type callbackError struct {
	code        string
	description string
}

// OAuthServer is a mock OAuth 2.0 / OIDC authorization server.
type OAuthServer struct {
	config     OAuthServerConfig
	httpServer *http.Server
	listener   net.Listener
	issuer     string

	mu            sync.Mutex
	user          User
	authCodes     map[string]*authCodeEntry
	refreshTokens map[string]string // refresh token -> scope
	failure       *tokenFailure
	authzError    *callbackError
	logouts       []url.Values

	tokenRequests   atomic.Int32
	refreshRequests atomic.Int32
}

// NewOAuthServer creates a mock server. Call Start before use.
func NewOAuthServer(config OAuthServerConfig) *OAuthServer {
	if config.ClientID == "" {
		config.ClientID = "console"
	}
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}
	user := config.User
	if user.Subject == "" {
		user = DefaultUser
	}

	return &OAuthServer{
		config:        config,
		user:          user,
		authCodes:     make(map[string]*authCodeEntry),
		refreshTokens: make(map[string]string),
	}
}

// Start listens on a random loopback port and returns the issuer URL.
func (s *OAuthServer) Start() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.issuer = fmt.Sprintf("http://%s%s", listener.Addr().String(), RealmPath)

	mux := http.NewServeMux()
	mux.HandleFunc(RealmPath+"/.well-known/openid-configuration", s.handleMetadata)
	mux.HandleFunc(RealmPath+"/protocol/openid-connect/auth", s.handleAuthorize)
	mux.HandleFunc(RealmPath+"/protocol/openid-connect/token", s.handleToken)
	mux.HandleFunc(RealmPath+"/protocol/openid-connect/logout", s.handleLogout)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.New(io.Discard, "", 0),
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.debugf("serve error: %v", err)
		}
	}()

	s.debugf("started, issuer %s", s.issuer)
	return s.issuer, nil
}

// Close stops the server.
func (s *OAuthServer) Close() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
}

// Issuer returns the issuer URL.
func (s *OAuthServer) Issuer() string { return s.issuer }

// ClientID returns the accepted client ID.
func (s *OAuthServer) ClientID() string { return s.config.ClientID }

// AuthorizeEndpoint returns the authorization endpoint URL.
func (s *OAuthServer) AuthorizeEndpoint() string {
	return s.issuer + "/protocol/openid-connect/auth"
}

// TokenEndpoint returns the token endpoint URL.
func (s *OAuthServer) TokenEndpoint() string {
	return s.issuer + "/protocol/openid-connect/token"
}

// EndSessionEndpoint returns the end-session endpoint URL.
func (s *OAuthServer) EndSessionEndpoint() string {
	return s.issuer + "/protocol/openid-connect/logout"
}

// SetUser changes the identity put into subsequently issued tokens.
func (s *OAuthServer) SetUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

// FailTokenRequests makes the token endpoint answer status with an RFC 6749
// error body. A zero status restores normal behaviour.
func (s *OAuthServer) FailTokenRequests(status int, code, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		s.failure = nil
		return
	}
	s.failure = &tokenFailure{status: status, code: code, description: description}
}

// FailAuthorization makes the authorize endpoint redirect back with
// error/error_description instead of a code. An empty code restores normal
// behaviour.
func (s *OAuthServer) FailAuthorization(code, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == "" {
		s.authzError = nil
		return
	}
	s.authzError = &callbackError{code: code, description: description}
}

// RevokeRefreshTokens invalidates every outstanding refresh token.
func (s *OAuthServer) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

// TokenRequests returns the number of token endpoint calls.
func (s *OAuthServer) TokenRequests() int { return int(s.tokenRequests.Load()) }

// RefreshRequests returns the number of refresh_token grant calls.
func (s *OAuthServer) RefreshRequests() int { return int(s.refreshRequests.Load()) }

// LogoutRequests returns the query of every end-session request received.
func (s *OAuthServer) LogoutRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.logouts))
	copy(out, s.logouts)
	return out
}

// Authorize plays the browser: it requests authURL without following the
// redirect and returns the query of the redirect back to the client.
func (s *OAuthServer) Authorize(ctx context.Context, authURL string) (url.Values, error) {
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("authorize returned %d: %s", resp.StatusCode, body)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return nil, err
	}
	return loc.Query(), nil
}

// IssueTokens issues a token set outside the browser flow, as if the user had
// just logged in.
func (s *OAuthServer) IssueTokens() *TokenResponse {
	return s.issue("openid profile email", true)
}

// AccessToken returns an access token for the current user that expires at
// expiresAt. It is not registered with a refresh token.
func (s *OAuthServer) AccessToken(expiresAt time.Time) string {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	return s.accessToken(user, s.config.Clock.Now(), expiresAt)
}

func (s *OAuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                           s.issuer,
		"authorization_endpoint":           s.AuthorizeEndpoint(),
		"token_endpoint":                   s.TokenEndpoint(),
		"end_session_endpoint":             s.EndSessionEndpoint(),
		"response_types_supported":         []string{"code"},
		"grant_types_supported":            []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported": []string{"S256"},
	})
}

func (s *OAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")

	if q.Get("response_type") != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != s.config.ClientID {
		http.Error(w, "invalid_client", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	if s.config.PKCERequired && q.Get("code_challenge") == "" {
		http.Error(w, "PKCE required: code_challenge missing", http.StatusBadRequest)
		return
	}
	if m := q.Get("code_challenge_method"); m != "" && m != "S256" {
		http.Error(w, "unsupported code_challenge_method", http.StatusBadRequest)
		return
	}

	back := target.Query()
	if st := q.Get("state"); st != "" {
		back.Set("state", st)
	}

	s.mu.Lock()
	authzErr := s.authzError
	if authzErr == nil {
		code := generateOpaqueToken()
		s.authCodes[code] = &authCodeEntry{
			ClientID:      q.Get("client_id"),
			RedirectURI:   redirectURI,
			Scope:         q.Get("scope"),
			CodeChallenge: q.Get("code_challenge"),
		}
		back.Set("code", code)
	}
	s.mu.Unlock()

	if authzErr != nil {
		back.Set("error", authzErr.code)
		if authzErr.description != "" {
			back.Set("error_description", authzErr.description)
		}
	}

	target.RawQuery = back.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *OAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.tokenRequests.Add(1)

	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	if s.config.TokenDelay > 0 {
		select {
		case <-time.After(s.config.TokenDelay):
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	failure := s.failure
	s.mu.Unlock()
	if failure != nil {
		tokenError(w, failure.status, failure.code, failure.description)
		return
	}

	if r.FormValue("client_id") != s.config.ClientID {
		tokenError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	switch grant := r.FormValue("grant_type"); grant {
	case "authorization_code":
		s.handleAuthCodeGrant(w, r)
	case "refresh_token":
		s.refreshRequests.Add(1)
		s.handleRefreshGrant(w, r)
	default:
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type", fmt.Sprintf("grant_type %s not supported", grant))
	}
}

func (s *OAuthServer) handleAuthCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")

	s.mu.Lock()
	entry, ok := s.authCodes[code]
	delete(s.authCodes, code)
	s.mu.Unlock()

	if !ok {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
		return
	}
	if r.FormValue("redirect_uri") != entry.RedirectURI {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "Incorrect redirect_uri")
		return
	}
	if entry.CodeChallenge != "" && !verifyS256(entry.CodeChallenge, r.FormValue("code_verifier")) {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	s.debugf("issued tokens for authorization code")
	writeJSON(w, http.StatusOK, s.issue(entry.Scope, !s.config.OmitRefreshToken))
}

func (s *OAuthServer) handleRefreshGrant(w http.ResponseWriter, r *http.Request) {
	rt := r.FormValue("refresh_token")

	s.mu.Lock()
	scope, ok := s.refreshTokens[rt]
	// Refresh tokens are single use.
	delete(s.refreshTokens, rt)
	s.mu.Unlock()

	if !ok {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "Invalid refresh token")
		return
	}

	s.debugf("refreshed tokens")
	writeJSON(w, http.StatusOK, s.issue(scope, !s.config.OmitRefreshTokenOnRefresh && !s.config.OmitRefreshToken))
}

func (s *OAuthServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	s.mu.Lock()
	s.logouts = append(s.logouts, q)
	s.mu.Unlock()

	if target := q.Get("post_logout_redirect_uri"); target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "logged out")
}

// issue mints a token set. With withRefresh, a new single-use refresh token is
// registered and returned.
func (s *OAuthServer) issue(scope string, withRefresh bool) *TokenResponse {
	now := s.config.Clock.Now()

	s.mu.Lock()
	user := s.user
	resp := &TokenResponse{
		TokenType: "Bearer",
		ExpiresIn: int(s.config.TokenLifetime.Seconds()),
		Scope:     scope,
	}
	if withRefresh {
		resp.RefreshToken = generateOpaqueToken()
		s.refreshTokens[resp.RefreshToken] = scope
	}
	s.mu.Unlock()

	resp.AccessToken = s.accessToken(user, now, now.Add(s.config.TokenLifetime))
	if !s.config.OmitIDToken {
		resp.IDToken = s.idToken(user, now)
	}
	return resp
}

func (s *OAuthServer) accessToken(user User, now, expiresAt time.Time) string {
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": user.Subject,
		"aud": "account",
		"azp": s.config.ClientID,
		"typ": "Bearer",
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
		"jti": generateOpaqueToken(),
	}
	setIfNotEmpty(claims, "preferred_username", user.Username)
	setIfNotEmpty(claims, "email", user.Email)
	setIfNotEmpty(claims, "name", user.Name)
	setIfNotEmpty(claims, "given_name", user.GivenName)
	setIfNotEmpty(claims, "family_name", user.FamilyName)

	if len(user.RealmRoles) > 0 {
		claims["realm_access"] = map[string]interface{}{"roles": user.RealmRoles}
	}
	if len(user.ClientRoles) > 0 {
		ra := make(map[string]interface{}, len(user.ClientRoles))
		for client, roles := range user.ClientRoles {
			ra[client] = map[string]interface{}{"roles": roles}
		}
		claims["resource_access"] = ra
	}
	if len(user.Groups) > 0 {
		claims["groups"] = user.Groups
	}

	return unsignedJWT(claims)
}

func (s *OAuthServer) idToken(user User, now time.Time) string {
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": user.Subject,
		"aud": s.config.ClientID,
		"typ": "ID",
		"iat": now.Unix(),
		"exp": now.Add(s.config.TokenLifetime).Unix(),
	}
	setIfNotEmpty(claims, "preferred_username", user.Username)
	setIfNotEmpty(claims, "email", user.Email)
	return unsignedJWT(claims)
}

func (s *OAuthServer) debugf(format string, args ...interface{}) {
	if s.config.Debug {
		fmt.Fprintf(os.Stderr, "mock oauth: "+format+"\n", args...)
	}
}

// UnsignedJWT encodes claims as a JWT with alg "none". Tests use it to build
// access tokens with arbitrary claims.
func UnsignedJWT(claims map[string]interface{}) string {
	return unsignedJWT(jwt.MapClaims(claims))
}

func unsignedJWT(claims jwt.MapClaims) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		panic(fmt.Errorf("failed to encode unsigned JWT: %w", err))
	}
	return tok
}

func setIfNotEmpty(claims jwt.MapClaims, key, value string) {
	if value != "" {
		claims[key] = value
	}
}

func verifyS256(challenge, verifier string) bool {
	if verifier == "" {
		return false
	}
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:]) == challenge
}

// generateOpaqueToken panics if crypto/rand fails, which does not happen in
// practice.
func generateOpaqueToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("crypto/rand failed: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func tokenError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

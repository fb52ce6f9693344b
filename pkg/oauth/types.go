package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TokenRefreshThreshold is the window before expiry in which an access token
// is treated as expired and renewed proactively.
const TokenRefreshThreshold = 5 * time.Minute

// DefaultStorageDir is the session storage directory relative to the user's
// home directory.
const DefaultStorageDir = ".config/warden"

// NormalizeIssuerURL strips trailing slashes so that discovery and cache keys
// are stable regardless of how the issuer was configured.
func NormalizeIssuerURL(issuer string) string {
	return strings.TrimRight(strings.TrimSpace(issuer), "/")
}

// Token is the token endpoint response for both the authorization_code and
// refresh_token grants.
type Token struct {
	// AccessToken is the bearer credential.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is the renewal value. Servers may omit it on refresh.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// IDToken is the OIDC ID token, used as id_token_hint on logout.
	IDToken string `json:"id_token,omitempty"`

	// Scope is the granted scope, space-separated.
	Scope string `json:"scope,omitempty"`
}

// Lifetime returns ExpiresIn as a duration.
func (t *Token) Lifetime() time.Duration {
	if t == nil || t.ExpiresIn <= 0 {
		return 0
	}
	return time.Duration(t.ExpiresIn) * time.Second
}

// Scopes returns the scope as a slice of individual scopes.
func (t *Token) Scopes() []string {
	if t == nil || t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// ToOAuth2Token converts the token to an oauth2.Token with the given expiry.
func (t *Token) ToOAuth2Token(expiry time.Time) *oauth2.Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    tokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       expiry,
	}
	if t.IDToken != "" {
		token = token.WithExtra(map[string]interface{}{
			"id_token": t.IDToken,
		})
	}
	return token
}

// Metadata is OAuth 2.0 Authorization Server Metadata (RFC 8414), including the
// OIDC end_session_endpoint used for RP-initiated logout.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	EndSessionEndpoint            string   `json:"end_session_endpoint,omitempty"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint,omitempty"`
	JwksURI                       string   `json:"jwks_uri,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported           []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsPKCE returns true if the server supports S256 PKCE.
func (m *Metadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	// Servers that do not advertise methods are assumed to accept S256.
	return len(m.CodeChallengeMethodsSupported) == 0
}

// AuthChallenge is a parsed WWW-Authenticate header.
type AuthChallenge struct {
	Scheme           string
	Realm            string
	Scope            string
	Error            string
	ErrorDescription string
}

// InvalidToken reports whether the challenge rejects the presented bearer
// token (RFC 6750 error="invalid_token").
func (c *AuthChallenge) InvalidToken() bool {
	if c == nil {
		return false
	}
	return strings.EqualFold(c.Scheme, "Bearer") && c.Error == "invalid_token"
}

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
type PKCEChallenge struct {
	// CodeVerifier is kept locally and sent only to the token endpoint.
	CodeVerifier string

	// CodeChallenge is the base64url SHA256 of the verifier.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

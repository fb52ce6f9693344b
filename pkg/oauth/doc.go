// Package oauth holds the wire-level OAuth 2.0 / OIDC pieces shared by the
// warden session layer and CLI.
//
// # Core Components
//
//   - Token: the token endpoint's JSON response
//   - Metadata: authorization server metadata (RFC 8414 / OIDC discovery)
//   - Client: metadata discovery, authorization_code and refresh_token grants
//   - PKCE and state generation (RFC 7636)
//   - TokenError: a parsed non-2xx token endpoint response
//   - AuthChallenge: a parsed WWW-Authenticate header from a protected upstream
//
// # Usage
//
//	client := oauth.NewClient(oauth.WithHTTPClient(httpClient))
//	md, err := client.DiscoverMetadata(ctx, issuer)
//	tok, err := client.ExchangeCode(ctx, md.TokenEndpoint, code, redirectURI, clientID, verifier)
//
// Nothing in this package persists tokens or decides session state; see
// internal/credstore and internal/session for that.
package oauth

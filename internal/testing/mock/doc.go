// Package mock provides test doubles for warden's external dependencies.
//
// OAuthServer is a Keycloak-flavoured authorization server that issues
// unsigned JWT access tokens carrying realm_access and resource_access
// roles. It implements discovery, the authorize endpoint (auto-approving),
// the authorization_code and refresh_token grants with single-use codes and
// rotating refresh tokens, and an end-session endpoint. Tests can count token
// requests, toggle failures and drive expiry through a MockClock.
//
// SECURITY WARNING: tokens are signed with alg "none". Never use this
// package outside tests.
package mock

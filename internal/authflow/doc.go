// Package authflow builds authorization and end-session URLs and completes
// the authorization-code callback.
//
// The Builder generates the correlation token (state) and, when enabled, a
// PKCE verifier, and persists both as a PendingAuthorization in the
// credential store. The Exchanger consumes that record exactly once: a
// callback whose state does not match is rejected before any network call,
// and the record is deleted whether the exchange succeeds or fails.
//
// Neither type writes credentials. The session manager persists the token
// returned by Exchange.
//
// CLI logins receive the callback on a loopback CallbackServer; the console
// serves /callback itself.
package authflow

// Package routegate decides what a route shows for the current session:
// the protected content, a placeholder while the session is still loading,
// a redirect to login, or an access-denied view.
package routegate

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"warden/internal/identity"
	"warden/internal/session"
	"warden/pkg/logging"
)

// Outcome is the result of a gate decision.
type Outcome int

const (
	Render Outcome = iota
	Placeholder
	RedirectLogin
	AccessDenied
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Placeholder:
		return "placeholder"
	case RedirectLogin:
		return "redirect_login"
	case AccessDenied:
		return "access_denied"
	default:
		return "unknown"
	}
}

// Requirement is what a route demands of the session.
type Requirement struct {
	RequireAuth bool
	// Roles grants access to holders of any one of them. Empty means no
	// role check.
	Roles []string
}

// Decide maps a session state and a route requirement to an outcome.
// A loading session never redirects.
func Decide(state session.State, req Requirement) Outcome {
	if state.Phase == session.PhaseLoading {
		return Placeholder
	}
	if req.RequireAuth && !state.Authenticated() {
		return RedirectLogin
	}
	if len(req.Roles) > 0 && !state.Identity.HasAnyRole(req.Roles...) {
		return AccessDenied
	}
	return Render
}

// StateSource provides the current session state. *session.Manager
// implements it.
type StateSource interface {
	State() session.State
}

// DefaultLoginPath is where unauthenticated requests are sent.
const DefaultLoginPath = "/login"

// ReturnToParam carries the attempted path through login.
const ReturnToParam = "return_to"

// PlaceholderRetryAfter is the Retry-After value sent with placeholder pages.
const PlaceholderRetryAfter = 1

// Gate is the HTTP rendition of Decide.
type Gate struct {
	source    StateSource
	loginPath string

	placeholder http.Handler
	denied      http.Handler
}

// Option configures a Gate.
type Option func(*Gate)

// WithLoginPath overrides DefaultLoginPath.
func WithLoginPath(p string) Option {
	return func(g *Gate) {
		g.loginPath = p
	}
}

// WithPlaceholderHandler replaces the built-in placeholder page. The gate
// writes the headers, status code and Retry-After before calling h.
func WithPlaceholderHandler(h http.Handler) Option {
	return func(g *Gate) {
		g.placeholder = h
	}
}

// WithAccessDeniedHandler replaces the built-in access-denied page. The gate
// writes the headers and status code before calling h; the required roles are available
// through RequirementFromContext.
func WithAccessDeniedHandler(h http.Handler) Option {
	return func(g *Gate) {
		g.denied = h
	}
}

// New creates a Gate reading state from source.
func New(source StateSource, opts ...Option) *Gate {
	g := &Gate{
		source:      source,
		loginPath:   DefaultLoginPath,
		placeholder: http.HandlerFunc(defaultPlaceholder),
		denied:      http.HandlerFunc(defaultAccessDenied),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Protect wraps next so it only runs when Decide returns Render. The
// identity of the session, if any, is attached to the request context.
func (g *Gate) Protect(req Requirement, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := g.source.State()
		outcome := Decide(state, req)

		ctx := withRequirement(r.Context(), req)
		if state.Identity != nil {
			ctx = WithIdentity(ctx, state.Identity)
		}
		r = r.WithContext(ctx)

		switch outcome {
		case Placeholder:
			setPageHeaders(w)
			w.Header().Set("Retry-After", strconv.Itoa(PlaceholderRetryAfter))
			w.WriteHeader(http.StatusServiceUnavailable)
			g.placeholder.ServeHTTP(w, r)
		case RedirectLogin:
			http.Redirect(w, r, g.LoginURL(r.URL.RequestURI()), http.StatusFound)
		case AccessDenied:
			logging.Info("RouteGate", "Access denied to %s for %s (requires one of %v)",
				r.URL.Path, state.Identity.Name(), req.Roles)
			setPageHeaders(w)
			w.WriteHeader(http.StatusForbidden)
			g.denied.ServeHTTP(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// LoginURL returns the login path recording returnTo for post-login return.
func (g *Gate) LoginURL(returnTo string) string {
	if returnTo == "" {
		return g.loginPath
	}
	return g.loginPath + "?" + url.Values{ReturnToParam: {returnTo}}.Encode()
}

type contextKey int

const (
	identityKey contextKey = iota
	requirementKey
)

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity attached by Protect, or nil.
func IdentityFromContext(ctx context.Context) *identity.Identity {
	id, _ := ctx.Value(identityKey).(*identity.Identity)
	return id
}

func withRequirement(ctx context.Context, req Requirement) context.Context {
	return context.WithValue(ctx, requirementKey, req)
}

// RequirementFromContext returns the requirement of the route being served.
func RequirementFromContext(ctx context.Context) (Requirement, bool) {
	req, ok := ctx.Value(requirementKey).(Requirement)
	return req, ok
}

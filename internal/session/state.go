package session

import (
	"slices"

	"warden/internal/identity"
	"warden/pkg/oauth"
)

// Phase is the coarse authentication status.
type Phase int

const (
	// PhaseLoading is the initial phase until the first CheckAuth completes.
	PhaseLoading Phase = iota
	PhaseUnauthenticated
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in JSON and logs.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is a snapshot of the session. Authenticated implies a non-nil
// Identity; Unauthenticated implies neither identity nor access token.
type State struct {
	Phase       Phase               `json:"phase"`
	Identity    *identity.Identity  `json:"identity,omitempty"`
	AccessToken oauth.RedactedToken `json:"-"`
}

// Authenticated reports whether the phase is PhaseAuthenticated.
func (s State) Authenticated() bool {
	return s.Phase == PhaseAuthenticated
}

func (s State) clone() State {
	s.Identity = s.Identity.Clone()
	return s
}

// equal reports whether two states would look the same to a listener.
func (s State) equal(o State) bool {
	if s.Phase != o.Phase || s.AccessToken.Value() != o.AccessToken.Value() {
		return false
	}
	a, b := s.Identity, o.Identity
	if a == nil || b == nil {
		return a == b
	}
	return a.SubjectID == b.SubjectID &&
		a.Username == b.Username &&
		a.Email == b.Email &&
		a.DisplayName == b.DisplayName &&
		slices.Equal(a.Roles, b.Roles)
}

// Package identity decodes the claims of an access token into the user
// identity and role set the console authorizes against.
//
// Tokens are decoded without signature verification. warden is a client of
// the authorization server and only reads claims for display and route
// gating; the resource servers behind the console verify signatures.
package identity

import "slices"

// Identity is the user identity derived from an access token.
type Identity struct {
	SubjectID   string   `json:"subject_id"`
	Username    string   `json:"username"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
}

// HasRole reports whether the identity holds role. A nil identity holds no roles.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	return slices.Contains(id.Roles, role)
}

// HasAnyRole reports whether the identity holds at least one of roles.
// An empty roles list is never satisfied.
func (id *Identity) HasAnyRole(roles ...string) bool {
	if id == nil {
		return false
	}
	for _, r := range roles {
		if id.HasRole(r) {
			return true
		}
	}
	return false
}

// Name returns the best human-readable name for the identity.
func (id *Identity) Name() string {
	if id == nil {
		return ""
	}
	if id.DisplayName != "" {
		return id.DisplayName
	}
	return id.Username
}

// Clone returns a deep copy so callers cannot mutate shared role slices.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	c := *id
	c.Roles = slices.Clone(id.Roles)
	return &c
}

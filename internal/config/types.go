package config

import "time"

// WardenConfig is the top-level configuration structure for warden.
type WardenConfig struct {
	Issuer   string   `yaml:"issuer"`
	ClientID string   `yaml:"client_id"`
	Scopes   []string `yaml:"scopes,omitempty"`
	// UsePKCE defaults to true when unset.
	UsePKCE *bool `yaml:"use_pkce,omitempty"`

	Endpoints EndpointsConfig `yaml:"endpoints,omitempty"`

	// StorageDir holds session.json and pending.json (default: ~/.config/warden).
	StorageDir string `yaml:"storage_dir,omitempty"`

	RefreshSkew   time.Duration `yaml:"refresh_skew,omitempty"`
	RenewInterval time.Duration `yaml:"renew_interval,omitempty"`
	TokenTimeout  time.Duration `yaml:"token_timeout,omitempty"`

	Identity IdentityConfig `yaml:"identity,omitempty"`
	CLI      CLIConfig      `yaml:"cli,omitempty"`
	Console  ConsoleConfig  `yaml:"console,omitempty"`
}

// PKCEEnabled reports the effective PKCE setting.
func (c WardenConfig) PKCEEnabled() bool {
	return c.UsePKCE == nil || *c.UsePKCE
}

// EndpointsConfig pins authorization server endpoints instead of discovering
// them from the issuer.
type EndpointsConfig struct {
	Authorization string `yaml:"authorization,omitempty"`
	Token         string `yaml:"token,omitempty"`
	EndSession    string `yaml:"end_session,omitempty"`
}

// IdentityConfig controls claim decoding.
type IdentityConfig struct {
	// ExtraRoleClaims are top-level claims (e.g. groups) merged into roles.
	ExtraRoleClaims []string `yaml:"extra_role_claims,omitempty"`
}

// CLIConfig configures the auth commands.
type CLIConfig struct {
	CallbackPort int  `yaml:"callback_port,omitempty"` // Loopback callback port (default: 8085)
	NoBrowser    bool `yaml:"no_browser,omitempty"`    // Print the login URL instead of opening it
}

// ConsoleConfig configures `warden serve`.
type ConsoleConfig struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: localhost)
	Port int    `yaml:"port,omitempty"` // Port to listen on (default: 8080)
	// PublicURL is the externally visible base URL. Defaults to
	// http://<host>:<port>.
	PublicURL string        `yaml:"public_url,omitempty"`
	Routes    []RouteConfig `yaml:"routes,omitempty"`
}

// RouteConfig declares a gated route prefix.
type RouteConfig struct {
	Prefix      string   `yaml:"prefix"`
	RequireAuth bool     `yaml:"require_auth,omitempty"`
	Roles       []string `yaml:"roles,omitempty"`
	// Upstream is proxied to with the session's bearer token. Empty renders
	// an identity page.
	Upstream string `yaml:"upstream,omitempty"`
}

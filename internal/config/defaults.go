package config

import (
	"warden/internal/authflow"
	"warden/internal/session"
	"warden/pkg/oauth"
)

const (
	// DefaultConsoleHost is the default bind host for the console.
	DefaultConsoleHost = "localhost"

	// DefaultConsolePort is the default console port.
	DefaultConsolePort = 8080
)

// GetDefaultConfig returns the configuration used when no file exists.
func GetDefaultConfig() WardenConfig {
	return WardenConfig{
		Scopes:        append([]string(nil), authflow.DefaultScopes...),
		RefreshSkew:   oauth.TokenRefreshThreshold,
		RenewInterval: session.DefaultRenewInterval,
		TokenTimeout:  oauth.DefaultHTTPTimeout,
		CLI: CLIConfig{
			CallbackPort: authflow.DefaultCallbackPort,
		},
		Console: ConsoleConfig{
			Host: DefaultConsoleHost,
			Port: DefaultConsolePort,
		},
	}
}

// applyDefaults fills the fields a partial file leaves unset.
func (c *WardenConfig) applyDefaults() {
	d := GetDefaultConfig()
	if len(c.Scopes) == 0 {
		c.Scopes = d.Scopes
	}
	if c.RefreshSkew == 0 {
		c.RefreshSkew = d.RefreshSkew
	}
	if c.RenewInterval == 0 {
		c.RenewInterval = d.RenewInterval
	}
	if c.TokenTimeout == 0 {
		c.TokenTimeout = d.TokenTimeout
	}
	if c.CLI.CallbackPort == 0 {
		c.CLI.CallbackPort = d.CLI.CallbackPort
	}
	if c.Console.Host == "" {
		c.Console.Host = d.Console.Host
	}
	if c.Console.Port == 0 {
		c.Console.Port = d.Console.Port
	}
}

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"

	"warden/internal/authflow"
	"warden/internal/config"
	"warden/internal/credstore"
	"warden/internal/session"
)

// loadConfig loads and validates the configuration from --config-path.
func loadConfig() (config.WardenConfig, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.WardenConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.WardenConfig{}, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}
	return cfg, nil
}

// openStore opens the file credential store configured by cfg.
func openStore(cfg config.WardenConfig) (*credstore.FileStore, error) {
	store, err := credstore.NewFileStore(cfg.StorageDir,
		credstore.WithSkew(cfg.RefreshSkew),
		credstore.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return store, nil
}

// sessionConfig maps the file configuration onto a session.Config.
func sessionConfig(cfg config.WardenConfig, redirectURI, postLogoutURI string) session.Config {
	return session.Config{
		Flow: authflow.Config{
			Issuer:                cfg.Issuer,
			ClientID:              cfg.ClientID,
			Scopes:                cfg.Scopes,
			UsePKCE:               cfg.PKCEEnabled(),
			AuthorizationEndpoint: cfg.Endpoints.Authorization,
			TokenEndpoint:         cfg.Endpoints.Token,
			EndSessionEndpoint:    cfg.Endpoints.EndSession,
			TokenTimeout:          cfg.TokenTimeout,
		},
		RedirectURI:           redirectURI,
		PostLogoutRedirectURI: postLogoutURI,
		RenewInterval:         cfg.RenewInterval,
		ExtraRoleClaims:       cfg.Identity.ExtraRoleClaims,
	}
}

// browserNavigator opens URLs in the default browser, printing them when
// that is disabled or fails.
func browserNavigator(out io.Writer, noBrowser bool, prompt string) session.Navigator {
	return session.NavigatorFunc(func(u string) error {
		if !noBrowser {
			if err := authflow.OpenBrowser(u); err == nil {
				return nil
			}
			fmt.Fprintln(out, "Could not open a browser.")
		}
		fmt.Fprintf(out, "%s\n  %s\n", prompt, u)
		return nil
	})
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// formatExpiry formats expiresAt relative to now as "in X" or "expired X ago".
func formatExpiry(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return text.FgYellow.Sprint("unknown")
	}
	remaining := expiresAt.Sub(now)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(-remaining))
}

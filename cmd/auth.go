package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"warden/internal/session"
)

var authQuiet bool

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage your warden session",
	Long: `Manage the session with the configured authorization server.

Examples:
  warden auth login                    # Sign in through the browser
  warden auth status                   # Show session status
  warden auth whoami                   # Show identity and roles
  warden auth refresh                  # Force a token refresh
  warden auth logout                   # Sign out`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored session",
	Long: `Clear the stored session and pending login.

The local session is always cleared. With --end-session the browser is
also sent to the authorization server's end-session endpoint so the
single sign-on session ends too.

Examples:
  warden auth logout                   # Sign out locally
  warden auth logout --end-session     # Also end the SSO session`,
	RunE: runAuthLogout,
}

// authRefreshCmd represents the auth refresh command
var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a token refresh",
	Long: `Exchange the stored refresh token for new credentials.

A rejected refresh ends the session; run 'warden auth login' afterwards.`,
	RunE: runAuthRefresh,
}

var logoutEndSession bool

// authPrint prints output only if the --quiet flag is not set.
func authPrint(cmd *cobra.Command, format string, args ...interface{}) {
	if !authQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)
	authCmd.AddCommand(authWhoamiCmd)

	authCmd.PersistentFlags().BoolVarP(&authQuiet, "quiet", "q", false, "Suppress non-essential output")

	authLogoutCmd.Flags().BoolVar(&logoutEndSession, "end-session", false, "Open the end-session page to sign out of single sign-on")
}

func runAuthLogout(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	var nav session.Navigator = session.NoopNavigator{}
	if logoutEndSession {
		nav = browserNavigator(cmd.OutOrStdout(), cfg.CLI.NoBrowser, "Open this URL to end the single sign-on session:")
	}

	hadSession := store.AccessToken() != ""
	mgr := session.NewManager(sessionConfig(cfg, "", ""), store, session.WithNavigator(nav))
	defer mgr.Close()

	logoutURL, err := mgr.Logout(cmd.Context(), "")
	if hadSession {
		authPrint(cmd, "%s Signed out.\n", text.FgGreen.Sprint("✓"))
	} else {
		authPrint(cmd, "No stored session.\n")
	}

	switch {
	case err != nil && logoutEndSession:
		return fmt.Errorf("local session cleared, but the end-session URL is unavailable: %w", err)
	case err == nil && !logoutEndSession && hadSession:
		authPrint(cmd, "The single sign-on session is still active. To end it, open:\n  %s\n", logoutURL)
	}
	return nil
}

func runAuthRefresh(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store.RefreshToken() == "" {
		return &AuthRequiredError{Issuer: cfg.Issuer}
	}

	mgr := session.NewManager(sessionConfig(cfg, "", ""), store)
	defer mgr.Close()

	if !mgr.Refresh(cmd.Context()) {
		return &AuthFailedError{Issuer: cfg.Issuer, Reason: errors.New("refresh was rejected and the session has ended")}
	}
	authPrint(cmd, "%s Session refreshed, expires %s.\n", text.FgGreen.Sprint("✓"), formatExpiry(store.ExpiresAt(), time.Now()))
	return nil
}

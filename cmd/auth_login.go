package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"warden/internal/authflow"
	"warden/internal/session"
)

var loginNoBrowser bool

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the browser",
	Long: `Sign in with the authorization-code flow.

A loopback server receives the redirect on
http://localhost:<cli.callback_port>/callback, which must be registered
as a redirect URI for the client.

Examples:
  warden auth login                    # Open the browser to sign in
  warden auth login --no-browser       # Print the URL instead`,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the login URL instead of opening a browser")
}

func runAuthLogin(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), authflow.CallbackTimeout)
	defer cancel()

	cb := authflow.NewCallbackServer(cfg.CLI.CallbackPort)
	redirectURI, err := cb.Start(ctx)
	if err != nil {
		return err
	}
	defer cb.Stop()

	nav := browserNavigator(cmd.OutOrStdout(), loginNoBrowser || cfg.CLI.NoBrowser, "Open this URL to sign in:")
	mgr := session.NewManager(sessionConfig(cfg, redirectURI, ""), store, session.WithNavigator(nav))
	defer mgr.Close()

	if _, err := mgr.Login(ctx, "/"); err != nil {
		return &AuthFailedError{Issuer: cfg.Issuer, Reason: err}
	}

	result, err := waitForCallback(ctx, cb)
	if err != nil {
		mgr.AbortLogin("no callback received")
		return &AuthFailedError{Issuer: cfg.Issuer, Reason: fmt.Errorf("no callback received: %w", err)}
	}
	if result.Err != nil {
		mgr.AbortLogin(result.Err.Error())
		return &AuthFailedError{Issuer: cfg.Issuer, Reason: result.Err}
	}

	if _, err := mgr.CompleteLogin(ctx, result.Code, result.State); err != nil {
		return &AuthFailedError{Issuer: cfg.Issuer, Reason: err}
	}

	st := mgr.State()
	authPrint(cmd, "%s Signed in as %s\n", text.FgGreen.Sprint("✓"), text.Bold.Sprint(st.Identity.Name()))
	return nil
}

func waitForCallback(ctx context.Context, cb *authflow.CallbackServer) (*authflow.CallbackResult, error) {
	if authQuiet {
		return cb.WaitForCallback(ctx)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Waiting for the browser to complete sign-in..."
	s.Start()
	defer s.Stop()

	return cb.WaitForCallback(ctx)
}

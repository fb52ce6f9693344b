package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"warden/internal/credstore"
	"warden/internal/identity"
	"warden/internal/session"
)

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Long: `Show whether a session is stored, when it expires and whether it can be
refreshed. An expired session with a refresh token is refreshed first.`,
	RunE: runAuthStatus,
}

// authWhoamiCmd represents the auth whoami command
var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show current identity and roles",
	Long: `Show the identity decoded from the current access token, including the
merged realm and client roles. Exits with code 2 when not signed in.`,
	RunE: runAuthWhoami,
}

// sessionSnapshot is what status and whoami print.
type sessionSnapshot struct {
	Issuer     string
	StorageDir string
	State      session.State
	ExpiresAt  time.Time
	CanRefresh bool
}

func loadSnapshot(cmd *cobra.Command) (sessionSnapshot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return sessionSnapshot{}, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return sessionSnapshot{}, err
	}

	mgr := session.NewManager(sessionConfig(cfg, "", ""), store)
	defer mgr.Close()

	return snapshot(cfg.Issuer, store.Dir(), mgr.CheckAuth(cmd.Context()), store), nil
}

func snapshot(issuer, dir string, st session.State, store credstore.Store) sessionSnapshot {
	return sessionSnapshot{
		Issuer:     issuer,
		StorageDir: dir,
		State:      st,
		ExpiresAt:  store.ExpiresAt(),
		CanRefresh: store.RefreshToken() != "",
	}
}

func runAuthStatus(cmd *cobra.Command, _ []string) error {
	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), snap, time.Now())
	return nil
}

func runAuthWhoami(cmd *cobra.Command, _ []string) error {
	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	if !snap.State.Authenticated() {
		return &AuthRequiredError{Issuer: snap.Issuer}
	}
	printIdentity(cmd.OutOrStdout(), snap.State.Identity)
	return nil
}

func printStatus(w io.Writer, snap sessionSnapshot, now time.Time) {
	fmt.Fprintf(w, "Issuer:    %s\n", snap.Issuer)
	fmt.Fprintf(w, "Storage:   %s\n", snap.StorageDir)

	if !snap.State.Authenticated() {
		fmt.Fprintf(w, "Status:    %s\n", text.FgYellow.Sprint("Not signed in"))
		return
	}

	fmt.Fprintf(w, "Status:    %s\n", text.FgGreen.Sprint("Signed in"))
	fmt.Fprintf(w, "User:      %s\n", snap.State.Identity.Name())
	fmt.Fprintf(w, "Expires:   %s\n", formatExpiry(snap.ExpiresAt, now))
	if snap.CanRefresh {
		fmt.Fprintf(w, "Refresh:   %s\n", text.FgGreen.Sprint("Available"))
	} else {
		fmt.Fprintf(w, "Refresh:   %s\n", text.FgYellow.Sprint("Not available (sign in again on expiry)"))
	}
}

func printIdentity(w io.Writer, id *identity.Identity) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("FIELD"), text.FgHiCyan.Sprint("VALUE")})
	t.AppendRow(table.Row{"Subject", id.SubjectID})
	t.AppendRow(table.Row{"Username", id.Username})
	if id.Email != "" {
		t.AppendRow(table.Row{"Email", id.Email})
	}
	if id.DisplayName != "" {
		t.AppendRow(table.Row{"Name", id.DisplayName})
	}
	t.Render()

	if len(id.Roles) == 0 {
		fmt.Fprintf(w, "%s\n", text.FgYellow.Sprint("No roles"))
		return
	}

	roles := table.NewWriter()
	roles.SetOutputMirror(w)
	roles.SetStyle(table.StyleRounded)
	roles.AppendHeader(table.Row{text.FgHiCyan.Sprint("ROLE")})
	for _, r := range id.Roles {
		roles.AppendRow(table.Row{r})
	}
	roles.Render()
}

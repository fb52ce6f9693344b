package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"warden/internal/console"
	"warden/internal/session"
	"warden/pkg/logging"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local gated console",
	Long: `Serve the console on console.host:console.port.

The console handles /login, /callback and /logout itself and gates the
configured routes by authentication and role. Register
<console.public_url>/callback as a redirect URI for the client.
Sessions started or ended by 'warden auth' in another terminal are
picked up automatically.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scfg := sessionConfig(cfg, console.CallbackURL(cfg.Console), console.PublicURL(cfg.Console)+"/")
	mgr := session.NewManager(scfg, store)
	defer mgr.Close()

	srv, err := console.New(cfg.Console, mgr)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	// Requests that arrive before the first check get the placeholder page.
	go func() {
		st := mgr.CheckAuth(ctx)
		logging.Info("Serve", "Initial session state: %s", st.Phase)
	}()
	if err := mgr.WatchStore(ctx); err != nil {
		logging.Warn("Serve", "Not watching the credential store: %v", err)
	}

	return srv.Serve(ctx)
}

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"warden/internal/config"
	"warden/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

var (
	configPath string
	logLevel   string
	debug      bool
)

// rootCmd represents the base command for the warden application.
var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Sign in to the platform console and keep the session fresh",
	Long: `warden manages your session with the platform's single sign-on server.

It runs the browser-based OAuth2/OIDC login, stores and refreshes the
resulting credentials, and can serve a local console that gates routes
by the roles in your identity.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application. It exits the
// process with a code from getExitCode on failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "warden version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var authRequired *AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authFailed *AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func initLogging(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	if debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())
	return nil
}

func defaultConfigPath() string {
	p, err := config.GetDefaultConfigPath()
	if err != nil {
		return ""
	}
	return p
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", defaultConfigPath(), "Configuration directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

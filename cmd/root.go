package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/authkit/internal/cli"
	"github.com/giantswarm/authkit/internal/config"
	"github.com/giantswarm/authkit/pkg/auth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates there is no usable session.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the login flow failed.
	ExitCodeAuthFailed = 3
)

// rootFlags holds the flags shared by all subcommands.
var rootFlags cli.CommandFlags

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "authkit",
	Short: "Log in to an OAuth2/OIDC identity platform from the command line",
	Long: `authkit signs you in to an OAuth2/OIDC identity platform using the
authorization code flow with PKCE and keeps the session fresh.

Tokens are stored in the configured storage backend (by default a
per-application directory under your user config directory) and refreshed
automatically when they are about to expire.

Configuration is read from config.yaml in the directory given by
--config-path. Run 'authkit config init' to create one.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.ValidateOutputFormat(rootFlags.OutputFormat); err != nil {
			return err
		}
		initLogging(config.LoggingConfig{})
		return nil
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code describing the
// failure, if any.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "authkit version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps an error to the exit code scripts can rely on.
func getExitCode(err error) int {
	var authRequired *cli.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authExpired *cli.AuthExpiredError
	if errors.As(err, &authExpired) {
		return ExitCodeAuthRequired
	}

	var authFailed *cli.AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	if auth.IsReauthenticationRequired(err) {
		return ExitCodeAuthRequired
	}

	return ExitCodeError
}

func init() {
	cli.RegisterCommonFlags(rootCmd, &rootFlags)

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newWhoamiCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

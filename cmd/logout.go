package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/authkit/internal/cli"
	"github.com/giantswarm/authkit/pkg/auth"
)

func newLogoutCmd() *cobra.Command {
	var opts auth.LogoutOptions
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		Long: `Clear the stored tokens.

The local session is always cleared. With --revoke the refresh token is
revoked at the platform first; with --return-to the platform's end-session
page is opened so the browser session ends too.

Examples:
  authkit logout
  authkit logout --revoke
  authkit logout --return-to https://example.com/bye`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}

			navigator := openBrowser
			if noBrowser {
				navigator = auth.NavigatorFunc(func(_ context.Context, url string) error {
					fmt.Fprintf(cmd.ErrOrStderr(), "Open this URL to end the browser session:\n\n  %s\n\n", url)
					return nil
				})
			}

			client, release, err := newClient(cfg, auth.WithNavigator(navigator))
			if err != nil {
				return err
			}
			defer release()

			subject := client.Status().Subject
			client.Logout(cmd.Context(), opts)
			auditResult("logout", cfg, subject, nil)

			if !rootFlags.Quiet {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Logged out"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Revoke, "revoke", false, "Revoke the refresh token at the platform")
	cmd.Flags().StringVar(&opts.ReturnTo, "return-to", "", "End the browser session and return to this URL")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the end-session URL instead of opening a browser")

	return cmd
}

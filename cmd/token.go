package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/giantswarm/authkit/internal/cli"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token",
		Long: `Print a valid access token to stdout, refreshing it first when it is
about to expire. Useful for scripts:

  curl -H "Authorization: Bearer $(authkit token)" https://api.example.com/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			client, release, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer release()

			token, err := client.AccessToken(cmd.Context())
			if err != nil {
				return cli.ClassifySessionError(err, cfg.Domain)
			}
			if token == "" {
				return &cli.AuthRequiredError{Domain: cfg.Domain}
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		Long: `Renew the session with the stored refresh token, even if the access
token is still valid. When the platform rejects the refresh token the
session is cleared and you have to log in again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			client, release, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer release()

			subject := client.Status().Subject
			progress := cli.StartProgress(cmd.ErrOrStderr(), "Refreshing token...", rootFlags.Quiet)
			tokens, err := client.RefreshToken(cmd.Context())
			progress.Stop("")
			auditResult("refresh", cfg, subject, err)
			if err != nil {
				return cli.ClassifySessionError(err, cfg.Domain)
			}

			if !rootFlags.Quiet {
				msg := "Token refreshed"
				if !tokens.ExpiresAt.IsZero() {
					msg += ", expires " + tokens.ExpiresAt.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(msg))
			}
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user as reported by the platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			printer, err := rootFlags.Output()
			if err != nil {
				return err
			}
			client, release, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer release()

			var info map[string]any
			if err := client.UserInfo(cmd.Context(), &info); err != nil {
				return cli.ClassifySessionError(err, cfg.Domain)
			}
			return printer.Print(cmd.OutOrStdout(), info, claimsTable(info))
		},
	}
}

func claimsTable(info map[string]any) cli.Table {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, cli.TruncateCell(fmt.Sprint(info[k]), cli.DefaultCellMaxLen)})
	}
	return cli.Table{Headers: []string{"claim", "value"}, Rows: rows}
}

package cmd

import (
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/authkit/internal/cli"
	"github.com/giantswarm/authkit/pkg/auth"
)

func newStatusCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the stored session",
		Long: `Show the state of the stored session without contacting the platform.

With --check the command exits with code 2 when there is no valid session,
which makes it usable in scripts:

  authkit status --check -q || authkit login`,
		Args: cobra.NoArgs,
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

			st := client.Status()
			if !(check && rootFlags.Quiet) {
				if err := printer.Print(cmd.OutOrStdout(), st, statusTable(cfg.Domain, st)); err != nil {
					return err
				}
			}
			if check && !st.Authenticated {
				return &cli.AuthRequiredError{Domain: cfg.Domain}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Exit with code 2 when not authenticated")

	return cmd
}

func statusTable(domain string, st auth.Status) cli.Table {
	rows := [][]string{
		{"Domain", domain},
		{"State", colorState(st)},
	}
	if st.User != "" {
		rows = append(rows, []string{"User", st.User})
	}
	if st.Issuer != "" {
		rows = append(rows, []string{"Issuer", st.Issuer})
	}
	if st.Scope != "" {
		rows = append(rows, []string{"Scopes", strings.ReplaceAll(st.Scope, " ", ",")})
	}
	if !st.ExpiresAt.IsZero() {
		rows = append(rows, []string{"Expires", st.ExpiresAt.Local().Format(time.RFC3339) + " (in " + st.ExpiresIn.String() + ")"})
	}
	if st.State == auth.StateAuthenticated.String() {
		refresh := text.FgYellow.Sprint("Not available (re-auth required on expiry)")
		if st.HasRefreshToken {
			refresh = text.FgGreen.Sprint("Available")
		}
		rows = append(rows, []string{"Refresh", refresh})
	}
	return cli.Table{Headers: []string{"field", "value"}, Rows: rows}
}

func colorState(st auth.Status) string {
	switch {
	case st.Authenticated:
		return text.FgGreen.Sprint(st.State)
	case st.State == auth.StateUnauthenticated.String():
		return text.FgYellow.Sprint(st.State)
	case st.State == auth.StateAuthenticated.String():
		return text.FgRed.Sprint(st.State + " (expired)")
	default:
		return text.FgCyan.Sprint(st.State)
	}
}

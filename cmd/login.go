package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/authkit/internal/cli"
	"github.com/giantswarm/authkit/pkg/auth"
	"github.com/giantswarm/authkit/pkg/logging"
	"github.com/giantswarm/authkit/pkg/loopback"
)

// openBrowser sends the user to the platform unless --no-browser is given.
var openBrowser auth.Navigator = auth.BrowserNavigator{}

type loginOptions struct {
	noBrowser bool
	prompt    string
	loginHint string
	scopes    []string
	timeout   time.Duration
}

func newLoginCmd() *cobra.Command {
	var o loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with your browser",
		Long: `Log in to the identity platform.

A temporary server is started on the loopback redirect URI from the
configuration and the authorization page is opened in your browser. Once
you approve the request the platform redirects back, the authorization code
is exchanged for tokens and the session is stored.

Examples:
  authkit login                          # Open the browser and wait
  authkit login --no-browser             # Print the URL instead
  authkit login --prompt login           # Force the platform to ask again
  authkit login --scope openid --scope offline_access`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, o)
		},
	}

	cmd.Flags().BoolVar(&o.noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	cmd.Flags().StringVar(&o.prompt, "prompt", "", "Value of the prompt parameter, e.g. login or consent")
	cmd.Flags().StringVar(&o.loginHint, "login-hint", "", "Pre-fill the user identifier on the login page")
	cmd.Flags().StringSliceVar(&o.scopes, "scope", nil, "Scopes to request instead of the configured ones")
	cmd.Flags().DurationVar(&o.timeout, "timeout", loopback.DefaultTimeout, "How long to wait for the browser callback")

	return cmd
}

func runLogin(cmd *cobra.Command, o loginOptions) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	// The client needs the listening port, so it is built after the server
	// starts and handed to the callback once ready.
	ready := make(chan *auth.Client, 1)
	server, err := loopback.New(cfg.RedirectURI,
		loopback.WithAppName("authkit"),
		loopback.WithLogger(logging.Logger("Loopback")),
		loopback.WithCompletion(completeLogin(ctx, ready)),
	)
	if err != nil {
		return fmt.Errorf("cannot receive the login callback: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Stop()
	// A configured port of 0 is only known once the server listens.
	cfg.RedirectURI = server.RedirectURI()

	navigator := openBrowser
	if o.noBrowser {
		navigator = auth.DiscardNavigator
	}

	client, release, err := newClient(cfg, auth.WithNavigator(navigator))
	if err != nil {
		cancel()
		return err
	}
	defer release()
	ready <- client

	errOut := cmd.ErrOrStderr()
	authURL, err := client.Login(ctx, auth.LoginOptions{
		Scopes:    o.scopes,
		Prompt:    o.prompt,
		LoginHint: o.loginHint,
	})
	if authURL == "" {
		return err
	}
	if err != nil {
		fmt.Fprintln(errOut, cli.FormatWarning(fmt.Sprintf("Could not open a browser: %v", err)))
	}
	if o.noBrowser || err != nil {
		fmt.Fprintf(errOut, "Open this URL in your browser to log in:\n\n  %s\n\n", authURL)
	}

	progress := cli.StartProgress(errOut, "Waiting for authentication in your browser...", rootFlags.Quiet)
	result, err := server.WaitForCallback(ctx)
	progress.Stop("")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no callback received within %s", o.timeout)
		}
		auditResult("login", cfg, "", err)
		return &cli.AuthFailedError{Domain: cfg.Domain, Reason: err}
	}
	if result.IsError() {
		err := result.Err
		if err == nil {
			err = &auth.ProtocolError{Code: result.Error, Message: result.ErrorDescription}
		}
		auditResult("login", cfg, "", err)
		return cli.ClassifyLoginError(err, cfg.Domain)
	}

	status := client.Status()
	auditResult("login", cfg, status.Subject, nil)

	if !rootFlags.Quiet {
		who := status.User
		if who == "" {
			who = cfg.Domain
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Logged in as "+who))
	}
	return nil
}

// completeLogin finishes the exchange inside the callback request with the
// client received from ready. A callback that arrives before the client is
// ready waits for it.
func completeLogin(ctx context.Context, ready <-chan *auth.Client) loopback.CompleteFunc {
	return func(reqCtx context.Context, r *http.Request) (string, error) {
		var client *auth.Client
		select {
		case client = <-ready:
		case <-ctx.Done():
			return "", ctx.Err()
		case <-reqCtx.Done():
			return "", reqCtx.Err()
		}
		res, err := client.HandleCallbackRequest(reqCtx, r)
		if err != nil {
			return "", err
		}
		if res.Claims == nil {
			return "", nil
		}
		return res.Claims.DisplayName(), nil
	}
}

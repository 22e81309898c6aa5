package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/authkit/internal/cli"
	"github.com/giantswarm/authkit/internal/config"
	"github.com/giantswarm/authkit/internal/testing/mock"
	"github.com/giantswarm/authkit/pkg/auth"
	"github.com/giantswarm/authkit/pkg/storage"
)

// resetFlags restores every flag of cmd and its children to its default so
// global command state does not leak between tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if strings.HasSuffix(f.Value.Type(), "Slice") {
			return
		}
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCommand executes the root command with args against the configuration
// in configDir and returns stdout and the error.
func runCommand(t *testing.T, configDir string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config-path", configDir}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// isolateUserDirs keeps persistent storage inside the test's temp dir.
func isolateUserDirs(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
}

func writeTestConfig(t *testing.T, server *mock.OAuthServer) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Domain = server.URL()
	cfg.ClientID = server.ClientID()
	cfg.RedirectURI = "http://127.0.0.1:0/callback"
	_, err := config.SaveConfig(dir, cfg)
	require.NoError(t, err)
	return dir
}

func startPlatform(t *testing.T) *mock.OAuthServer {
	t.Helper()
	server := mock.NewOAuthServer(mock.OAuthServerConfig{AutoApprove: true})
	_, err := server.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })
	return server
}

// followRedirects plays the browser: it requests the authorization URL and
// follows the platform's redirect to the loopback server.
func followRedirects(t *testing.T) {
	t.Helper()
	orig := openBrowser
	openBrowser = auth.NavigatorFunc(func(ctx context.Context, url string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Body.Close()
	})
	t.Cleanup(func() { openBrowser = orig })
}

func TestCommands_SessionLifecycle(t *testing.T) {
	isolateUserDirs(t)
	server := startPlatform(t)
	dir := writeTestConfig(t, server)
	followRedirects(t)

	out, err := runCommand(t, dir, "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as "+mock.TestEmail)

	out, err = runCommand(t, dir, "status", "-o", "json")
	require.NoError(t, err)
	var st auth.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Authenticated)
	assert.Equal(t, mock.TestSubject, st.Subject)
	assert.True(t, st.HasRefreshToken)

	out, err = runCommand(t, dir, "token")
	require.NoError(t, err)
	assert.True(t, server.ValidateToken(strings.TrimSpace(out)))

	_, err = runCommand(t, dir, "refresh", "-q")
	require.NoError(t, err)
	assert.Equal(t, 1, server.TokenRequests("refresh_token"))

	out, err = runCommand(t, dir, "whoami", "-o", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, mock.TestSubject, info["sub"])

	out, err = runCommand(t, dir, "logout", "--revoke")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")
	assert.Len(t, server.RevokedTokens(), 1)

	_, err = runCommand(t, dir, "status", "--check", "-q")
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))

	_, err = runCommand(t, dir, "token")
	var required *cli.AuthRequiredError
	assert.ErrorAs(t, err, &required)
}

func TestCommands_RejectedRefresh(t *testing.T) {
	isolateUserDirs(t)
	server := startPlatform(t)
	dir := writeTestConfig(t, server)
	followRedirects(t)

	_, err := runCommand(t, dir, "login", "-q")
	require.NoError(t, err)

	server.SetSimulateErrors(&mock.OAuthErrorSimulation{RejectRefresh: true})

	_, err = runCommand(t, dir, "refresh", "-q")
	var expired *cli.AuthExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))

	// The rejected session was cleared.
	out, err := runCommand(t, dir, "status", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"authenticated": false`)
}

func TestCommands_LoginExchangeFails(t *testing.T) {
	isolateUserDirs(t)
	server := startPlatform(t)
	dir := writeTestConfig(t, server)
	followRedirects(t)

	server.SetSimulateErrors(&mock.OAuthErrorSimulation{InvalidGrant: true})

	_, err := runCommand(t, dir, "login", "-q")
	var failed *cli.AuthFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(err))
}

func TestCommands_RequireConfiguration(t *testing.T) {
	isolateUserDirs(t)
	dir := t.TempDir()

	for _, args := range [][]string{{"login"}, {"status"}, {"token"}, {"logout"}} {
		_, err := runCommand(t, dir, args...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "authkit config init")
		assert.Equal(t, ExitCodeError, getExitCode(err))
	}
}

func TestCommands_InvalidOutputFormat(t *testing.T) {
	_, err := runCommand(t, t.TempDir(), "status", "-o", "xml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestConfigCommands(t *testing.T) {
	isolateUserDirs(t)
	dir := t.TempDir()

	_, err := runCommand(t, dir, "config", "init", "--client-id", "cli")
	assert.ErrorContains(t, err, "domain")

	out, err := runCommand(t, dir, "config", "init",
		"--domain", "https://id.example.com",
		"--client-id", "cli",
		"--storage", "keyring")
	require.NoError(t, err)
	assert.Contains(t, out, "config.yaml")

	_, err = runCommand(t, dir, "config", "init", "--domain", "https://id.example.com", "--client-id", "cli")
	assert.ErrorContains(t, err, "already exists")

	out, err = runCommand(t, dir, "config", "show", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "domain: https://id.example.com")
	assert.Contains(t, out, "storage: keyring")

	out, err = runCommand(t, dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "clientId")
}

func TestCompleteLogin_WaitsForClient(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8085/callback?code=abc&state=xyz", nil)

	t.Run("login abandoned before the client exists", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := completeLogin(ctx, make(chan *auth.Client))(context.Background(), req)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("callback before the client exists", func(t *testing.T) {
		ready := make(chan *auth.Client, 1)
		done := make(chan error, 1)
		go func() {
			_, err := completeLogin(context.Background(), ready)(context.Background(), req)
			done <- err
		}()

		client, err := auth.New(auth.Config{
			Domain:      "https://id.example.com",
			ClientID:    "cli",
			RedirectURI: "http://127.0.0.1:8085/callback",
			Storage:     storage.KindMemory,
		})
		require.NoError(t, err)
		defer client.Destroy()
		ready <- client

		select {
		case err := <-done:
			assert.ErrorIs(t, err, &auth.ProtocolError{Code: auth.CodeMissingState})
		case <-time.After(3 * time.Second):
			t.Fatal("callback did not complete")
		}
	})
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"auth required", &cli.AuthRequiredError{}, ExitCodeAuthRequired},
		{"auth expired", &cli.AuthExpiredError{}, ExitCodeAuthRequired},
		{"auth failed", &cli.AuthFailedError{}, ExitCodeAuthFailed},
		{"unclassified refresh failure", &auth.RefreshFailedError{Err: auth.ErrNoRefreshToken}, ExitCodeAuthRequired},
		{"other", io.EOF, ExitCodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, getExitCode(tt.err))
		})
	}
}

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/giantswarm/authkit/internal/config"
	"github.com/giantswarm/authkit/pkg/auth"
	"github.com/giantswarm/authkit/pkg/logging"
	"github.com/giantswarm/authkit/pkg/storage"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo web application that signs users in",
		Long: `Run a small server-rendered web application that signs its visitors in
through the identity platform.

Each visitor's session lives in cookies of their browser; the server keeps
no state. The redirect URI registered for the client must be
http://<addr>/callback, or serve.redirectUri from the configuration.

Routes:
  GET  /               home page with the session state
  GET  /login          start the login
  GET  /callback       redirect target of the platform
  POST /logout         revoke the tokens and end the session
  GET  /api/session    session state as JSON
  GET  /api/userinfo   user info from the platform as JSON`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Serve.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from serve.addr)")

	return cmd
}

func runServe(ctx context.Context, cfg config.AuthkitConfig) error {
	app := newWebApp(cfg)

	listener, err := net.Listen("tcp", app.cfg.Serve.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.cfg.Serve.Addr, err)
	}

	server := &http.Server{
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	app.logger.Info("Demo application listening",
		"addr", listener.Addr().String(),
		"redirect_uri", app.cfg.RedirectURI)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.logger.Info("Shutting down demo application")
	return server.Shutdown(shutdownCtx)
}

// webApp signs visitors in with one short-lived client per request, backed
// by the visitor's cookies.
type webApp struct {
	cfg    config.AuthkitConfig
	logger *slog.Logger
}

func newWebApp(cfg config.AuthkitConfig) *webApp {
	cfg.Storage = string(storage.KindCookie)
	cfg.RedirectURI = cfg.Serve.RedirectURI
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = "http://" + cfg.Serve.Addr + "/callback"
	}
	return &webApp{
		cfg:    cfg,
		logger: logging.Logger("Serve"),
	}
}

func (a *webApp) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.logRequests)

	r.HandleFunc("/", a.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/login", a.handleLogin).Methods(http.MethodGet)
	r.HandleFunc("/callback", a.handleCallback).Methods(http.MethodGet)
	r.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", a.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/userinfo", a.handleUserInfo).Methods(http.MethodGet)

	return r
}

func (a *webApp) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// client returns a client whose storage is the visitor's cookies and whose
// navigator redirects the current response.
func (a *webApp) client(w http.ResponseWriter, r *http.Request) (*auth.Client, error) {
	opts, cleanup := clientOptions(a.cfg)
	defer cleanup()

	store := storage.NewCookieStore(&storage.CookieCarrier{Request: r, Writer: w})
	opts = append(opts,
		auth.WithStorage(store),
		auth.WithNavigator(auth.RedirectNavigator(w, r)),
	)
	return auth.New(authConfig(a.cfg), opts...)
}

func (a *webApp) handleHome(w http.ResponseWriter, r *http.Request) {
	client, err := a.client(w, r)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	defer client.Destroy()

	a.render(w, http.StatusOK, map[string]any{
		"Domain": a.cfg.Domain,
		"Status": client.Status(),
	})
}

func (a *webApp) handleLogin(w http.ResponseWriter, r *http.Request) {
	client, err := a.client(w, r)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	defer client.Destroy()

	opts := auth.LoginOptions{
		Prompt:    r.URL.Query().Get("prompt"),
		LoginHint: r.URL.Query().Get("login_hint"),
	}
	if _, err := client.Login(r.Context(), opts); err != nil {
		a.fail(w, http.StatusInternalServerError, err)
	}
}

func (a *webApp) handleCallback(w http.ResponseWriter, r *http.Request) {
	client, err := a.client(w, r)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	defer client.Destroy()

	res, err := client.HandleCallbackRequest(r.Context(), r)
	if err != nil {
		auditResult("login", a.cfg, "", err)
		a.fail(w, http.StatusBadRequest, err)
		return
	}

	var subject string
	if res.Claims != nil {
		subject = res.Claims.Subject
	}
	auditResult("login", a.cfg, subject, nil)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *webApp) handleLogout(w http.ResponseWriter, r *http.Request) {
	client, err := a.client(w, r)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	defer client.Destroy()

	subject := client.Status().Subject
	client.Logout(r.Context(), auth.LogoutOptions{
		Revoke:   true,
		ReturnTo: a.baseURL(r) + "/",
	})
	auditResult("logout", a.cfg, subject, nil)
}

func (a *webApp) handleSession(w http.ResponseWriter, r *http.Request) {
	client, err := a.client(w, r)
	if err != nil {
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	defer client.Destroy()

	a.writeJSON(w, http.StatusOK, client.Status())
}

func (a *webApp) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	client, err := a.client(w, r)
	if err != nil {
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	defer client.Destroy()

	var info map[string]any
	switch err := client.UserInfo(r.Context(), &info); {
	case err == nil:
		a.writeJSON(w, http.StatusOK, info)
	case errors.Is(err, auth.ErrNotAuthenticated), auth.IsReauthenticationRequired(err):
		a.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not_authenticated"})
	default:
		a.logger.Warn("User info request failed", "error", err)
		a.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func (a *webApp) baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (a *webApp) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to write response", "error", err)
	}
}

func (a *webApp) fail(w http.ResponseWriter, status int, err error) {
	a.logger.Warn("Request failed", "status", status, "error", err)
	a.render(w, status, map[string]any{
		"Domain": a.cfg.Domain,
		"Error":  err.Error(),
	})
}

func (a *webApp) render(w http.ResponseWriter, status int, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := homePage.Execute(w, data); err != nil {
		a.logger.Warn("Failed to render page", "error", err)
	}
}

var homePage = template.Must(template.New("home").Funcs(sprig.FuncMap()).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>authkit demo</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 3rem auto; color: #222; }
dt { font-weight: 600; margin-top: .5rem; }
.error { color: #b00020; }
</style>
</head>
<body>
<h1>authkit demo</h1>
<p>Identity platform: <code>{{ .Domain }}</code></p>
{{- with .Error }}
<p class="error">{{ . }}</p>
<p><a href="/">Back</a></p>
{{- else }}
{{- if .Status.Authenticated }}
<p>Signed in as <strong>{{ .Status.User | default .Status.Subject | default "unknown user" }}</strong>.</p>
<dl>
<dt>State</dt><dd>{{ .Status.State }}</dd>
<dt>Scopes</dt><dd>{{ .Status.Scope | default "none" }}</dd>
{{- if not .Status.ExpiresAt.IsZero }}
<dt>Expires</dt><dd>{{ .Status.ExpiresAt | date "2006-01-02 15:04:05 MST" }}</dd>
{{- end }}
</dl>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
{{- else }}
<p>You are not signed in ({{ .Status.State }}).</p>
<p><a href="/login">Sign in</a></p>
{{- end }}
{{- end }}
</body>
</html>
`))

package loopback

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// DefaultTimeout is how long a CLI login should wait for the callback.
const DefaultTimeout = 10 * time.Minute

// shutdownDelay lets the browser receive the page before the server stops.
const shutdownDelay = time.Second

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("pages").Funcs(sprig.FuncMap()).ParseFS(templateFS, "templates/*.html"))

// ErrNotLoopback is returned for redirect URIs the server cannot listen on.
var ErrNotLoopback = errors.New("redirect URI must be an http URL on a loopback host")

// CompleteFunc finishes the login for the callback request, typically by
// calling auth.Client.HandleCallbackRequest. It returns a display name for
// the success page, which may be empty.
type CompleteFunc func(ctx context.Context, r *http.Request) (string, error)

// Result is what the platform sent back.
type Result struct {
	// URL is the full callback URL, suitable for auth.Client.HandleCallback.
	URL string

	Code             string
	State            string
	Error            string
	ErrorDescription string

	// Err is the error returned by the CompleteFunc, if any.
	Err error
}

// IsError reports whether the platform or the completion reported a failure.
func (r *Result) IsError() bool {
	return r.Error != "" || r.Err != nil
}

// Server is a temporary local HTTP server that receives a single OAuth
// callback and then shuts down.
type Server struct {
	host     string
	port     int
	path     string
	appName  string
	complete CompleteFunc
	logger   *slog.Logger

	server   *http.Server
	listener net.Listener
	resultCh chan *Result
	errorCh  chan error
	once     sync.Once
	stopOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithCompletion sets the function that completes the login before the
// result page is rendered.
func WithCompletion(fn CompleteFunc) Option {
	return func(s *Server) {
		s.complete = fn
	}
}

// WithAppName sets the application name shown on the result pages.
func WithAppName(name string) Option {
	return func(s *Server) {
		s.appName = name
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server that will listen on the host, port and path of
// redirectURI. Port 0 picks a free port; RedirectURI then reports it after
// Start.
func New(redirectURI string, opts ...Option) (*Server, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" || !isLoopback(u.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrNotLoopback, redirectURI)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect URI port %q: %w", p, err)
		}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	s := &Server{
		host:     u.Hostname(),
		port:     port,
		path:     path,
		logger:   slog.Default(),
		resultCh: make(chan *Result, 1),
		errorCh:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Start begins listening. The server stops when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	bindHost := s.host
	if bindHost == "localhost" {
		bindHost = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindHost, strconv.Itoa(s.port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Debug("Callback server listening", "redirect_uri", s.RedirectURI())
	return nil
}

// WaitForCallback blocks until the callback arrives, the server fails or
// ctx is done.
func (s *Server) WaitForCallback(ctx context.Context) (*Result, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.path {
		http.NotFound(w, r)
		return
	}

	var handled bool
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *Server) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	callbackURL := *r.URL
	callbackURL.Scheme = "http"
	callbackURL.Host = r.Host

	result := &Result{
		URL:              callbackURL.String(),
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	var user string
	if s.complete != nil {
		user, result.Err = s.complete(r.Context(), r)
	}

	data := map[string]any{
		"AppName": s.appName,
		"Time":    time.Now(),
		"User":    user,
	}
	name := "success"
	status := http.StatusOK
	switch {
	case result.Error != "":
		name, status = "error", http.StatusBadRequest
		data["Error"] = result.Error
		data["Description"] = result.ErrorDescription
	case result.Err != nil:
		name, status = "error", http.StatusBadRequest
		data["Error"] = "login_failed"
		data["Description"] = result.Err.Error()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Warn("Failed to render callback page", "error", err)
	}

	select {
	case s.resultCh <- result:
	default:
	}

	go func() {
		time.Sleep(shutdownDelay)
		s.Stop()
	}()
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

// RedirectURI returns the URI to register as Config.RedirectURI.
func (s *Server) RedirectURI() string {
	return (&url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(s.host, strconv.Itoa(s.port)),
		Path:   s.path,
	}).String()
}

// Port returns the port the server listens on, once started.
func (s *Server) Port() int {
	return s.port
}

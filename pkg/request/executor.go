// Package request performs JSON and form requests against the identity
// platform. Bearer tokens are pulled from a TokenAccessor right before each
// request; the executor never caches them.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// DefaultTimeout bounds requests made with the default HTTP client.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response is read.
const maxBodySize = 10 << 20

// Doer is the subset of *http.Client the executor needs. It is the seam for
// substituting the network call in tests or for custom transports.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// TokenAccessor returns the current access token. An empty token means the
// request is sent without an Authorization header.
type TokenAccessor func(ctx context.Context) (string, error)

// Executor sends requests relative to a base URL.
type Executor struct {
	baseURL   *url.URL
	client    Doer
	token     TokenAccessor
	logger    *slog.Logger
	userAgent string
	headers   http.Header
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client Doer) Option {
	return func(e *Executor) {
		if client != nil {
			e.client = client
		}
	}
}

// WithTokenAccessor sets the source of bearer tokens.
func WithTokenAccessor(fn TokenAccessor) Option {
	return func(e *Executor) {
		e.token = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(e *Executor) {
		e.userAgent = ua
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(e *Executor) {
		e.headers.Add(key, value)
	}
}

// DefaultHTTPClient returns a pooled client with DefaultTimeout.
func DefaultHTTPClient() *http.Client {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = DefaultTimeout
	return c
}

// New creates an executor for baseURL.
func New(baseURL string, opts ...Option) (*Executor, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}

	e := &Executor{
		baseURL: u,
		client:  DefaultHTTPClient(),
		logger:  slog.Default(),
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// BaseURL returns the base URL requests are resolved against.
func (e *Executor) BaseURL() string {
	return e.baseURL.String()
}

// URL resolves path against the base URL.
func (e *Executor) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return e.baseURL.String() + "/" + strings.TrimPrefix(path, "/")
}

// Do sends a JSON request. body, when non-nil, is encoded as the request
// body. A successful response is decoded into out when out is non-nil; an
// empty success body decodes as {}.
func (e *Executor) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.URL(path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token := ""
	if e.token != nil {
		token, err = e.token(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain access token: %w", err)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return e.send(req, out)
}

// Get sends a GET request.
func (e *Executor) Get(ctx context.Context, path string, out any) error {
	return e.Do(ctx, http.MethodGet, path, nil, out)
}

// Post sends a POST request with a JSON body.
func (e *Executor) Post(ctx context.Context, path string, body, out any) error {
	return e.Do(ctx, http.MethodPost, path, body, out)
}

// Put sends a PUT request with a JSON body.
func (e *Executor) Put(ctx context.Context, path string, body, out any) error {
	return e.Do(ctx, http.MethodPut, path, body, out)
}

// Patch sends a PATCH request with a JSON body.
func (e *Executor) Patch(ctx context.Context, path string, body, out any) error {
	return e.Do(ctx, http.MethodPatch, path, body, out)
}

// Delete sends a DELETE request.
func (e *Executor) Delete(ctx context.Context, path string, out any) error {
	return e.Do(ctx, http.MethodDelete, path, nil, out)
}

// PostForm sends a form-encoded POST. It never carries a bearer token; it is
// used for the token and revocation endpoints, which authenticate the client
// through the form itself.
func (e *Executor) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL(path), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.send(req, out)
}

func (e *Executor) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	for k, vs := range e.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return &NetworkError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &NetworkError{Method: req.Method, URL: req.URL.Redacted(), Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.logger.Debug("Request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode)
		return newRequestFailedError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

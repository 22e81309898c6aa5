package mock

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Test identity returned in ID tokens and from the userinfo endpoint.
const (
	TestSubject = "test-user-123"
	TestEmail   = "test@example.com"
	TestName    = "Test User"
)

// OAuthServerConfig configures the mock identity platform.
type OAuthServerConfig struct {
	// ClientID is the expected OAuth client ID. Defaults to "test-client".
	ClientID string

	// TokenLifetime is reported as expires_in. Defaults to one hour.
	TokenLifetime time.Duration

	// OmitRefreshTokenOnRefresh makes refresh responses carry no
	// refresh_token; the presented refresh token then stays valid.
	OmitRefreshTokenOnRefresh bool

	// AutoApprove makes /oauth/authorize redirect straight back to the
	// redirect_uri with a code, simulating a user who consents.
	AutoApprove bool

	// Clock is used for token expiry (defaults to RealClock).
	Clock Clock

	// SimulateErrors injects failures.
	SimulateErrors *OAuthErrorSimulation

	// Debug enables logging to stderr.
	Debug bool
}

// OAuthErrorSimulation allows simulating error conditions.
type OAuthErrorSimulation struct {
	// TokenEndpointError makes /oauth/token fail with server_error and this description.
	TokenEndpointError string

	// InvalidGrant rejects every token request with invalid_grant.
	InvalidGrant bool

	// RejectRefresh rejects only refresh_token grants with invalid_grant.
	RejectRefresh bool

	// TokenEndpointDelay delays every token response.
	TokenEndpointDelay time.Duration

	// RevokeEndpointError makes /oauth/revoke fail with 500.
	RevokeEndpointError bool
}

// OAuthServer is a mock of the identity platform's OAuth endpoints:
// authorize, token (authorization_code and refresh_token grants), revoke,
// userinfo and logout. Refresh tokens are single use.
type OAuthServer struct {
	config     OAuthServerConfig
	httpServer *http.Server
	port       int
	running    bool
	mu         sync.RWMutex

	authCodes    map[string]*authCodeEntry
	issuedTokens map[string]*issuedToken // access_token -> token

	tokenRequests map[string]int // grant_type -> count
	revoked       []string
	userInfoCalls int

	clock Clock
}

type authCodeEntry struct {
	ClientID        string
	RedirectURI     string
	Scope           string
	CodeChallenge   string
	ChallengeMethod string
	CreatedAt       time.Time
}

type issuedToken struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ClientID     string
	ExpiresAt    time.Time
}

// TokenResponse is the OAuth token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// NewOAuthServer creates a mock identity platform.
func NewOAuthServer(config OAuthServerConfig) *OAuthServer {
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}
	if config.ClientID == "" {
		config.ClientID = "test-client"
	}
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}

	return &OAuthServer{
		config:        config,
		authCodes:     make(map[string]*authCodeEntry),
		issuedTokens:  make(map[string]*issuedToken),
		tokenRequests: make(map[string]int),
		clock:         clock,
	}
}

// Start starts the server on a random loopback port.
func (s *OAuthServer) Start(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.port, nil
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to listen: %w", err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("/oauth/token", s.handleToken)
	mux.HandleFunc("/oauth/revoke", s.handleRevoke)
	mux.HandleFunc("/oauth/userinfo", s.handleUserInfo)
	mux.HandleFunc("/oauth/logout", s.handleLogout)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(io.Discard, "", 0),
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.debugf("mock OAuth server error: %v", err)
		}
	}()

	s.running = true
	s.debugf("mock OAuth server started on port %d", s.port)
	return s.port, nil
}

// Stop stops the server.
func (s *OAuthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.running = false
	return err
}

// URL returns the base URL of the server, the "domain" of the platform.
func (s *OAuthServer) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

// ClientID returns the accepted client ID.
func (s *OAuthServer) ClientID() string {
	return s.config.ClientID
}

// SetSimulateErrors replaces the error simulation at runtime.
func (s *OAuthServer) SetSimulateErrors(sim *OAuthErrorSimulation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.SimulateErrors = sim
}

func (s *OAuthServer) simulation() OAuthErrorSimulation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config.SimulateErrors == nil {
		return OAuthErrorSimulation{}
	}
	return *s.config.SimulateErrors
}

// TokenRequests returns how many token requests with grantType were received.
func (s *OAuthServer) TokenRequests(grantType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenRequests[grantType]
}

// RevokedTokens returns the tokens presented to the revocation endpoint.
func (s *OAuthServer) RevokedTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.revoked...)
}

// UserInfoCalls returns how many userinfo requests were received.
func (s *OAuthServer) UserInfoCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userInfoCalls
}

// Approve simulates a user consenting to the authorization request in
// authURL and returns the callback URL the platform would redirect to.
func (s *OAuthServer) Approve(authURL string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", fmt.Errorf("invalid authorization URL: %w", err)
	}
	q := u.Query()
	if q.Get("response_type") != "code" {
		return "", fmt.Errorf("unsupported response_type %q", q.Get("response_type"))
	}
	if q.Get("client_id") != s.config.ClientID {
		return "", fmt.Errorf("unknown client_id %q", q.Get("client_id"))
	}

	code := s.GenerateAuthCode(q.Get("client_id"), q.Get("redirect_uri"), q.Get("scope"),
		q.Get("code_challenge"), q.Get("code_challenge_method"))
	return callbackURL(q.Get("redirect_uri"), code, q.Get("state"))
}

// GenerateAuthCode registers an authorization code as if a user completed
// the authorize step.
func (s *OAuthServer) GenerateAuthCode(clientID, redirectURI, scope, codeChallenge, codeChallengeMethod string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := generateOpaqueToken()
	s.authCodes[code] = &authCodeEntry{
		ClientID:        clientID,
		RedirectURI:     redirectURI,
		Scope:           scope,
		CodeChallenge:   codeChallenge,
		ChallengeMethod: codeChallengeMethod,
		CreatedAt:       s.clock.Now(),
	}
	return code
}

// IssueTokens creates a token set directly, without an authorization flow.
func (s *OAuthServer) IssueTokens(scope string) *TokenResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(s.config.ClientID, scope, generateOpaqueToken())
}

// ValidateToken reports whether accessToken was issued and has not expired.
func (s *OAuthServer) ValidateToken(accessToken string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.issuedTokens[accessToken]
	if !ok {
		return false
	}
	return s.clock.Now().Before(token.ExpiresAt)
}

func (s *OAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("response_type") != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != s.config.ClientID {
		http.Error(w, "invalid_client", http.StatusBadRequest)
		return
	}
	if q.Get("code_challenge") == "" {
		http.Error(w, "PKCE required: code_challenge missing", http.StatusBadRequest)
		return
	}

	code := s.GenerateAuthCode(q.Get("client_id"), q.Get("redirect_uri"), q.Get("scope"),
		q.Get("code_challenge"), q.Get("code_challenge_method"))

	target, err := callbackURL(q.Get("redirect_uri"), code, q.Get("state"))
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	if s.config.AutoApprove {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Mock Identity Platform</title></head>
<body>
<h1>Authorize %s</h1>
<p>Requested scopes: <code>%s</code></p>
<a id="approve" href="%s">Approve</a>
</body>
</html>`, q.Get("client_id"), q.Get("scope"), target)
}

func (s *OAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	grantType := r.PostForm.Get("grant_type")
	s.mu.Lock()
	s.tokenRequests[grantType]++
	s.mu.Unlock()

	sim := s.simulation()
	if sim.TokenEndpointDelay > 0 {
		time.Sleep(sim.TokenEndpointDelay)
	}
	if sim.TokenEndpointError != "" {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", sim.TokenEndpointError)
		return
	}
	if sim.InvalidGrant || (sim.RejectRefresh && grantType == "refresh_token") {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "grant rejected")
		return
	}

	if r.PostForm.Get("client_id") != s.config.ClientID {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	switch grantType {
	case "authorization_code":
		s.handleAuthCodeExchange(w, r)
	case "refresh_token":
		s.handleRefreshToken(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type",
			fmt.Sprintf("grant_type %s not supported", grantType))
	}
}

func (s *OAuthServer) handleAuthCodeExchange(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")
	verifier := r.PostForm.Get("code_verifier")

	s.mu.Lock()
	entry, ok := s.authCodes[code]
	delete(s.authCodes, code)
	s.mu.Unlock()

	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code not found or already used")
		return
	}
	if entry.RedirectURI != r.PostForm.Get("redirect_uri") {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if verifier == "" || !verifyPKCE(entry.CodeChallenge, entry.ChallengeMethod, verifier) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier verification failed")
		return
	}

	s.mu.Lock()
	resp := s.issueLocked(entry.ClientID, entry.Scope, generateOpaqueToken())
	s.mu.Unlock()

	s.debugf("issued tokens for client %s", entry.ClientID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *OAuthServer) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.PostForm.Get("refresh_token")

	s.mu.Lock()
	defer s.mu.Unlock()

	var original *issuedToken
	for _, token := range s.issuedTokens {
		if token.RefreshToken != "" && token.RefreshToken == refreshToken {
			original = token
			break
		}
	}
	if original == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token not found")
		return
	}

	// Refresh tokens are single use unless the response omits a new one.
	delete(s.issuedTokens, original.AccessToken)

	next := generateOpaqueToken()
	if s.config.OmitRefreshTokenOnRefresh {
		next = original.RefreshToken
	}
	resp := s.issueLocked(original.ClientID, original.Scope, next)
	if s.config.OmitRefreshTokenOnRefresh {
		resp.RefreshToken = ""
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *OAuthServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	token := r.PostForm.Get("token")
	s.mu.Lock()
	s.revoked = append(s.revoked, token)
	s.mu.Unlock()

	if s.simulation().RevokeEndpointError {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "revocation unavailable")
		return
	}

	s.mu.Lock()
	for access, issued := range s.issuedTokens {
		if access == token || issued.RefreshToken == token {
			delete(s.issuedTokens, access)
		}
	}
	s.mu.Unlock()

	// RFC 7009: the endpoint answers 200 even for unknown tokens.
	w.WriteHeader(http.StatusOK)
}

func (s *OAuthServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.userInfoCalls++
	s.mu.Unlock()

	token := ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" || !s.ValidateToken(token) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_token", "access token invalid or expired")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sub":   TestSubject,
		"name":  TestName,
		"email": TestEmail,
	})
}

func (s *OAuthServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if target := r.URL.Query().Get("post_logout_redirect_uri"); target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "logged out")
}

// issueLocked creates a token set. REQUIRES: s.mu held for writing.
func (s *OAuthServer) issueLocked(clientID, scope, refreshToken string) *TokenResponse {
	accessToken := generateOpaqueToken()
	s.issuedTokens[accessToken] = &issuedToken{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Scope:        scope,
		ClientID:     clientID,
		ExpiresAt:    s.clock.Now().Add(s.config.TokenLifetime),
	}

	resp := &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.TokenLifetime.Seconds()),
		Scope:        scope,
	}
	if strings.Contains(scope, "openid") {
		resp.IDToken = s.generateIDToken(clientID)
	}
	return resp
}

// generateIDToken returns an unsigned (alg=none) ID token.
//
// SECURITY WARNING: unsigned tokens are for tests only. Real relying parties
// must verify ID token signatures against the platform's keys.
func (s *OAuthServer) generateIDToken(clientID string) string {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"iss":   s.issuerLocked(),
		"sub":   TestSubject,
		"aud":   clientID,
		"exp":   now.Add(s.config.TokenLifetime).Unix(),
		"iat":   now.Unix(),
		"email": TestEmail,
		"name":  TestName,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		panic(fmt.Errorf("failed to build ID token: %w", err))
	}
	return signed
}

func (s *OAuthServer) issuerLocked() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

func (s *OAuthServer) debugf(format string, args ...any) {
	if s.config.Debug {
		fmt.Fprintf(os.Stderr, "mock-oauth: "+format+"\n", args...)
	}
}

func callbackURL(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		return "", fmt.Errorf("invalid redirect_uri %q", redirectURI)
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func verifyPKCE(challenge, method, verifier string) bool {
	switch method {
	case "S256":
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]) == challenge
	case "plain", "":
		return verifier == challenge
	default:
		return false
	}
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func generateOpaqueToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("crypto/rand failed: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// ExtractBearerToken returns the token of a "Bearer" Authorization header.
func ExtractBearerToken(authHeader string) string {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/authkit/internal/testing/mock"
	"github.com/giantswarm/authkit/pkg/credentials"
	"github.com/giantswarm/authkit/pkg/events"
	"github.com/giantswarm/authkit/pkg/request"
	"github.com/giantswarm/authkit/pkg/storage"
)

const testRedirectURI = "http://127.0.0.1:8085/callback"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startMockServer(t *testing.T, cfg mock.OAuthServerConfig) *mock.OAuthServer {
	t.Helper()
	server := mock.NewOAuthServer(cfg)
	_, err := server.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })
	return server
}

func newTestClient(t *testing.T, domain, clientID string, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithNavigator(DiscardNavigator),
		WithLogger(discardLogger()),
	}
	c, err := New(Config{
		Domain:      domain,
		ClientID:    clientID,
		RedirectURI: testRedirectURI,
		Storage:     storage.KindMemory,
	}, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Destroy)
	return c
}

// seedTokens stores a live token set issued by server, expiring at expiresAt.
func seedTokens(c *Client, server *mock.OAuthServer, expiresAt time.Time) *TokenSet {
	issued := server.IssueTokens("openid profile")
	tokens := &TokenSet{
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RefreshToken,
		IDToken:      issued.IDToken,
		TokenType:    "Bearer",
		Scope:        issued.Scope,
		ExpiresAt:    expiresAt,
	}
	c.store.SetTokens(tokens)
	return tokens
}

func login(t *testing.T, c *Client, server *mock.OAuthServer) *CallbackResult {
	t.Helper()
	authURL, err := c.Login(context.Background(), LoginOptions{})
	require.NoError(t, err)
	callback, err := server.Approve(authURL)
	require.NoError(t, err)
	result, err := c.HandleCallback(context.Background(), callback)
	require.NoError(t, err)
	return result
}

func TestBuildAuthURL(t *testing.T) {
	c, err := New(Config{
		Domain:      "https://id.example.com",
		ClientID:    "c1",
		RedirectURI: "https://app/cb",
		Scopes:      []string{"openid", "profile"},
		Storage:     storage.KindMemory,
	}, WithLogger(discardLogger()))
	require.NoError(t, err)
	defer c.Destroy()

	authURL, err := c.BuildAuthURL(LoginOptions{})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(authURL, "https://id.example.com/oauth/authorize?"))
	assert.Contains(t, authURL, "client_id=c1")
	assert.Contains(t, authURL, "redirect_uri=https%3A%2F%2Fapp%2Fcb")
	assert.Contains(t, authURL, "response_type=code")
	assert.Contains(t, authURL, "code_challenge_method=S256")
	assert.Contains(t, authURL, "scope=openid+profile")

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state, ok := c.store.State()
	require.True(t, ok)
	assert.Equal(t, state, u.Query().Get("state"))
	_, ok = c.store.PKCEVerifier()
	assert.True(t, ok)
	assert.NotEmpty(t, u.Query().Get("code_challenge"))
	assert.Equal(t, StateAuthenticating, c.State())
}

func TestBuildAuthURL_Options(t *testing.T) {
	c := newTestClient(t, "https://id.example.com", "c1")

	authURL, err := c.BuildAuthURL(LoginOptions{
		Scopes:      []string{"openid", "offline_access"},
		Prompt:      "login",
		LoginHint:   "jane@example.com",
		IDTokenHint: "id-token",
		ExtraParams: map[string]string{
			"audience":      "api",
			"client_id":     "evil",
			"response_type": "token",
		},
	})
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "c1", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "api", q.Get("audience"))
	assert.Equal(t, "login", q.Get("prompt"))
	assert.Equal(t, "jane@example.com", q.Get("login_hint"))
	assert.Equal(t, "id-token", q.Get("id_token_hint"))
	assert.Equal(t, "openid offline_access", q.Get("scope"))
}

func TestBuildAuthURL_NewAttemptReplacesPrevious(t *testing.T) {
	c := newTestClient(t, "https://id.example.com", "c1")

	_, err := c.BuildAuthURL(LoginOptions{})
	require.NoError(t, err)
	first, _ := c.store.State()

	_, err = c.BuildAuthURL(LoginOptions{})
	require.NoError(t, err)
	second, _ := c.store.State()

	assert.NotEqual(t, first, second)
}

func TestLogin_Navigates(t *testing.T) {
	var navigated string
	c := newTestClient(t, "https://id.example.com", "c1",
		WithNavigator(NavigatorFunc(func(_ context.Context, u string) error {
			navigated = u
			return nil
		})))

	authURL, err := c.Login(context.Background(), LoginOptions{})
	require.NoError(t, err)
	assert.Equal(t, authURL, navigated)
}

func TestLogin_NavigatorError(t *testing.T) {
	c := newTestClient(t, "https://id.example.com", "c1",
		WithNavigator(NavigatorFunc(func(context.Context, string) error {
			return errors.New("no browser")
		})))

	authURL, err := c.Login(context.Background(), LoginOptions{})
	require.Error(t, err)
	assert.NotEmpty(t, authURL)
	assert.Equal(t, StateAuthenticating, c.State())
}

func TestHandleCallback_ExchangesCodeAndVerifier(t *testing.T) {
	var form url.Values
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	c, err := New(Config{
		Domain:      srv.URL,
		ClientID:    "c1",
		RedirectURI: "https://app/cb",
		Storage:     storage.KindMemory,
	}, WithLogger(discardLogger()))
	require.NoError(t, err)
	defer c.Destroy()

	c.store.SetState("S1")
	c.store.SetPKCEVerifier("V1")

	result, err := c.HandleCallback(context.Background(), "https://app/cb?code=ABC&state=S1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "ABC", form.Get("code"))
	assert.Equal(t, "V1", form.Get("code_verifier"))
	assert.Equal(t, "c1", form.Get("client_id"))
	assert.Equal(t, "https://app/cb", form.Get("redirect_uri"))

	require.NotNil(t, result.Tokens)
	assert.Equal(t, "at-1", result.Tokens.AccessToken)
	assert.Nil(t, result.Claims)

	stored := c.Tokens()
	require.NotNil(t, stored)
	assert.Equal(t, "at-1", stored.AccessToken)
	assert.Equal(t, "rt-1", stored.RefreshToken)
	assert.False(t, stored.ExpiresAt.IsZero())

	_, ok := c.store.State()
	assert.False(t, ok)
	_, ok = c.store.PKCEVerifier()
	assert.False(t, ok)
}

func TestHandleCallback_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		state    string
		verifier string
		callback string
		wantCode string
	}{
		{
			name:     "no stored state",
			verifier: "V1",
			callback: "https://app/cb?code=ABC&state=S1",
			wantCode: CodeMissingState,
		},
		{
			name:     "state mismatch",
			state:    "S1",
			verifier: "V1",
			callback: "https://app/cb?code=ABC&state=S2",
			wantCode: CodeStateMismatch,
		},
		{
			name:     "state missing from callback",
			state:    "S1",
			verifier: "V1",
			callback: "https://app/cb?code=ABC",
			wantCode: CodeStateMismatch,
		},
		{
			name:     "no stored verifier",
			state:    "S1",
			callback: "https://app/cb?code=ABC&state=S1",
			wantCode: CodeMissingVerifier,
		},
		{
			name:     "platform error",
			state:    "S1",
			verifier: "V1",
			callback: "https://app/cb?error=access_denied&error_description=denied&state=S1",
			wantCode: "access_denied",
		},
		{
			name:     "no code",
			state:    "S1",
			verifier: "V1",
			callback: "https://app/cb?state=S1",
			wantCode: CodeMissingCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, "c1")
			if tt.state != "" {
				c.store.SetState(tt.state)
			}
			if tt.verifier != "" {
				c.store.SetPKCEVerifier(tt.verifier)
			}

			result, err := c.HandleCallback(context.Background(), tt.callback)
			require.Error(t, err)
			assert.Nil(t, result)

			var protoErr *ProtocolError
			require.True(t, errors.As(err, &protoErr))
			assert.Equal(t, tt.wantCode, protoErr.Code)
			assert.True(t, IsReauthenticationRequired(err))

			assert.Equal(t, int32(0), calls.Load())
			assert.Nil(t, c.Tokens())
			assert.False(t, c.store.HasTransient())
			assert.Equal(t, StateUnauthenticated, c.State())
		})
	}
}

func TestHandleCallback_ExchangeFailureConsumesVerifier(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())

	authURL, err := c.BuildAuthURL(LoginOptions{})
	require.NoError(t, err)
	callback, err := server.Approve(authURL)
	require.NoError(t, err)

	server.SetSimulateErrors(&mock.OAuthErrorSimulation{InvalidGrant: true})
	_, err = c.HandleCallback(context.Background(), callback)
	require.Error(t, err)

	var reqErr *request.RequestFailedError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "invalid_grant", reqErr.Code)

	// Replaying the same callback cannot reuse the verifier.
	server.SetSimulateErrors(nil)
	_, err = c.HandleCallback(context.Background(), callback)
	assert.ErrorIs(t, err, &ProtocolError{Code: CodeMissingState})
}

func TestLoginFlow(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())

	var loginEvents atomic.Int32
	c.On(events.Login, func(ev events.Event) error {
		loginEvents.Add(1)
		assert.IsType(t, &TokenSet{}, ev.Data)
		return nil
	})

	assert.Equal(t, StateUnauthenticated, c.State())
	result := login(t, c, server)

	require.NotNil(t, result.Claims)
	assert.Equal(t, mock.TestSubject, result.Claims.Subject)
	assert.Equal(t, mock.TestEmail, result.Claims.Email)
	assert.Equal(t, mock.TestEmail, result.Claims.DisplayName())

	assert.Equal(t, StateAuthenticated, c.State())
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, int32(1), loginEvents.Load())

	token, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.Tokens.AccessToken, token)
	assert.True(t, server.ValidateToken(token))

	claims, err := c.IDTokenClaims()
	require.NoError(t, err)
	assert.Equal(t, mock.TestSubject, claims.Subject)
}

func TestAccessToken_Unauthenticated(t *testing.T) {
	c := newTestClient(t, "https://id.example.com", "c1")

	token, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.False(t, c.IsAuthenticated())
}

func TestAccessToken_StaleWithoutRefreshToken(t *testing.T) {
	c := newTestClient(t, "https://id.example.com", "c1")
	c.store.SetTokens(&TokenSet{
		AccessToken: "at",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})

	token, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestAccessToken_ExpirySkew(t *testing.T) {
	clock := mock.NewMockClock(time.Time{})
	server := startMockServer(t, mock.OAuthServerConfig{Clock: clock})

	t.Run("within skew refreshes", func(t *testing.T) {
		c := newTestClient(t, server.URL(), server.ClientID(),
			WithNowFunc(clock.Now), WithExpirySkew(10*time.Second))
		seeded := seedTokens(c, server, clock.Now().Add(5*time.Second))
		before := server.TokenRequests("refresh_token")

		// Not stale yet by the literal expiry.
		assert.True(t, c.IsAuthenticated())

		token, err := c.AccessToken(context.Background())
		require.NoError(t, err)
		assert.NotEqual(t, seeded.AccessToken, token)
		assert.Equal(t, before+1, server.TokenRequests("refresh_token"))
	})

	t.Run("outside skew uses stored token", func(t *testing.T) {
		c := newTestClient(t, server.URL(), server.ClientID(),
			WithNowFunc(clock.Now), WithExpirySkew(time.Second))
		seeded := seedTokens(c, server, clock.Now().Add(5*time.Second))
		before := server.TokenRequests("refresh_token")

		token, err := c.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, seeded.AccessToken, token)
		assert.Equal(t, before, server.TokenRequests("refresh_token"))
	})
}

func TestAccessToken_SingleFlight(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	server.SetSimulateErrors(&mock.OAuthErrorSimulation{TokenEndpointDelay: 100 * time.Millisecond})
	c := newTestClient(t, server.URL(), server.ClientID())
	seedTokens(c, server, time.Now().Add(-time.Minute))

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.AccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.NotEmpty(t, results[0])
	assert.Equal(t, 1, server.TokenRequests("refresh_token"))
	assert.True(t, server.ValidateToken(results[0]))
}

func TestAccessToken_SingleFlightSharesFailure(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	server.SetSimulateErrors(&mock.OAuthErrorSimulation{
		RejectRefresh:      true,
		TokenEndpointDelay: 100 * time.Millisecond,
	})
	c := newTestClient(t, server.URL(), server.ClientID())
	seedTokens(c, server, time.Now().Add(-time.Minute))

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.AccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range n {
		var refreshErr *RefreshFailedError
		assert.True(t, errors.As(errs[i], &refreshErr), "caller %d: %v", i, errs[i])
	}
	assert.Equal(t, 1, server.TokenRequests("refresh_token"))
}

func TestRefreshToken_Rejected(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())
	login(t, c, server)

	var errorEvents atomic.Int32
	c.On(events.Error, func(ev events.Event) error {
		errorEvents.Add(1)
		assert.Error(t, ev.Err())
		return nil
	})

	server.SetSimulateErrors(&mock.OAuthErrorSimulation{RejectRefresh: true})
	tokens, err := c.RefreshToken(context.Background())
	require.Error(t, err)
	assert.Nil(t, tokens)

	var refreshErr *RefreshFailedError
	require.True(t, errors.As(err, &refreshErr))
	var reqErr *request.RequestFailedError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusBadRequest, reqErr.Status)
	assert.Equal(t, "invalid_grant", reqErr.Code)

	assert.Nil(t, c.Tokens())
	assert.Equal(t, StateUnauthenticated, c.State())
	assert.Equal(t, int32(1), errorEvents.Load())
}

func TestRefreshToken_NetworkErrorKeepsSession(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	domain := srv.URL
	srv.Close()

	c := newTestClient(t, domain, "c1")
	c.store.SetTokens(&TokenSet{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer"})

	_, err := c.RefreshToken(context.Background())
	require.Error(t, err)

	var netErr *request.NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.False(t, IsReauthenticationRequired(err))

	stored := c.Tokens()
	require.NotNil(t, stored)
	assert.Equal(t, "rt", stored.RefreshToken)
}

func TestRefreshToken_NoRefreshToken(t *testing.T) {
	c := newTestClient(t, "https://id.example.com", "c1")
	c.store.SetTokens(&TokenSet{AccessToken: "at", TokenType: "Bearer"})

	_, err := c.RefreshToken(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.NotNil(t, c.Tokens())
}

func TestRefreshToken_KeepsOmittedRefreshToken(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{OmitRefreshTokenOnRefresh: true})
	c := newTestClient(t, server.URL(), server.ClientID())
	seeded := seedTokens(c, server, time.Now().Add(time.Hour))

	var refreshed atomic.Int32
	c.On(events.TokenRefreshed, func(events.Event) error {
		refreshed.Add(1)
		return nil
	})

	tokens, err := c.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, seeded.AccessToken, tokens.AccessToken)
	assert.Equal(t, seeded.RefreshToken, tokens.RefreshToken)
	assert.NotEmpty(t, tokens.IDToken)
	assert.Equal(t, int32(1), refreshed.Load())

	// The kept refresh token still works.
	_, err = c.RefreshToken(context.Background())
	require.NoError(t, err)
}

func TestRefreshToken_WaiterCancellation(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	server.SetSimulateErrors(&mock.OAuthErrorSimulation{TokenEndpointDelay: 200 * time.Millisecond})
	c := newTestClient(t, server.URL(), server.ClientID())
	seeded := seedTokens(c, server, time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.RefreshToken(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The shared refresh still completes for everyone else.
	assert.Eventually(t, func() bool {
		tok := c.Tokens()
		return tok != nil && tok.AccessToken != seeded.AccessToken
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshToken_LogoutDuringRefresh(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	server.SetSimulateErrors(&mock.OAuthErrorSimulation{TokenEndpointDelay: 200 * time.Millisecond})
	c := newTestClient(t, server.URL(), server.ClientID())
	seedTokens(c, server, time.Now().Add(time.Hour))

	done := make(chan error, 1)
	go func() {
		_, err := c.RefreshToken(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return c.State() == StateRefreshing
	}, time.Second, 5*time.Millisecond)
	c.Logout(context.Background(), LogoutOptions{})

	err := <-done
	var refreshErr *RefreshFailedError
	assert.True(t, errors.As(err, &refreshErr))
	assert.Nil(t, c.Tokens())
	assert.Equal(t, StateUnauthenticated, c.State())
}

// waitFor fails the test when fn does not return within a few seconds.
func waitFor(t *testing.T, what string, fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatalf("%s did not return", what)
		return nil
	}
}

func TestRefreshToken_HandlerRefreshesAgain(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())
	seedTokens(c, server, time.Now().Add(time.Hour))

	var fired atomic.Bool
	nested := make(chan error, 1)
	c.On(events.TokenRefreshed, func(events.Event) error {
		if fired.CompareAndSwap(false, true) {
			_, err := c.RefreshToken(context.Background())
			nested <- err
		}
		return nil
	})

	err := waitFor(t, "RefreshToken", func() error {
		_, err := c.RefreshToken(context.Background())
		return err
	})
	require.NoError(t, err)
	require.NoError(t, <-nested)
	assert.Equal(t, 2, server.TokenRequests("refresh_token"))

	// Later refreshes are not stuck behind the earlier flights.
	err = waitFor(t, "RefreshToken", func() error {
		_, err := c.RefreshToken(context.Background())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, server.TokenRequests("refresh_token"))
}

func TestAccessToken_ErrorHandlerCallsBack(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	domain := srv.URL
	srv.Close()

	c := newTestClient(t, domain, "c1")
	c.store.SetTokens(&TokenSet{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	var fired atomic.Bool
	nested := make(chan error, 1)
	c.On(events.Error, func(events.Event) error {
		if fired.CompareAndSwap(false, true) {
			_, err := c.AccessToken(context.Background())
			nested <- err
		}
		return nil
	})

	err := waitFor(t, "AccessToken", func() error {
		_, err := c.AccessToken(context.Background())
		return err
	})
	var netErr *request.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.ErrorAs(t, <-nested, &netErr)
	assert.NotNil(t, c.Tokens())
}

func TestLogout(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())
	result := login(t, c, server)

	var logoutEvents atomic.Int32
	c.On(events.Logout, func(events.Event) error {
		logoutEvents.Add(1)
		return nil
	})

	c.Logout(context.Background(), LogoutOptions{Revoke: true})

	assert.Nil(t, c.Tokens())
	_, ok := c.store.State()
	assert.False(t, ok)
	_, ok = c.store.PKCEVerifier()
	assert.False(t, ok)
	assert.Equal(t, []string{result.Tokens.RefreshToken}, server.RevokedTokens())
	assert.False(t, server.ValidateToken(result.Tokens.AccessToken))

	assert.NotPanics(t, func() {
		c.Logout(context.Background(), LogoutOptions{Revoke: true})
	})
	assert.Equal(t, int32(2), logoutEvents.Load())
	assert.Len(t, server.RevokedTokens(), 1)
}

func TestLogout_RevocationFailureStillClears(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())
	login(t, c, server)

	server.SetSimulateErrors(&mock.OAuthErrorSimulation{RevokeEndpointError: true})
	c.Logout(context.Background(), LogoutOptions{Revoke: true})

	assert.Nil(t, c.Tokens())
	assert.Len(t, server.RevokedTokens(), 1)
}

func TestLogout_ReturnTo(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	var navigated string
	c := newTestClient(t, server.URL(), server.ClientID(),
		WithNavigator(NavigatorFunc(func(_ context.Context, u string) error {
			navigated = u
			return nil
		})))
	result := login(t, c, server)

	c.Logout(context.Background(), LogoutOptions{ReturnTo: "https://app/bye"})

	u, err := url.Parse(navigated)
	require.NoError(t, err)
	assert.Equal(t, "/oauth/logout", u.Path)
	assert.Equal(t, "https://app/bye", u.Query().Get("post_logout_redirect_uri"))
	assert.Equal(t, result.Tokens.IDToken, u.Query().Get("id_token_hint"))
	assert.Equal(t, server.ClientID(), u.Query().Get("client_id"))
}

func TestMemoryStorageIsolation(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	a := newTestClient(t, server.URL(), server.ClientID())
	b := newTestClient(t, server.URL(), server.ClientID())

	login(t, a, server)

	assert.NotNil(t, a.Tokens())
	assert.Nil(t, b.Tokens())
	assert.Equal(t, StateUnauthenticated, b.State())
}

func TestSharedStorage(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	shared := storage.NewMemoryStore()
	a := newTestClient(t, server.URL(), server.ClientID(), WithStorage(shared))
	b := newTestClient(t, server.URL(), server.ClientID(), WithStorage(shared))

	login(t, a, server)
	require.NotNil(t, b.Tokens())
	assert.Equal(t, a.Tokens().AccessToken, b.Tokens().AccessToken)

	b.Logout(context.Background(), LogoutOptions{})
	assert.Nil(t, a.Tokens())
}

func TestKeyPrefix(t *testing.T) {
	shared := storage.NewMemoryStore()
	c := newTestClient(t, "https://id.example.com", "c1", WithStorage(shared), WithKeyPrefix("tenant-a"))

	_, err := c.BuildAuthURL(LoginOptions{})
	require.NoError(t, err)

	_, ok := shared.Get("tenant-a.state")
	assert.True(t, ok)
	_, ok = credentials.New(shared).State()
	assert.False(t, ok)
}

func TestEvents_HandlerErrorsAreContained(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())

	var second atomic.Int32
	c.On(events.Login, func(events.Event) error {
		return errors.New("handler failed")
	})
	c.On(events.Login, func(events.Event) error {
		panic("handler panicked")
	})
	sub := c.On(events.Login, func(events.Event) error {
		second.Add(1)
		return nil
	})

	login(t, c, server)
	assert.Equal(t, int32(1), second.Load())

	c.Off(sub)
	login(t, c, server)
	assert.Equal(t, int32(1), second.Load())
}

func TestDestroy(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID(), WithAutoRefresh(0))
	login(t, c, server)
	c.On(events.Logout, func(events.Event) error { return nil })

	c.Destroy()
	assert.NotPanics(t, c.Destroy)

	assert.Equal(t, 0, c.bus.Len(events.Logout))
	c.timerMu.Lock()
	assert.Nil(t, c.refreshTimer)
	c.timerMu.Unlock()

	// The session itself is left in storage.
	assert.NotNil(t, c.Tokens())
}

func TestAutoRefresh(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	mem := storage.NewMemoryStore()

	issued := server.IssueTokens("openid")
	credentials.New(mem).SetTokens(&TokenSet{
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RefreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(150 * time.Millisecond),
	})

	c := newTestClient(t, server.URL(), server.ClientID(),
		WithStorage(mem),
		WithExpirySkew(0),
		WithAutoRefresh(50*time.Millisecond))

	assert.Eventually(t, func() bool {
		return server.TokenRequests("refresh_token") == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		tok := c.Tokens()
		return tok != nil && tok.AccessToken != issued.AccessToken
	}, time.Second, 10*time.Millisecond)
}

func TestTokenSource(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())

	_, err := c.TokenSource(context.Background()).Token()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	result := login(t, c, server)
	token, err := c.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, result.Tokens.AccessToken, token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.True(t, token.Valid())

	// A stale token is refreshed before it is handed out.
	seeded := seedTokens(c, server, time.Now().Add(-time.Minute))
	token, err = c.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.NotEqual(t, seeded.AccessToken, token.AccessToken)
	assert.True(t, server.ValidateToken(token.AccessToken))
	assert.True(t, token.Valid())
}

func TestTokenSource_StaleWithoutRefreshToken(t *testing.T) {
	c := newTestClient(t, "https://id.example.com", "c1")
	c.store.SetTokens(&TokenSet{
		AccessToken: "stale",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(-time.Hour),
	})

	token, err := c.TokenSource(context.Background()).Token()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Nil(t, token)
}

func TestUserInfo(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())

	var info map[string]any
	assert.ErrorIs(t, c.UserInfo(context.Background(), &info), ErrNotAuthenticated)

	login(t, c, server)
	require.NoError(t, c.UserInfo(context.Background(), &info))
	assert.Equal(t, mock.TestSubject, info["sub"])
	assert.Equal(t, 1, server.UserInfoCalls())
}

func TestExecutorCarriesBearer(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())
	login(t, c, server)

	var info struct {
		Email string `json:"email"`
	}
	require.NoError(t, c.Executor().Get(context.Background(), "/oauth/userinfo", &info))
	assert.Equal(t, mock.TestEmail, info.Email)
}

func TestStatus(t *testing.T) {
	server := startMockServer(t, mock.OAuthServerConfig{})
	c := newTestClient(t, server.URL(), server.ClientID())

	st := c.Status()
	assert.Equal(t, "unauthenticated", st.State)
	assert.False(t, st.Authenticated)

	login(t, c, server)
	st = c.Status()
	assert.Equal(t, "authenticated", st.State)
	assert.True(t, st.Authenticated)
	assert.Equal(t, mock.TestSubject, st.Subject)
	assert.Equal(t, mock.TestEmail, st.User)
	assert.True(t, st.HasRefreshToken)
	assert.True(t, st.HasIDToken)
	assert.Greater(t, st.ExpiresIn, 59*time.Minute)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"authenticated"`)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "unknown", State(42).String())
}

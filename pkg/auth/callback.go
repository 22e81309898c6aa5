package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/authkit/pkg/events"
)

// Claims is the identity information decoded from an ID token. The token
// signature is not verified; the token was received directly from the
// platform over TLS in the code exchange.
type Claims struct {
	Subject string
	Email   string
	Name    string
	Issuer  string
	Raw     jwt.MapClaims
}

// CallbackResult is returned by a successful HandleCallback.
type CallbackResult struct {
	Tokens *TokenSet
	// Claims is nil when the platform did not issue an ID token.
	Claims *Claims
}

// tokenResponse is the token endpoint's answer for both grant types.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (r *tokenResponse) tokenSet(now time.Time) (*TokenSet, error) {
	if r.AccessToken == "" {
		return nil, &ProtocolError{Code: CodeInvalidResponse, Message: "token response has no access_token"}
	}
	t := &TokenSet{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		IDToken:      r.IDToken,
		TokenType:    r.TokenType,
		Scope:        r.Scope,
	}
	if t.TokenType == "" {
		t.TokenType = "Bearer"
	}
	if r.ExpiresIn > 0 {
		t.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return t, nil
}

// HandleCallback completes an authorization attempt from the URL the
// platform redirected to. The stored verifier and state are consumed
// whatever the outcome, so a callback can be handled once.
//
// A missing or mismatched state, a missing verifier, an error reported by
// the platform and a missing code all fail with a *ProtocolError before any
// network call is made.
func (c *Client) HandleCallback(ctx context.Context, callbackURL string) (*CallbackResult, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		c.consumeTransient()
		return nil, &ProtocolError{Code: CodeMissingCode, Message: fmt.Sprintf("invalid callback URL: %v", err)}
	}
	return c.handleCallback(ctx, u.Query())
}

// HandleCallbackRequest is HandleCallback for an incoming HTTP request.
func (c *Client) HandleCallbackRequest(ctx context.Context, r *http.Request) (*CallbackResult, error) {
	return c.handleCallback(ctx, r.URL.Query())
}

func (c *Client) handleCallback(ctx context.Context, query url.Values) (*CallbackResult, error) {
	storedState, verifier, gen := c.consumeTransient()

	returnedState := query.Get("state")
	switch {
	case storedState == "":
		return nil, &ProtocolError{Code: CodeMissingState, Message: "no authorization in progress"}
	case subtle.ConstantTimeCompare([]byte(storedState), []byte(returnedState)) != 1:
		c.logger.Warn("Callback state does not match", "client_id", c.cfg.ClientID)
		return nil, &ProtocolError{Code: CodeStateMismatch, Message: "state parameter does not match"}
	case verifier == "":
		return nil, &ProtocolError{Code: CodeMissingVerifier, Message: "no PKCE verifier stored"}
	}

	if platformErr := query.Get("error"); platformErr != "" {
		msg := query.Get("error_description")
		if msg == "" {
			msg = "authorization was denied"
		}
		return nil, &ProtocolError{Code: platformErr, Message: msg}
	}

	code := query.Get("code")
	if code == "" {
		return nil, &ProtocolError{Code: CodeMissingCode, Message: "callback has no authorization code"}
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code_verifier", verifier)

	var resp tokenResponse
	if err := c.executor.PostForm(ctx, c.endpoints.Token, form, &resp); err != nil {
		c.logger.Warn("Authorization code exchange failed", "error", err)
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	tokens, err := resp.tokenSet(c.now())
	if err != nil {
		return nil, err
	}
	if !c.storeTokens(tokens, gen) {
		return nil, &ProtocolError{Code: CodeMissingState, Message: "session was cleared during the code exchange"}
	}

	result := &CallbackResult{Tokens: tokens}
	if tokens.IDToken != "" {
		claims, err := parseClaims(tokens.IDToken)
		if err != nil {
			c.logger.Warn("Failed to decode ID token", "error", err)
		} else {
			result.Claims = claims
		}
	}

	c.logger.Info("Login completed", "client_id", c.cfg.ClientID)
	c.emit(events.Login, tokens)

	return result, nil
}

// consumeTransient reads and clears the verifier and state in one step.
func (c *Client) consumeTransient() (state, verifier string, gen uint64) {
	c.flowMu.Lock()
	defer c.flowMu.Unlock()

	state, _ = c.store.State()
	verifier, _ = c.store.PKCEVerifier()
	c.store.ClearTransient()
	return state, verifier, c.generation
}

// IDTokenClaims decodes the stored ID token. It returns nil when there is
// no session or the platform did not issue an ID token.
func (c *Client) IDTokenClaims() (*Claims, error) {
	t := c.store.Tokens()
	if t == nil || t.IDToken == "" {
		return nil, nil
	}
	return parseClaims(t.IDToken)
}

func parseClaims(idToken string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token: %w", err)
	}

	out := &Claims{Raw: claims}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		out.Issuer = iss
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		out.Name = name
	}
	if out.Subject == "" {
		return nil, errors.New("ID token has no subject")
	}
	return out, nil
}

// DisplayName returns the best human-readable identifier in the claims.
func (cl *Claims) DisplayName() string {
	for _, v := range []string{cl.Email, cl.Name, cl.Subject} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

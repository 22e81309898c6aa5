package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/authkit/pkg/pkce"
)

// LoginOptions customize a single authorization request.
type LoginOptions struct {
	// Scopes replaces Config.Scopes for this request.
	Scopes []string

	// Prompt is passed as the prompt parameter, e.g. "login" or "consent".
	Prompt string

	// LoginHint pre-fills the user identifier on the platform's login page.
	LoginHint string

	// IDTokenHint passes a previously issued ID token, for re-authentication.
	IDTokenHint string

	// ExtraParams are appended to the authorization URL. They cannot
	// override the parameters the flow depends on.
	ExtraParams map[string]string
}

// reservedParams are owned by the flow and never taken from ExtraParams.
var reservedParams = map[string]bool{
	"client_id":             true,
	"redirect_uri":          true,
	"response_type":         true,
	"scope":                 true,
	"state":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
}

// BuildAuthURL starts an authorization attempt: it generates a fresh PKCE
// pair and state value, persists both and returns the URL the user has to
// visit. It does not navigate. Starting a new attempt replaces the verifier
// and state of any earlier one.
func (c *Client) BuildAuthURL(opts LoginOptions) (string, error) {
	challenge, err := pkce.NewChallenge()
	if err != nil {
		return "", fmt.Errorf("failed to generate PKCE challenge: %w", err)
	}
	state, err := pkce.NewState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = c.cfg.Scopes
	}

	params := url.Values{}
	for k, v := range opts.ExtraParams {
		if reservedParams[k] {
			c.logger.Warn("Ignoring reserved authorization parameter", "param", k)
			continue
		}
		params.Set(k, v)
	}
	if opts.Prompt != "" {
		params.Set("prompt", opts.Prompt)
	}
	if opts.LoginHint != "" {
		params.Set("login_hint", opts.LoginHint)
	}
	if opts.IDTokenHint != "" {
		params.Set("id_token_hint", opts.IDTokenHint)
	}
	params.Set("client_id", c.cfg.ClientID)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", challenge.Challenge)
	params.Set("code_challenge_method", challenge.Method)

	c.flowMu.Lock()
	c.store.SetPKCEVerifier(challenge.Verifier)
	c.store.SetState(state)
	c.flowMu.Unlock()

	c.logger.Debug("Authorization request prepared",
		"client_id", c.cfg.ClientID,
		"scopes", scopes)

	return c.executor.URL(c.endpoints.Authorize) + "?" + params.Encode(), nil
}

// Login builds the authorization URL and sends the user there with the
// configured Navigator. The URL is returned so callers without a browser
// can show it.
func (c *Client) Login(ctx context.Context, opts LoginOptions) (string, error) {
	authURL, err := c.BuildAuthURL(opts)
	if err != nil {
		return "", err
	}
	if err := c.navigator.Navigate(ctx, authURL); err != nil {
		return authURL, fmt.Errorf("failed to open authorization URL: %w", err)
	}
	return authURL, nil
}

package auth

import (
	"context"
	"net/url"

	"github.com/giantswarm/authkit/pkg/events"
)

// LogoutOptions customize Logout.
type LogoutOptions struct {
	// Revoke asks the platform to revoke the refresh token (or the access
	// token when there is none) before the session is cleared.
	Revoke bool

	// ReturnTo, when set, sends the user to the platform's end-session
	// endpoint, which redirects back to ReturnTo afterwards.
	ReturnTo string
}

// Logout clears the local session and emits events.Logout. Revocation and
// end-session navigation are best effort: their failures are logged and
// never keep the local state from being cleared. Calling Logout without a
// session is a no-op apart from the event.
func (c *Client) Logout(ctx context.Context, opts LogoutOptions) {
	tokens := c.store.Tokens()

	if opts.Revoke && tokens != nil {
		c.revoke(ctx, tokens)
	}

	var idToken string
	if tokens != nil {
		idToken = tokens.IDToken
	}

	c.clearSession()
	c.logger.Info("Logged out", "client_id", c.cfg.ClientID)
	c.emit(events.Logout, nil)

	if opts.ReturnTo != "" {
		if err := c.navigator.Navigate(ctx, c.EndSessionURL(opts.ReturnTo, idToken)); err != nil {
			c.logger.Warn("Failed to open end-session URL", "error", err)
		}
	}
}

func (c *Client) revoke(ctx context.Context, tokens *TokenSet) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	if tokens.RefreshToken != "" {
		form.Set("token", tokens.RefreshToken)
		form.Set("token_type_hint", "refresh_token")
	} else {
		form.Set("token", tokens.AccessToken)
		form.Set("token_type_hint", "access_token")
	}

	if err := c.executor.PostForm(ctx, c.endpoints.Revoke, form, nil); err != nil {
		c.logger.Warn("Token revocation failed", "error", err)
		return
	}
	c.logger.Debug("Token revoked", "hint", form.Get("token_type_hint"))
}

// EndSessionURL returns the platform's logout URL that redirects to
// returnTo. idToken is passed as id_token_hint when not empty.
func (c *Client) EndSessionURL(returnTo, idToken string) string {
	params := url.Values{}
	params.Set("client_id", c.cfg.ClientID)
	if returnTo != "" {
		params.Set("post_logout_redirect_uri", returnTo)
	}
	if idToken != "" {
		params.Set("id_token_hint", idToken)
	}
	return c.executor.URL(c.endpoints.Logout) + "?" + params.Encode()
}

package auth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ErrNotAuthenticated is returned by token sources without a usable session.
var ErrNotAuthenticated = errors.New("not authenticated")

type clientTokenSource struct {
	ctx    context.Context
	client *Client
}

// TokenSource adapts the client to oauth2.TokenSource so the session can
// drive an oauth2.Transport. Tokens are refreshed through the client, so
// the transport shares the single-flight refresh with every other caller.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &clientTokenSource{ctx: ctx, client: c}
}

func (s *clientTokenSource) Token() (*oauth2.Token, error) {
	tokens, err := s.client.currentTokens(s.ctx)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, ErrNotAuthenticated
	}
	return tokens.ToOAuth2Token(), nil
}

// UserInfo fetches the user's profile from the platform into out, using the
// current access token.
func (c *Client) UserInfo(ctx context.Context, out any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNotAuthenticated
	}
	return c.executor.Get(ctx, c.endpoints.UserInfo, out)
}

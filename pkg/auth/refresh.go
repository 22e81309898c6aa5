package auth

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/giantswarm/authkit/pkg/events"
	"github.com/giantswarm/authkit/pkg/request"
)

const refreshFlightKey = "refresh"

// AccessToken returns a usable access token. A token within the expiry skew
// is refreshed first; concurrent callers share that one refresh and get the
// same result. It returns "" with a nil error when there is no session, or
// when the token is stale and no refresh token is stored.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	tokens, err := c.currentTokens(ctx)
	if err != nil || tokens == nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// currentTokens is AccessToken returning the whole set the access token
// belongs to, or nil when there is no usable one.
func (c *Client) currentTokens(ctx context.Context) (*TokenSet, error) {
	tokens := c.store.Tokens()
	if tokens == nil {
		return nil, nil
	}
	if !tokens.Expired(c.now(), c.skew) {
		return tokens, nil
	}
	if !tokens.HasRefreshToken() {
		c.logger.Debug("Access token is stale and no refresh token is stored")
		return nil, nil
	}
	return c.refresh(ctx, false)
}

// RefreshToken renews the token set with the stored refresh token, even if
// the current access token is still fresh. If a refresh is already running
// the call waits for it instead of starting another.
//
// When the platform rejects the refresh token the session is cleared, an
// events.Error is emitted and a *RefreshFailedError is returned. Network
// failures leave the session untouched.
func (c *Client) RefreshToken(ctx context.Context) (*TokenSet, error) {
	return c.refresh(ctx, true)
}

func (c *Client) refresh(ctx context.Context, force bool) (*TokenSet, error) {
	// The shared flight must not be canceled by whichever caller started it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.refreshGroup.DoChan(refreshFlightKey, func() (any, error) {
		out := c.doRefresh(flightCtx, force)
		// Handlers may refresh again; they must start a new flight rather
		// than join this one.
		c.refreshGroup.Forget(refreshFlightKey)
		if out.event != "" {
			c.emit(out.event, out.data)
		}
		return out.tokens, out.err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TokenSet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refreshOutcome is the result of one refresh flight and the event it
// should be announced with, if any.
type refreshOutcome struct {
	tokens *TokenSet
	err    error
	event  events.Type
	data   any
}

func failed(err error) refreshOutcome {
	return refreshOutcome{err: err, event: events.Error, data: err}
}

func (c *Client) doRefresh(ctx context.Context, force bool) refreshOutcome {
	c.refreshing.Store(true)
	defer c.refreshing.Store(false)

	gen := c.currentGeneration()
	current := c.store.Tokens()

	// Another flight may have finished between the caller's check and ours.
	if !force && current != nil && !current.Expired(c.now(), c.skew) {
		return refreshOutcome{tokens: current}
	}
	if current == nil || !current.HasRefreshToken() {
		return refreshOutcome{err: &RefreshFailedError{Err: ErrNoRefreshToken}}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken)
	form.Set("client_id", c.cfg.ClientID)

	c.logger.Debug("Refreshing access token", "client_id", c.cfg.ClientID)

	var resp tokenResponse
	if err := c.executor.PostForm(ctx, c.endpoints.Token, form, &resp); err != nil {
		var reqErr *request.RequestFailedError
		if errors.As(err, &reqErr) {
			refreshErr := &RefreshFailedError{Err: err}
			c.logger.Warn("Refresh token rejected, clearing session",
				"status", reqErr.Status,
				"code", reqErr.Code)
			c.clearSession()
			return failed(refreshErr)
		}

		c.logger.Warn("Token refresh failed", "error", err)
		return failed(err)
	}

	tokens, err := resp.tokenSet(c.now())
	if err != nil {
		return failed(err)
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = current.RefreshToken
	}
	if tokens.IDToken == "" {
		tokens.IDToken = current.IDToken
	}
	if tokens.Scope == "" {
		tokens.Scope = current.Scope
	}

	if !c.storeTokens(tokens, gen) {
		c.logger.Debug("Discarding refreshed tokens, session was cleared")
		return refreshOutcome{err: &RefreshFailedError{Err: errors.New("session was cleared during refresh")}}
	}

	c.logger.Debug("Access token refreshed", "expires_at", tokens.ExpiresAt)
	return refreshOutcome{tokens: tokens, event: events.TokenRefreshed, data: tokens}
}

// scheduleRefresh arms the background refresh for tokens, replacing any
// earlier timer.
func (c *Client) scheduleRefresh(tokens *TokenSet) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.destroyed.Load() || tokens == nil || !tokens.HasRefreshToken() || tokens.ExpiresAt.IsZero() {
		return
	}

	delay := tokens.ExpiresAt.Sub(c.now()) - c.skew - c.autoRefreshLead
	if delay <= 0 {
		// Already stale: the next AccessToken call refreshes it.
		return
	}

	c.refreshTimer = time.AfterFunc(delay, func() {
		if c.destroyed.Load() {
			return
		}
		if _, err := c.RefreshToken(context.Background()); err != nil {
			c.logger.Warn("Background token refresh failed", "error", err)
		}
	})
}

func (c *Client) cancelRefresh() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

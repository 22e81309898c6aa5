package auth

import "time"

// Status is a point-in-time summary of the session, suitable for display
// or for a health endpoint.
type Status struct {
	State         string    `json:"state"`
	Authenticated bool      `json:"authenticated"`
	Subject       string    `json:"subject,omitempty"`
	User          string    `json:"user,omitempty"`
	Issuer        string    `json:"issuer,omitempty"`
	Scope         string    `json:"scope,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	// ExpiresIn is zero for tokens without an expiry.
	ExpiresIn       time.Duration `json:"expires_in,omitempty"`
	HasRefreshToken bool          `json:"has_refresh_token"`
	HasIDToken      bool          `json:"has_id_token"`
}

// Status summarizes the stored session without touching the network.
func (c *Client) Status() Status {
	st := Status{
		State:         c.State().String(),
		Authenticated: c.IsAuthenticated(),
	}

	tokens := c.store.Tokens()
	if tokens == nil {
		return st
	}
	st.Scope = tokens.Scope
	st.ExpiresAt = tokens.ExpiresAt
	if !tokens.ExpiresAt.IsZero() {
		st.ExpiresIn = max(tokens.ExpiresAt.Sub(c.now()), 0).Round(time.Second)
	}
	st.HasRefreshToken = tokens.HasRefreshToken()
	st.HasIDToken = tokens.IDToken != ""

	if claims, err := c.IDTokenClaims(); err == nil && claims != nil {
		st.Subject = claims.Subject
		st.User = claims.DisplayName()
		st.Issuer = claims.Issuer
	}
	return st
}

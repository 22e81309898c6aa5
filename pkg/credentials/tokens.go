package credentials

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// TokenSet is the credential bundle issued by the identity platform. It is
// always stored and replaced as a whole.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`

	// ExpiresAt is the absolute expiry of AccessToken, computed when the set
	// was issued. The zero value means the platform did not report one.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the access token is expired at now, treating it as
// expired skew early. A set without an expiry never expires.
func (t *TokenSet) Expired(now time.Time, skew time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// HasRefreshToken reports whether the set can be renewed.
func (t *TokenSet) HasRefreshToken() bool {
	return t != nil && t.RefreshToken != ""
}

// ToOAuth2Token converts the set to an oauth2.Token. The ID token is carried
// in the token's extra data under "id_token", as x/oauth2 does.
func (t *TokenSet) ToOAuth2Token() *oauth2.Token {
	if t == nil {
		return nil
	}
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.ExpiresAt,
	}
	if t.IDToken != "" {
		tok = tok.WithExtra(map[string]interface{}{"id_token": t.IDToken})
	}
	return tok
}

// String implements fmt.Stringer without revealing token values so a set can
// be passed to loggers safely.
func (t *TokenSet) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("TokenSet{access_token:%s refresh_token:%s id_token:%s type:%s expires_at:%s}",
		redact(t.AccessToken), redact(t.RefreshToken), redact(t.IDToken), t.TokenType,
		t.ExpiresAt.Format(time.RFC3339))
}

// GoString implements fmt.GoStringer for %#v with the same redaction.
func (t *TokenSet) GoString() string {
	return "credentials." + t.String()
}

func redact(v string) string {
	if v == "" {
		return "-"
	}
	return "[REDACTED]"
}

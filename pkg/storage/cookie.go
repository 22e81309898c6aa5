package storage

import (
	"encoding/base64"
	"net/http"
	"sync"
)

// CookieCarrier is the request/response pair a cookie store reads from and
// writes to. Request supplies incoming cookies; Writer receives Set-Cookie
// headers and must not have written its headers yet.
type CookieCarrier struct {
	Request *http.Request
	Writer  http.ResponseWriter
}

// CookieStore keeps values in browser cookies. Cookies are sent with
// Path=/, a seven day lifetime, SameSite=Lax, Secure and HttpOnly. Values
// are base64url encoded so arbitrary strings survive the cookie grammar.
//
// Values written during a request are visible to later reads in the same
// request even though the browser only sends them back on the next one.
type CookieStore struct {
	carrier *CookieCarrier

	mu      sync.Mutex
	pending map[string]*string
}

// NewCookieStore creates a cookie store over carrier. A nil carrier, or one
// without a request and writer, yields a store that discards writes.
func NewCookieStore(carrier *CookieCarrier) *CookieStore {
	return &CookieStore{
		carrier: carrier,
		pending: make(map[string]*string),
	}
}

func (c *CookieStore) usable() bool {
	return c.carrier != nil && c.carrier.Request != nil && c.carrier.Writer != nil
}

func (c *CookieStore) Get(key string) (string, bool) {
	if !c.usable() {
		return "", false
	}

	c.mu.Lock()
	p, overridden := c.pending[key]
	c.mu.Unlock()
	if overridden {
		if p == nil {
			return "", false
		}
		return *p, true
	}

	cookie, err := c.carrier.Request.Cookie(key)
	if err != nil {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (c *CookieStore) Set(key, value string) {
	if !c.usable() {
		return
	}

	http.SetCookie(c.carrier.Writer, &http.Cookie{
		Name:     key,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(value)),
		Path:     "/",
		MaxAge:   int(DefaultTTL.Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	c.mu.Lock()
	c.pending[key] = &value
	c.mu.Unlock()
}

func (c *CookieStore) Remove(key string) {
	if !c.usable() {
		return
	}

	http.SetCookie(c.carrier.Writer, &http.Cookie{
		Name:     key,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	c.mu.Lock()
	c.pending[key] = nil
	c.mu.Unlock()
}

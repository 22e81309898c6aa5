package auth

import (
	"context"
	"net/http"

	"github.com/pkg/browser"
)

// Navigator sends the user agent to a URL on the identity platform.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, url string) error

// Navigate calls f.
func (f NavigatorFunc) Navigate(ctx context.Context, url string) error {
	return f(ctx, url)
}

// BrowserNavigator opens URLs in the system browser.
type BrowserNavigator struct{}

// Navigate opens url with the platform's default browser.
func (BrowserNavigator) Navigate(_ context.Context, url string) error {
	return browser.OpenURL(url)
}

// RedirectNavigator answers the current HTTP request with a redirect. It is
// the navigator for server-rendered hosts.
func RedirectNavigator(w http.ResponseWriter, r *http.Request) Navigator {
	return NavigatorFunc(func(_ context.Context, url string) error {
		http.Redirect(w, r, url, http.StatusFound)
		return nil
	})
}

// DiscardNavigator does nothing. Use it when the caller handles the URL
// returned by Login itself.
var DiscardNavigator Navigator = NavigatorFunc(func(context.Context, string) error { return nil })

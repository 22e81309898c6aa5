// Package mock provides test doubles for the identity platform.
//
// OAuthServer serves the platform's OAuth endpoints on a loopback port:
//
//	server := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "my-app"})
//	if _, err := server.Start(ctx); err != nil { ... }
//	defer server.Stop(ctx)
//
//	callbackURL, err := server.Approve(authURL) // simulate the user consenting
//
// Authorization codes are verified against their PKCE challenge, refresh
// tokens are single use, and request counters let tests assert how many
// token requests a client made. Error conditions are injected with
// SetSimulateErrors.
//
// MockClock controls the time used for token expiry.
package mock

// Package auth manages the lifecycle of an OAuth2/OIDC Authorization Code +
// PKCE session against the identity platform.
//
// A Client builds the authorization redirect, completes the callback by
// exchanging the code and verifier for tokens, keeps the token set in the
// configured storage and hands out access tokens on demand. Expired tokens
// are refreshed transparently; overlapping refreshes are coalesced into a
// single request because the platform rotates refresh tokens.
//
// # Usage
//
//	client, err := auth.New(auth.Config{
//		Domain:      "https://id.example.com",
//		ClientID:    "my-app",
//		RedirectURI: "http://127.0.0.1:3000/callback",
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Destroy()
//
//	authURL, err := client.Login(ctx, auth.LoginOptions{})
//	// ... the platform redirects back to RedirectURI ...
//	result, err := client.HandleCallback(ctx, callbackURL)
//
//	token, err := client.AccessToken(ctx)
//
// # Errors
//
// Callers should send the user through Login again when
// IsReauthenticationRequired reports true for an error returned by
// HandleCallback or AccessToken. Network errors never clear the session.
//
// # Concurrency
//
// A Client is safe for concurrent use. Separate clients share nothing except
// the storage they are given; the single-flight refresh guarantee holds only
// within one client.
package auth

// Package loopback receives the authorization redirect for command line
// hosts.
//
// A Server listens on the loopback address named by the client's redirect
// URI, accepts exactly one callback, optionally completes the login through
// a CompleteFunc, renders a small result page and shuts itself down.
//
//	srv, err := loopback.New("http://127.0.0.1:8085/callback",
//		loopback.WithCompletion(func(ctx context.Context, r *http.Request) (string, error) {
//			res, err := client.HandleCallbackRequest(ctx, r)
//			...
//		}))
//	if err := srv.Start(ctx); err != nil {
//		return err
//	}
//	defer srv.Stop()
//	result, err := srv.WaitForCallback(ctx)
package loopback

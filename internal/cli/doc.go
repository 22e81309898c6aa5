// Package cli provides the output and error helpers shared by the authkit
// commands.
//
// # Output
//
// Commands register their common flags with RegisterCommonFlags and print
// results through a Printer, which renders either a kubectl-style plain table
// (PlainTableWriter), indented JSON or YAML. Long-running steps such as
// waiting for the browser callback show a spinner through StartProgress,
// which stays silent with --quiet.
//
// # Errors
//
// Errors returned by pkg/auth are mapped to errors carrying guidance for
// the user:
//   - AuthRequiredError: there is no session; run "authkit login"
//   - AuthExpiredError: the platform refused to renew the session
//   - AuthFailedError: a login attempt failed
//   - ConnectionError: the platform could not be reached, classified as a
//     TLS, DNS, timeout or network problem
//
// The root command turns these into exit codes.
package cli

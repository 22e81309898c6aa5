// Package logging provides the structured logging used by the authkit
// command line tool.
//
// It is a thin layer over log/slog. Init installs the configured handler as
// the slog default, so library packages that accept an injected
// *slog.Logger (pkg/auth, pkg/storage, pkg/request) and fall back to
// slog.Default() write to the same output.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Config", "Loaded configuration from %s", path)
//	logging.Error("Auth", err, "Login failed")
//
//	client, err := auth.New(cfg, auth.WithLogger(logging.Logger("Auth")))
//
// # Subsystems
//
// Every entry carries a subsystem attribute: Bootstrap, Config, Auth,
// Storage, Callback and Server are used by the CLI.
//
// # Audit Logging
//
// Session changes are recorded with Audit:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:   "login",
//	    Outcome:  "success",
//	    ClientID: cfg.ClientID,
//	    Subject:  claims.Subject,
//	})
//
// Audit events are logged at INFO with an [AUDIT] prefix for easy filtering.
// Tokens are never logged.
package logging

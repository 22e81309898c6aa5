package cmd

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/authkit/internal/config"
	"github.com/giantswarm/authkit/pkg/auth"
	"github.com/giantswarm/authkit/pkg/logging"
	"github.com/giantswarm/authkit/pkg/storage"
)

// initLogging configures logging from lc; --debug always wins.
func initLogging(lc config.LoggingConfig) {
	level := logging.LevelWarn
	if lc.Level != "" {
		if l, err := logging.ParseLevel(lc.Level); err == nil {
			level = l
		}
	}
	if rootFlags.Debug {
		level = logging.LevelDebug
	}

	format := logging.FormatText
	if lc.Format == string(logging.FormatJSON) {
		format = logging.FormatJSON
	}
	logging.Init(level, format, os.Stderr)
}

// loadConfig reads the configuration from --config-path and applies its
// logging settings.
func loadConfig() (config.AuthkitConfig, error) {
	cfg, err := config.LoadConfig(rootFlags.ConfigPath)
	if err != nil {
		return cfg, err
	}
	initLogging(cfg.Log)
	return cfg, nil
}

// loadClientConfig is loadConfig for commands that talk to the platform.
func loadClientConfig() (config.AuthkitConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}
	if err := cfg.RequireClient(); err != nil {
		return cfg, fmt.Errorf("incomplete configuration in %s: %w\n\nRun 'authkit config init' to create one", rootFlags.ConfigPath, err)
	}
	return cfg, nil
}

func authConfig(cfg config.AuthkitConfig) auth.Config {
	return auth.Config{
		Domain:      cfg.Domain,
		ClientID:    cfg.ClientID,
		RedirectURI: cfg.RedirectURI,
		Scopes:      cfg.Scopes,
		Storage:     storage.Kind(cfg.Storage),
	}
}

// clientOptions translates the configuration into client options. The
// returned cleanup releases resources the options hold, such as the redis
// connection pool.
func clientOptions(cfg config.AuthkitConfig) ([]auth.Option, func()) {
	opts := []auth.Option{
		auth.WithLogger(logging.Logger("Auth")),
		auth.WithUserAgent("authkit/" + GetVersion()),
		auth.WithExpirySkew(cfg.ExpirySkew.Std()),
	}
	if cfg.KeyPrefix != "" {
		opts = append(opts, auth.WithKeyPrefix(cfg.KeyPrefix))
	}
	if cfg.AutoRefresh > 0 {
		opts = append(opts, auth.WithAutoRefresh(cfg.AutoRefresh.Std()))
	}

	sopts := storage.Options{Logger: logging.Logger("Storage")}
	cleanup := func() {}
	if storage.Kind(cfg.Storage) == storage.KindRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		sopts.Redis = rdb
		cleanup = func() { _ = rdb.Close() }
	}
	opts = append(opts, auth.WithStorageOptions(sopts))

	return opts, cleanup
}

// newClient builds a client for cfg. The returned release function must be
// called once the client is no longer needed.
func newClient(cfg config.AuthkitConfig, extra ...auth.Option) (*auth.Client, func(), error) {
	opts, cleanup := clientOptions(cfg)
	client, err := auth.New(authConfig(cfg), append(opts, extra...)...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return client, func() {
		client.Destroy()
		cleanup()
	}, nil
}

// auditResult records the outcome of a session change.
func auditResult(action string, cfg config.AuthkitConfig, subject string, err error) {
	e := logging.AuditEvent{
		Action:   action,
		Outcome:  "success",
		ClientID: cfg.ClientID,
		Subject:  subject,
	}
	if err != nil {
		e.Outcome = "failure"
		e.Error = err.Error()
	}
	logging.Audit(e)
}

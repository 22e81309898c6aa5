package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/authkit/internal/cli"
	"github.com/giantswarm/authkit/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		cfg   = config.GetDefaultConfig()
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file",
		Long: `Write config.yaml to the configuration directory.

Examples:
  authkit config init --domain https://id.example.com --client-id my-cli
  authkit config init --domain https://id.example.com --client-id my-cli --storage keyring`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(rootFlags.ConfigPath, "config.yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite it", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if err := cfg.RequireClient(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			written, err := config.SaveConfig(rootFlags.ConfigPath, cfg)
			if err != nil {
				return err
			}
			if !rootFlags.Quiet {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Wrote "+written))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.Domain, "domain", "", "Identity platform base URL")
	cmd.Flags().StringVar(&cfg.ClientID, "client-id", "", "OAuth client identifier")
	cmd.Flags().StringVar(&cfg.RedirectURI, "redirect-uri", cfg.RedirectURI, "Loopback redirect URI registered for the client")
	cmd.Flags().StringSliceVar(&cfg.Scopes, "scope", cfg.Scopes, "Scopes to request")
	cmd.Flags().StringVar(&cfg.Storage, "storage", cfg.Storage, "Token storage: persistent, session, memory, keyring or redis")
	cmd.Flags().StringVar(&cfg.Redis.Addr, "redis-addr", "", "Redis address for redis storage")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				var ce *config.ConfigurationError
				if errors.As(err, &ce) {
					return errors.New(ce.DetailedError())
				}
				return err
			}
			printer, err := rootFlags.Output()
			if err != nil {
				return err
			}
			return printer.Print(cmd.OutOrStdout(), newConfigView(cfg), configTable(cfg))
		},
	}
}

// configView is the JSON/YAML form of the configuration. Secrets such as
// the redis password are left out.
type configView struct {
	Domain      string   `json:"domain"`
	ClientID    string   `json:"clientId"`
	RedirectURI string   `json:"redirectUri"`
	Scopes      []string `json:"scopes"`
	Storage     string   `json:"storage"`
	KeyPrefix   string   `json:"keyPrefix,omitempty"`
	ExpirySkew  string   `json:"expirySkew"`
	AutoRefresh string   `json:"autoRefresh,omitempty"`
	RedisAddr   string   `json:"redisAddr,omitempty"`
	ServeAddr   string   `json:"serveAddr"`
	LogLevel    string   `json:"logLevel"`
}

func newConfigView(cfg config.AuthkitConfig) configView {
	v := configView{
		Domain:      cfg.Domain,
		ClientID:    cfg.ClientID,
		RedirectURI: cfg.RedirectURI,
		Scopes:      cfg.Scopes,
		Storage:     cfg.Storage,
		KeyPrefix:   cfg.KeyPrefix,
		ExpirySkew:  cfg.ExpirySkew.Std().String(),
		RedisAddr:   cfg.Redis.Addr,
		ServeAddr:   cfg.Serve.Addr,
		LogLevel:    cfg.Log.Level,
	}
	if cfg.AutoRefresh > 0 {
		v.AutoRefresh = cfg.AutoRefresh.Std().String()
	}
	return v
}

func configTable(cfg config.AuthkitConfig) cli.Table {
	v := newConfigView(cfg)
	rows := [][]string{
		{"domain", v.Domain},
		{"clientId", v.ClientID},
		{"redirectUri", v.RedirectURI},
		{"scopes", strings.Join(v.Scopes, ",")},
		{"storage", v.Storage},
		{"expirySkew", v.ExpirySkew},
		{"serveAddr", v.ServeAddr},
		{"logLevel", v.LogLevel},
	}
	if v.KeyPrefix != "" {
		rows = append(rows, []string{"keyPrefix", v.KeyPrefix})
	}
	if v.AutoRefresh != "" {
		rows = append(rows, []string{"autoRefresh", v.AutoRefresh})
	}
	if v.RedisAddr != "" {
		rows = append(rows, []string{"redisAddr", v.RedisAddr})
	}
	return cli.Table{Headers: []string{"key", "value"}, Rows: rows}
}

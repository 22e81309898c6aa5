package cli

import (
	"github.com/giantswarm/authkit/internal/config"

	"github.com/spf13/cobra"
)

// CommandFlags holds the flag values shared by every authkit command.
type CommandFlags struct {
	// OutputFormat specifies the desired output format (table, json, yaml)
	OutputFormat string
	// NoHeaders suppresses the header row in table output
	NoHeaders bool
	// Quiet suppresses progress indicators and non-essential output
	Quiet bool
	// Debug enables debug logging
	Debug bool
	// ConfigPath specifies a custom configuration directory path
	ConfigPath string
}

// RegisterCommonFlags registers the shared flags as persistent flags of cmd:
//   - --output/-o: Output format (table, json, yaml), default: "table"
//   - --no-headers: Suppress header row in table output
//   - --quiet/-q: Suppress non-essential output
//   - --debug: Enable debug logging
//   - --config-path: Configuration directory
func RegisterCommonFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.PersistentFlags().StringVarP(&flags.OutputFormat, "output", "o", string(OutputFormatTable), "Output format (table, json, yaml)")
	cmd.PersistentFlags().BoolVar(&flags.NoHeaders, "no-headers", false, "Suppress header row in table output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config-path", defaultConfigPath(), "Configuration directory")
}

func defaultConfigPath() string {
	path, err := config.GetDefaultConfigPath()
	if err != nil {
		return ".authkit"
	}
	return path
}

// Output returns a Printer for the selected format.
func (f *CommandFlags) Output() (*Printer, error) {
	if err := ValidateOutputFormat(f.OutputFormat); err != nil {
		return nil, err
	}
	return &Printer{Format: OutputFormat(f.OutputFormat), NoHeaders: f.NoHeaders}, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/authkit/pkg/logging"
)

const (
	userConfigDir  = ".config/authkit"
	configFileName = "config.yaml"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/authkit.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath on top of the defaults and
// validates the result. A missing file yields the defaults, which are not
// validated: commands that talk to the platform validate before use.
func LoadConfig(configPath string) (AuthkitConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		return AuthkitConfig{}, &ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: ErrorTypeIO,
			Message:   "cannot read configuration file",
			Err:       err,
		}
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return AuthkitConfig{}, &ConfigurationError{
			FilePath:    configFilePath,
			ErrorType:   ErrorTypeParse,
			Message:     "malformed YAML",
			LineNumber:  lineNumber(err),
			Suggestions: []string{"Check indentation and quoting", "Durations are strings such as \"10s\""},
			Err:         err,
		}
	}

	if err := config.Validate(); err != nil {
		return AuthkitConfig{}, &ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: ErrorTypeValidation,
			Message:   "invalid configuration",
			Err:       err,
		}
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// SaveConfig writes config to configPath/config.yaml, creating the directory.
func SaveConfig(configPath string, config AuthkitConfig) (string, error) {
	if err := os.MkdirAll(configPath, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(&config)
	if err != nil {
		return "", fmt.Errorf("failed to encode configuration: %w", err)
	}

	configFilePath := filepath.Join(configPath, configFileName)
	if err := os.WriteFile(configFilePath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", configFilePath, err)
	}
	logging.Info("ConfigLoader", "Wrote configuration to %s", configFilePath)
	return configFilePath, nil
}

var lineRe = regexp.MustCompile(`line (\d+)`)

func lineNumber(err error) int {
	m := lineRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

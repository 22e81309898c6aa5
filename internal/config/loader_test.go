package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600))
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.Equal(t, DefaultRedirectURI, cfg.RedirectURI)
	assert.Equal(t, 10*time.Second, cfg.ExpirySkew.Std())
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
domain: https://id.example.com
clientId: my-cli
scopes: [openid, offline_access]
storage: redis
expirySkew: 30s
autoRefresh: 1m
redis:
  addr: localhost:6379
  db: 2
log:
  level: debug
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://id.example.com", cfg.Domain)
	assert.Equal(t, "my-cli", cfg.ClientID)
	assert.Equal(t, []string{"openid", "offline_access"}, cfg.Scopes)
	assert.Equal(t, "redis", cfg.Storage)
	assert.Equal(t, 30*time.Second, cfg.ExpirySkew.Std())
	assert.Equal(t, time.Minute, cfg.AutoRefresh.Std())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset fields keep their defaults.
	assert.Equal(t, DefaultRedirectURI, cfg.RedirectURI)
	assert.Equal(t, DefaultServeAddr, cfg.Serve.Addr)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_Malformed(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "domain: https://id.example.com\nscopes: [openid\n")

	_, err := LoadConfig(dir)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrorTypeParse, cfgErr.ErrorType)
	assert.Equal(t, filepath.Join(dir, configFileName), cfgErr.FilePath)
	assert.NotEmpty(t, cfgErr.Suggestions)
	assert.Contains(t, cfgErr.DetailedError(), "Suggestions:")
}

func TestLoadConfig_BadDuration(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "expirySkew: soon\n")

	_, err := LoadConfig(dir)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrorTypeParse, cfgErr.ErrorType)
	assert.Equal(t, 1, cfgErr.LineNumber)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
domain: id.example.com
storage: floppy
log:
  format: xml
`)

	_, err := LoadConfig(dir)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrorTypeValidation, cfgErr.ErrorType)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 3)
	assert.Contains(t, err.Error(), "field 'domain'")
	assert.Contains(t, err.Error(), "field 'storage'")
	assert.Contains(t, err.Error(), "field 'log.format'")
}

func TestLoadConfig_Unreadable(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be cannot be read as a file.
	require.NoError(t, os.Mkdir(filepath.Join(dir, configFileName), 0700))

	_, err := LoadConfig(dir)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrorTypeIO, cfgErr.ErrorType)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	cfg := GetDefaultConfig()
	cfg.Domain = "https://id.example.com"
	cfg.ClientID = "my-cli"
	cfg.AutoRefresh = Duration(time.Minute)

	path, err := SaveConfig(dir, cfg)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "autoRefresh: 1m0s")

	loaded, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestGetDefaultConfigPath(t *testing.T) {
	original := osUserHomeDir
	defer func() { osUserHomeDir = original }()

	osUserHomeDir = func() (string, error) { return "/home/jane", nil }
	path, err := GetDefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/jane", ".config", "authkit"), path)

	osUserHomeDir = func() (string, error) { return "", errors.New("no home") }
	_, err = GetDefaultConfigPath()
	assert.Error(t, err)
}

func TestRequireClient(t *testing.T) {
	cfg := GetDefaultConfig()
	err := cfg.RequireClient()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "domain") && strings.Contains(err.Error(), "clientId"))

	cfg.Domain = "https://id.example.com"
	cfg.ClientID = "my-cli"
	assert.NoError(t, cfg.RequireClient())
}

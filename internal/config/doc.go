// Package config loads the configuration of the authkit command line tool.
//
// Configuration is read from config.yaml in a single directory, by default
// ~/.config/authkit, or the directory given with --config-path. A missing
// file is not an error; the defaults from GetDefaultConfig apply and
// command line flags override both.
//
// # Example
//
//	domain: https://id.example.com
//	clientId: my-cli
//	redirectUri: http://127.0.0.1:8085/callback
//	scopes: [openid, profile, email, offline_access]
//	storage: keyring
//	expirySkew: 10s
//	autoRefresh: 0s
//	redis:
//	  addr: localhost:6379
//	serve:
//	  addr: 127.0.0.1:8080
//	log:
//	  level: info
//	  format: text
//
// # Errors
//
// Load failures are returned as *ConfigurationError, carrying the file, the
// kind of failure, the YAML line when known and suggestions. Field problems
// are collected into ValidationErrors so that every mistake is reported at
// once.
package config

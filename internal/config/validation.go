package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/authkit/pkg/logging"
	"github.com/giantswarm/authkit/pkg/storage"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...any) {
	var val any
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the fields that can be checked without the platform.
// Domain and clientId are only required once a command needs them, see
// RequireClient.
func (c *AuthkitConfig) Validate() error {
	var errs ValidationErrors

	if c.Domain != "" {
		validateURL(&errs, "domain", c.Domain)
	}
	if c.RedirectURI != "" {
		validateURL(&errs, "redirectUri", c.RedirectURI)
	}
	if c.Storage != "" {
		if _, err := storage.ParseKind(c.Storage); err != nil {
			kinds := make([]string, 0, len(storage.Kinds))
			for _, k := range storage.Kinds {
				kinds = append(kinds, string(k))
			}
			errs.Add("storage", fmt.Sprintf("must be one of: %s", strings.Join(kinds, ", ")), c.Storage)
		}
	}
	if c.Storage == string(storage.KindRedis) && c.Redis.Addr == "" {
		errs.Add("redis.addr", "is required for redis storage")
	}
	if c.ExpirySkew < 0 {
		errs.Add("expirySkew", "must not be negative", c.ExpirySkew.Std())
	}
	if c.AutoRefresh < 0 {
		errs.Add("autoRefresh", "must not be negative", c.AutoRefresh.Std())
	}
	if c.Log.Level != "" {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			errs.Add("log.level", "must be one of: debug, info, warn, error", c.Log.Level)
		}
	}
	if f := c.Log.Format; f != "" && f != string(logging.FormatText) && f != string(logging.FormatJSON) {
		errs.Add("log.format", "must be one of: text, json", f)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// RequireClient reports the fields needed to talk to the platform.
func (c *AuthkitConfig) RequireClient() error {
	var errs ValidationErrors
	if strings.TrimSpace(c.Domain) == "" {
		errs.Add("domain", "is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		errs.Add("clientId", "is required")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateURL(errs *ValidationErrors, field, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add(field, "must be an absolute URL", raw)
	}
}

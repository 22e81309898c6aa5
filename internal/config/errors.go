package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Error types of a ConfigurationError.
const (
	ErrorTypeIO         = "io"
	ErrorTypeParse      = "parse"
	ErrorTypeValidation = "validation"
)

// ConfigurationError represents a structured error that occurs during configuration loading
type ConfigurationError struct {
	FilePath    string   `json:"filePath"`    // Full path to the file that caused the error
	ErrorType   string   `json:"errorType"`   // Type of error (parse, validation, io)
	Message     string   `json:"message"`     // Human-readable error message
	LineNumber  int      `json:"lineNumber"`  // Line number where error occurred (if available)
	Suggestions []string `json:"suggestions"` // Actionable suggestions to fix the error
	Err         error    `json:"-"`
}

// Error implements the error interface
func (ce *ConfigurationError) Error() string {
	msg := fmt.Sprintf("%s: %s", filepath.Base(ce.FilePath), ce.Message)
	if ce.LineNumber > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, ce.LineNumber)
	}
	if ce.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, ce.Err)
	}
	return msg
}

func (ce *ConfigurationError) Unwrap() error {
	return ce.Err
}

// DetailedError returns a detailed error message with all context
func (ce *ConfigurationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Configuration Error in %s", filepath.Base(ce.FilePath)))
	parts = append(parts, fmt.Sprintf("  File: %s", ce.FilePath))
	parts = append(parts, fmt.Sprintf("  Type: %s", ce.ErrorType))

	if ce.LineNumber > 0 {
		parts = append(parts, fmt.Sprintf("  Line: %d", ce.LineNumber))
	}

	parts = append(parts, fmt.Sprintf("  Error: %s", ce.Message))

	if ce.Err != nil {
		parts = append(parts, fmt.Sprintf("  Details: %v", ce.Err))
	}

	if len(ce.Suggestions) > 0 {
		parts = append(parts, "  Suggestions:")
		for _, suggestion := range ce.Suggestions {
			parts = append(parts, fmt.Sprintf("    - %s", suggestion))
		}
	}

	return strings.Join(parts, "\n")
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/logging"
	"github.com/conneroisu/glimpse/internal/ports"
)

// shellMetachars may not appear in a toolchain command; commands are exec'd
// directly, never through a shell.
var shellMetachars = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\n", "\r", "\x00"}

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// Valid reports whether no errors were found.
func (vr *ValidationResult) Valid() bool {
	return len(vr.Errors) == 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title)
		builder.WriteString(":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	write("Validation errors", vr.Errors)
	write("Validation warnings", vr.Warnings)

	return builder.String()
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// validateConfig returns the first validation error as a config error.
func validateConfig(config *Config) error {
	result := ValidateConfigWithDetails(config)
	if result.Valid() {
		return nil
	}
	first := result.Errors[0]
	return errors.NewConfigError(errors.ErrCodeConfigInvalid, first.Error(), nil).
		WithContext("field", first.Field)
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{}

	validateEndpoint("ingress", config.Ingress.Host, config.Ingress.Port, result)
	if config.Ingress.MaxBodyBytes <= 0 {
		result.addError("ingress.max_body_bytes", config.Ingress.MaxBodyBytes, "must be positive")
	}

	validateEndpoint("notifier", config.Notifier.Host, config.Notifier.Port, result)

	validateEndpoint("server", config.Server.Host, config.Server.Port, result)
	validateOrigins(config.Server.AllowedOrigins, result)
	if config.Server.Enabled && config.Server.Port != 0 &&
		config.Server.Port == config.Ingress.Port && config.Server.Host == config.Ingress.Host {
		result.addError("server.port", config.Server.Port, "collides with ingress.port")
	}

	validateRenderConfig(&config.Render, result)
	validatePreambleConfig(&config.Preamble, result)

	if _, err := logging.ParseLevel(config.Log.Level); err != nil {
		result.addError("log.level", config.Log.Level, err.Error())
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		result.addError("log.format", config.Log.Format, "must be text or json")
	}

	return result
}

// validateEndpoint checks a host/port pair. Port 0 is accepted so tests can
// bind an ephemeral port.
func validateEndpoint(section, host string, port int, result *ValidationResult) {
	if port < 0 || port > 65535 {
		result.addError(section+".port", port, fmt.Sprintf("port %d is not in valid range 0-65535", port))
	}
	if !ports.IsLoopback(host) {
		result.addError(section+".host", host, "must be a loopback address",
			fmt.Sprintf("use %s; the editor bridge is local-only", ports.LoopbackHost))
	}
}

func validateOrigins(origins []string, result *ValidationResult) {
	for _, origin := range origins {
		if origin == "*" {
			result.addWarning("server.allowed_origins", origin,
				"wildcard origin lets any page open the event stream")
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result.addError("server.allowed_origins", origin, "must be an absolute origin such as http://localhost:1420")
		}
	}
}

func validateRenderConfig(config *RenderConfig, result *ValidationResult) {
	if config.Workers < 0 {
		result.addError("render.workers", config.Workers, "must not be negative", "use 0 for one worker per CPU")
	}
	if config.Timeout < 0 {
		result.addError("render.timeout", config.Timeout, "must not be negative", "use 0 for no timeout")
	}
	if config.Zoom <= 0 {
		result.addError("render.zoom", config.Zoom, "must be positive")
	}
	if config.CacheSize < 0 {
		result.addError("render.cache_size", config.CacheSize, "must not be negative", "use 0 to disable the cache")
	}
	validateCommand("render.latex_command", config.LatexCommand, result)
	validateCommand("render.dvisvgm_command", config.DvisvgmCommand, result)
}

func validateCommand(field, command string, result *ValidationResult) {
	if strings.TrimSpace(command) == "" {
		result.addError(field, command, "must not be empty")
		return
	}
	for _, char := range shellMetachars {
		if strings.Contains(command, char) {
			result.addError(field, command, fmt.Sprintf("contains shell metacharacter %q", char),
				"give a program name or absolute path; arguments are fixed")
			return
		}
	}
}

func validatePreambleConfig(config *PreambleConfig, result *ValidationResult) {
	if config.Debounce < 0 {
		result.addError("preamble.debounce", config.Debounce, "must not be negative")
	}
	if config.ConfigDir == "" {
		return
	}
	if strings.ContainsRune(config.ConfigDir, 0) {
		result.addError("preamble.config_dir", config.ConfigDir, "contains a NUL byte")
		return
	}
	if info, err := os.Stat(config.ConfigDir); err != nil {
		result.addWarning("preamble.config_dir", config.ConfigDir, "directory does not exist; the default preamble will be used")
	} else if !info.IsDir() {
		result.addError("preamble.config_dir", config.ConfigDir, "is not a directory")
	}
}

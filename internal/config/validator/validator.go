// Package validator provides configuration validation
package validator

import (
	"fmt"
	"net"
	"strings"

	"urlport/internal/config/schema"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string // Field path (e.g., "http.max_redirects")
	Value   string // Current value
	Message string // Error message
	Hint    string // Fix suggestion
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains all validation errors
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid returns true if there are no validation errors
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Error returns a formatted error message
func (r *ValidationResult) Error() string {
	if r.IsValid() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n\n")

	for i, err := range r.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Field))
		if err.Value != "" {
			sb.WriteString(fmt.Sprintf("     Current value: %s\n", err.Value))
		}
		sb.WriteString(fmt.Sprintf("     Error: %s\n", err.Message))
		if err.Hint != "" {
			sb.WriteString(fmt.Sprintf("     Hint: %s\n", err.Hint))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// AddError adds a validation error
func (r *ValidationResult) AddError(field, value, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Hint:    hint,
	})
}

// Validator validates configuration
type Validator struct {
	rules []ValidationRule
}

// ValidationRule is a function that validates configuration
type ValidationRule func(cfg *schema.Root, result *ValidationResult)

// NewValidator creates a new Validator with default rules
func NewValidator() *Validator {
	v := &Validator{
		rules: make([]ValidationRule, 0),
	}

	v.AddRule(validateLog)
	v.AddRule(validateBridge)
	v.AddRule(validateHTTP)
	v.AddRule(validateWebSocket)
	v.AddRule(validateRelay)

	return v
}

// AddRule adds a validation rule
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Validate validates the configuration
func (v *Validator) Validate(cfg *schema.Root) *ValidationResult {
	result := &ValidationResult{
		Errors: make([]ValidationError, 0),
	}

	for _, rule := range v.rules {
		rule(cfg, result)
	}

	return result
}

// ValidateConfig is a convenience function that creates a validator and validates
func ValidateConfig(cfg *schema.Root) *ValidationResult {
	return NewValidator().Validate(cfg)
}

// ============================================================================
// Validation Rules
// ============================================================================

func validateLog(cfg *schema.Root, result *ValidationResult) {
	validateLogLevel("log.level", cfg.Log.Level, result)
	validateLogFormat("log.format", cfg.Log.Format, result)

	switch cfg.Log.Output {
	case "", schema.LogOutputStderr, schema.LogOutputStdout, schema.LogOutputDiscard:
	case schema.LogOutputFile:
		if cfg.Log.File == "" {
			result.AddError("log.file", "",
				"log file path is required when output is file",
				"Set log.file, e.g., logs/urlport.log")
		}
	default:
		result.AddError("log.output", cfg.Log.Output,
			"invalid log output",
			"Use one of: stderr, stdout, file, discard")
	}
}

func validateBridge(cfg *schema.Root, result *ValidationResult) {
	if cfg.Bridge.WaitTimeout < 0 {
		result.AddError("bridge.wait_timeout", cfg.Bridge.WaitTimeout.String(),
			"wait_timeout cannot be negative",
			"Use 0 to wait without a deadline")
	}
	validateNonNegative("bridge.mailbox_warn_depth", cfg.Bridge.MailboxWarnDepth, result)
	validatePositive("bridge.retired_task_cache", cfg.Bridge.RetiredTaskCache, result)
	validatePositive("bridge.settled_decision_cache", cfg.Bridge.SettledDecisionCache, result)
}

func validateHTTP(cfg *schema.Root, result *ValidationResult) {
	validateNonNegative("http.max_redirects", cfg.HTTP.MaxRedirects, result)
	validatePositive("http.read_chunk_size", cfg.HTTP.ReadChunkSize, result)
	validateNonNegative("http.max_idle_conns", cfg.HTTP.MaxIdleConns, result)
	if cfg.HTTP.Timeout < 0 {
		result.AddError("http.timeout", cfg.HTTP.Timeout.String(),
			"timeout cannot be negative",
			"Use 0 to disable the request timeout")
	}
}

func validateWebSocket(cfg *schema.Root, result *ValidationResult) {
	validateNonNegative("websocket.read_buffer_size", cfg.WebSocket.ReadBufferSize, result)
	validateNonNegative("websocket.write_buffer_size", cfg.WebSocket.WriteBufferSize, result)
	if cfg.WebSocket.HandshakeTimeout < 0 {
		result.AddError("websocket.handshake_timeout", cfg.WebSocket.HandshakeTimeout.String(),
			"handshake_timeout cannot be negative",
			"Use a value like 30s")
	}
}

func validateRelay(cfg *schema.Root, result *ValidationResult) {
	if cfg.Relay.Listen != "" {
		validateListenAddress("relay.listen", cfg.Relay.Listen, result)
	}
	if cfg.Relay.Path != "" && !strings.HasPrefix(cfg.Relay.Path, "/") {
		result.AddError("relay.path", cfg.Relay.Path,
			"path must start with /",
			"Use a path like /_urlport")
	}
}

// ============================================================================
// Helpers
// ============================================================================

func validatePositive(field string, v int, result *ValidationResult) {
	if v <= 0 {
		result.AddError(field, fmt.Sprintf("%d", v),
			"value must be positive",
			"Set a value > 0")
	}
}

func validateNonNegative(field string, v int, result *ValidationResult) {
	if v < 0 {
		result.AddError(field, fmt.Sprintf("%d", v),
			"value cannot be negative",
			"Set a value >= 0")
	}
}

func validateListenAddress(field, addr string, result *ValidationResult) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		result.AddError(field, addr,
			"invalid listen address",
			"Use host:port, e.g., 127.0.0.1:7780")
		return
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		result.AddError(field, addr,
			"invalid host address",
			"Use a valid IP address, localhost or an empty host")
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		result.AddError(field, addr,
			"invalid port",
			"Use a valid port number, e.g., 7780")
	}
}

func validateLogLevel(field, level string, result *ValidationResult) {
	validLevels := map[string]bool{
		schema.LogLevelDebug: true,
		schema.LogLevelInfo:  true,
		schema.LogLevelWarn:  true,
		schema.LogLevelError: true,
	}
	if !validLevels[level] && level != "" {
		result.AddError(field,
			level,
			"invalid log level",
			"Use one of: debug, info, warn, error")
	}
}

func validateLogFormat(field, format string, result *ValidationResult) {
	validFormats := map[string]bool{
		schema.LogFormatText: true,
		schema.LogFormatJSON: true,
	}
	if !validFormats[format] && format != "" {
		result.AddError(field,
			format,
			"invalid log format",
			"Use one of: text, json")
	}
}

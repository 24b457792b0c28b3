package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "policy.max_read_bytes")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePolicy()...)
	errors = append(errors, c.validateRuntime()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validatePolicy validates the PolicyConfig
func (c *Config) validatePolicy() []ValidationError {
	var errors []ValidationError

	// All byte caps must be positive, with a shared sanity ceiling
	const maxByteCap = 100_000_000 // 100MB
	byteCaps := []struct {
		field string
		value int
	}{
		{"policy.max_read_bytes", c.Policy.MaxReadBytes},
		{"policy.max_write_bytes", c.Policy.MaxWriteBytes},
		{"policy.max_web_bytes", c.Policy.MaxWebBytes},
	}
	for _, cap := range byteCaps {
		if cap.value <= 0 {
			errors = append(errors, ValidationError{
				Field:   cap.field,
				Value:   cap.value,
				Message: "must be positive",
			})
		}
		if cap.value > maxByteCap {
			errors = append(errors, ValidationError{
				Field:   cap.field,
				Value:   cap.value,
				Message: fmt.Sprintf("exceeds maximum of %d bytes (100MB)", maxByteCap),
			})
		}
	}

	if c.Policy.MaxQueryChars <= 0 {
		errors = append(errors, ValidationError{
			Field:   "policy.max_query_chars",
			Value:   c.Policy.MaxQueryChars,
			Message: "must be positive",
		})
	}

	if c.Policy.CheckpointEveryWrites < 0 {
		errors = append(errors, ValidationError{
			Field:   "policy.checkpoint_every_writes",
			Value:   c.Policy.CheckpointEveryWrites,
			Message: "must be non-negative (0 disables auto-checkpoints)",
		})
	}

	if c.Policy.OCRMode != "" && !IsValidOCRMode(c.Policy.OCRMode) {
		errors = append(errors, ValidationError{
			Field:   "policy.ocr_mode",
			Value:   c.Policy.OCRMode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidOCRModes(), ", ")),
		})
	}

	// Allowlist entries are bare hostnames, not URLs or patterns
	for i, entry := range c.Policy.WebAllowlist {
		fieldName := fmt.Sprintf("policy.web_allowlist[%d]", i)
		if strings.TrimSpace(entry) == "" {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   entry,
				Message: "hostname cannot be empty",
			})
			continue
		}
		if strings.Contains(entry, "://") || strings.Contains(entry, "/") {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   entry,
				Message: "must be a bare hostname like 'example.com', not a URL",
			})
		}
		if strings.ContainsAny(entry, "*?[ ") {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   entry,
				Message: "wildcards are not supported; an entry already matches its subdomains",
			})
		}
	}

	for i, path := range c.Policy.AllowedPaths {
		if strings.TrimSpace(path) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("policy.allowed_paths[%d]", i),
				Value:   path,
				Message: "path cannot be empty",
			})
		}
	}

	return errors
}

// validateRuntime validates the RuntimeConfig
func (c *Config) validateRuntime() []ValidationError {
	var errors []ValidationError

	const minWorkers = 1
	const maxWorkers = 32

	if c.Runtime.Workers < minWorkers {
		errors = append(errors, ValidationError{
			Field:   "runtime.workers",
			Value:   c.Runtime.Workers,
			Message: fmt.Sprintf("must be at least %d", minWorkers),
		})
	}
	if c.Runtime.Workers > maxWorkers {
		errors = append(errors, ValidationError{
			Field:   "runtime.workers",
			Value:   c.Runtime.Workers,
			Message: fmt.Sprintf("exceeds maximum of %d", maxWorkers),
		})
	}

	if c.Runtime.PollSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "runtime.poll_seconds",
			Value:   c.Runtime.PollSeconds,
			Message: "must be positive",
		})
	}

	if c.Runtime.StateDir != "" {
		path := c.Runtime.StateDir

		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   "runtime.state_dir",
				Value:   path,
				Message: "path contains invalid null character",
			})
		}

		// Reasonable path length limit (most filesystems have limits around 4096)
		const maxPathLength = 4096
		if len(path) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   "runtime.state_dir",
				Value:   path,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

package experiments

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid experiment definition. It is fatal
// to queue construction: no partial queue is produced.
type ConfigurationError struct {
	// Variation names the offending variation, if any.
	Variation string

	// Field is the definition field that failed validation.
	Field string

	// Reason is a human-readable explanation.
	Reason string

	// Cause is the underlying error (schema or decode failure).
	Cause error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	var parts []string
	if e.Variation != "" {
		parts = append(parts, fmt.Sprintf("variation %q", e.Variation))
	}
	if e.Field != "" {
		parts = append(parts, e.Field)
	}
	reason := e.Reason
	if reason == "" && e.Cause != nil {
		reason = e.Cause.Error()
	}
	if reason == "" {
		reason = "invalid"
	}
	if len(parts) == 0 {
		return "experiment configuration: " + reason
	}
	return fmt.Sprintf("experiment configuration: %s: %s", strings.Join(parts, " "), reason)
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

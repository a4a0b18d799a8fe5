// Package validation checks names and identities that arrive from a host
// before they are used as knowledge-base keys.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperengineering/paramlore/internal/types"
)

// Length limits for host-supplied strings.
const (
	MaxNameLength = 256
	MaxPathLength = 4096
)

// ErrInvalid is wrapped by every error returned from Collector.Err.
var ErrInvalid = errors.New("validation failed")

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// Err joins the accumulated errors, or returns nil.
func (c *Collector) Err() error {
	if !c.HasErrors() {
		return nil
	}
	msgs := make([]string, len(c.errors))
	for i, e := range c.errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	return nil
}

// ValidateNoControl returns an error if the value contains control
// characters, including null bytes.
func ValidateNoControl(field, value string) *ValidationError {
	if strings.IndexFunc(value, unicode.IsControl) >= 0 {
		return &ValidationError{Field: field, Message: "must not contain control characters"}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateParameterName returns the first problem with a parameter name.
func ValidateParameterName(field, name string) *ValidationError {
	for _, check := range []*ValidationError{
		ValidateRequired(field, name),
		ValidateUTF8(field, name),
		ValidateNoControl(field, name),
		ValidateMaxLength(field, name, MaxNameLength),
	} {
		if check != nil {
			return check
		}
	}
	return nil
}

// ValidatePluginIdentity checks the name and optional path of a plugin.
func ValidatePluginIdentity(id types.PluginIdentity) error {
	var c Collector
	c.Add(ValidateParameterName("plugin_name", id.Name))
	if id.Path != "" {
		c.Add(ValidateUTF8("plugin_path", id.Path))
		c.Add(ValidateNoControl("plugin_path", id.Path))
		c.Add(ValidateMaxLength("plugin_path", id.Path, MaxPathLength))
	}
	return c.Err()
}

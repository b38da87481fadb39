package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers tollgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// audit_sink: validates "stdout", "file://<abs-path>", or "sqlite://<abs-path>"
	if err := v.RegisterValidation("audit_sink", validateAuditSink); err != nil {
		return fmt.Errorf("failed to register audit_sink validator: %w", err)
	}
	return nil
}

// validateAuditSink validates the audit output field.
// Valid values: "stdout", "file://<absolute-path>", "sqlite://<absolute-path>"
func validateAuditSink(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	if output == "stdout" {
		return true
	}

	for _, scheme := range []string{"file://", "sqlite://"} {
		if strings.HasPrefix(output, scheme) {
			path := strings.TrimPrefix(output, scheme)
			return path != "" && filepath.IsAbs(path)
		}
	}

	return false
}

// Validate validates the Config using struct tags and custom rules.
// Returns an error with actionable messages if validation fails.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if c.Audit.FlushInterval < 0 {
		return errors.New("audit.flush_interval: must not be negative")
	}

	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError renders one field error with its fix.
func formatSingleValidationError(e validator.FieldError) string {
	field := strings.ToLower(e.Namespace())
	field = strings.TrimPrefix(field, "config.")

	switch e.Tag() {
	case "audit_sink":
		return fmt.Sprintf("%s: must be \"stdout\", \"file://<absolute-path>\", or \"sqlite://<absolute-path>\", got %q", field, e.Value())
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s], got %q", field, e.Param(), e.Value())
	case "min":
		return fmt.Sprintf("%s: must be at least %s, got %v", field, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s: must be at most %s, got %v", field, e.Param(), e.Value())
	}
	return fmt.Sprintf("%s: failed %s validation", field, e.Tag())
}

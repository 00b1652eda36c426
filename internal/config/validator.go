package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers aegis-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// audit_output: validates "stdout", "file://<absolute-dir>", or
	// "sqlite://<path>"
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	// clockwindow: validates "HH:MM" on a 24h clock
	if err := v.RegisterValidation("clockwindow", validateClockWindow); err != nil {
		return fmt.Errorf("failed to register clockwindow validator: %w", err)
	}
	// duration: validates Go duration strings like "30m" or "100ms"
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateAuditOutput validates the audit output field.
// Valid values: "stdout", "file://<absolute-dir>", "sqlite://<path>"
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	// "stdout" is always valid
	if output == AuditOutputStdout {
		return true
	}

	// "file://<dir>" requires an absolute directory path
	if strings.HasPrefix(output, "file://") {
		path := strings.TrimPrefix(output, "file://")
		return path != "" && filepath.IsAbs(path)
	}

	// "sqlite://<path>" accepts any non-empty path; relative paths are
	// resolved against the working directory at open time.
	if strings.HasPrefix(output, "sqlite://") {
		return strings.TrimPrefix(output, "sqlite://") != ""
	}

	return false
}

// validateClockWindow validates an "HH:MM" time-of-day bound.
// The policy engine only checks the two-part numeric form; range
// enforcement is this layer's contract.
func validateClockWindow(fl validator.FieldLevel) bool {
	return validClock(fl.Field().String())
}

// validClock reports whether s is a valid "HH:MM" 24h clock time.
func validClock(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return false
	}
	return true
}

// validateDuration validates a Go duration string.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// Validate validates the Config using struct tags and custom cross-field
// rules. Returns an error if validation fails, with actionable error
// messages.
func (c *Config) Validate() error {
	// Create validator with required struct enabled
	v := validator.New(validator.WithRequiredStructEnabled())

	// Register custom validators
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: agent IDs must be unique
	if err := c.validateAgentIDs(); err != nil {
		return err
	}

	// Cross-field validation: key reference integrity
	if err := c.validateKeyReferences(); err != nil {
		return err
	}

	// Cross-field validation: wallet limit ordering
	if err := c.validateWalletLimits(); err != nil {
		return err
	}

	return nil
}

// validateAgentIDs ensures no agent ID is declared twice.
func (c *Config) validateAgentIDs() error {
	seen := make(map[string]struct{}, len(c.Agents))
	for i, agent := range c.Agents {
		if _, dup := seen[agent.ID]; dup {
			return fmt.Errorf("agents[%d]: duplicate agent id: %s", i, agent.ID)
		}
		seen[agent.ID] = struct{}{}
	}
	return nil
}

// validateKeyReferences ensures all API key agent_id values reference
// configured agents, and that require_key has keys to check against.
func (c *Config) validateKeyReferences() error {
	if c.Auth.RequireKey && len(c.Auth.Keys) == 0 {
		return errors.New("auth: require_key is set but no keys are configured")
	}

	// Build map of known agent IDs
	knownAgents := make(map[string]struct{}, len(c.Agents))
	for _, agent := range c.Agents {
		knownAgents[agent.ID] = struct{}{}
	}

	// Check each key references a known agent
	for i, key := range c.Auth.Keys {
		if _, exists := knownAgents[key.AgentID]; !exists {
			return fmt.Errorf("auth.keys[%d]: references unknown agent_id: %s", i, key.AgentID)
		}
	}

	return nil
}

// validateWalletLimits ensures daily limits never exceed monthly limits.
func (c *Config) validateWalletLimits() error {
	for i, agent := range c.Agents {
		w := agent.Wallet
		if w.MonthlyLimit > 0 && w.DailyLimit > w.MonthlyLimit {
			return fmt.Errorf("agents[%d].wallet: daily_limit %.2f exceeds monthly_limit %.2f",
				i, w.DailyLimit, w.MonthlyLimit)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a
// single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'file://<absolute-dir>', or 'sqlite://<path>'", field)
	case "clockwindow":
		return fmt.Sprintf("%s must be a 24h clock time like \"09:30\"", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration like \"30s\" or \"5m\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

package validation

import (
	"regexp"
	"strings"
)

// Size limits for sanitization.
const (
	// MaxStringLength is the maximum length of any string value (1MB).
	// Strings longer than this are truncated to prevent memory exhaustion.
	MaxStringLength = 1048576

	// MaxNameLength is the maximum length of an identifier field.
	MaxNameLength = 255
)

// namePattern validates identifier fields such as agent IDs, action names,
// and service names. Identifiers must start with a letter and contain only
// alphanumeric characters, underscores, and hyphens. This prevents injection
// attacks via identifier fields.
var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Sanitizer provides input sanitization for action requests.
// It validates identifier fields and recursively sanitizes string values
// to prevent injection attacks and policy bypass attempts.
type Sanitizer struct {
	// Stateless - regex is package-level
}

// NewSanitizer creates a new Sanitizer instance.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// ValidateName validates an identifier field against injection patterns.
// It returns a ValidationError naming the field if the value is invalid.
//
// Valid identifiers:
//   - Start with a letter
//   - Contain only alphanumeric characters, underscores, and hyphens
//   - Are at most MaxNameLength characters
//   - Do not contain path traversal sequences
func (s *Sanitizer) ValidateName(field, name string) error {
	if name == "" {
		return NewValidationError(field, "required")
	}

	if len(name) > MaxNameLength {
		return NewValidationError(field, "too long")
	}

	// Path traversal check (before pattern match for clearer error)
	if strings.Contains(name, "..") || strings.Contains(name, "/") {
		return NewValidationError(field, "invalid characters")
	}

	if !namePattern.MatchString(name) {
		return NewValidationError(field, "invalid format")
	}

	return nil
}

// ValidateActionFields checks the identifier fields every action request
// carries.
func (s *Sanitizer) ValidateActionFields(agentID, action, service string) error {
	if err := s.ValidateName("agent_id", agentID); err != nil {
		return err
	}
	if err := s.ValidateName("action", action); err != nil {
		return err
	}
	return s.ValidateName("service", service)
}

// SanitizeValue recursively sanitizes a value.
// For strings, it removes null bytes and truncates at MaxStringLength.
// For maps and slices, it recurses into each element.
// For other types (numbers, booleans, nil), it returns them unchanged.
func (s *Sanitizer) SanitizeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return s.sanitizeString(val), nil

	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, v := range val {
			sanitized, err := s.SanitizeValue(v)
			if err != nil {
				return nil, err
			}
			result[k] = sanitized
		}
		return result, nil

	case []interface{}:
		result := make([]interface{}, len(val))
		for i, v := range val {
			sanitized, err := s.SanitizeValue(v)
			if err != nil {
				return nil, err
			}
			result[i] = sanitized
		}
		return result, nil

	default:
		// Numbers, booleans, nil pass through unchanged
		return v, nil
	}
}

// SanitizeParams sanitizes action parameters, returning a new map.
func (s *Sanitizer) SanitizeParams(params map[string]interface{}) (map[string]interface{}, error) {
	if params == nil {
		return nil, nil
	}
	sanitized, err := s.SanitizeValue(params)
	if err != nil {
		return nil, err
	}
	return sanitized.(map[string]interface{}), nil
}

// sanitizeString removes null bytes and truncates oversized strings.
func (s *Sanitizer) sanitizeString(str string) string {
	str = strings.ReplaceAll(str, "\x00", "")

	if len(str) > MaxStringLength {
		str = str[:MaxStringLength]
	}

	return str
}

package validation

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	s := NewSanitizer()

	valid := []string{
		"read",
		"agent-1",
		"fin-bot",
		"Deploy_Staging",
		"a",
		"x" + strings.Repeat("y", MaxNameLength-1),
	}
	for _, name := range valid {
		if err := s.ValidateName("action", name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []struct {
		name    string
		value   string
		message string
	}{
		{"empty", "", "required"},
		{"too long", "a" + strings.Repeat("b", MaxNameLength), "too long"},
		{"path traversal", "../etc/passwd", "invalid characters"},
		{"slash", "tools/call", "invalid characters"},
		{"leading digit", "1read", "invalid format"},
		{"leading hyphen", "-read", "invalid format"},
		{"leading underscore", "_read", "invalid format"},
		{"space", "read write", "invalid format"},
		{"shell metachars", "read;rm", "invalid format"},
		{"unicode", "rëad", "invalid format"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			err := s.ValidateName("action", tc.value)
			if err == nil {
				t.Fatalf("ValidateName(%q) = nil, want error", tc.value)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != "action" {
				t.Errorf("Field = %q, want action", verr.Field)
			}
			if verr.Message != tc.message {
				t.Errorf("Message = %q, want %q", verr.Message, tc.message)
			}
		})
	}
}

func TestValidateActionFields(t *testing.T) {
	s := NewSanitizer()

	if err := s.ValidateActionFields("fin-bot", "read", "github"); err != nil {
		t.Errorf("expected valid fields, got %v", err)
	}

	tests := []struct {
		name      string
		agentID   string
		action    string
		service   string
		wantField string
	}{
		{"bad agent", "", "read", "github", "agent_id"},
		{"bad action", "fin-bot", "../read", "github", "action"},
		{"bad service", "fin-bot", "read", "", "service"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := s.ValidateActionFields(tc.agentID, tc.action, tc.service)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tc.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tc.wantField)
			}
		})
	}
}

func TestSanitizeValueStrings(t *testing.T) {
	s := NewSanitizer()

	got, err := s.SanitizeValue("hello\x00world")
	if err != nil {
		t.Fatalf("SanitizeValue failed: %v", err)
	}
	if got != "helloworld" {
		t.Errorf("expected null bytes removed, got %q", got)
	}

	long := strings.Repeat("a", MaxStringLength+100)
	got, err = s.SanitizeValue(long)
	if err != nil {
		t.Fatalf("SanitizeValue failed: %v", err)
	}
	if len(got.(string)) != MaxStringLength {
		t.Errorf("expected truncation to %d, got %d", MaxStringLength, len(got.(string)))
	}
}

func TestSanitizeValueRecursion(t *testing.T) {
	s := NewSanitizer()

	in := map[string]interface{}{
		"note":  "a\x00b",
		"count": 3,
		"flags": []interface{}{"x\x00", true, nil},
		"nested": map[string]interface{}{
			"inner": "c\x00d",
		},
	}

	got, err := s.SanitizeValue(in)
	if err != nil {
		t.Fatalf("SanitizeValue failed: %v", err)
	}

	want := map[string]interface{}{
		"note":  "ab",
		"count": 3,
		"flags": []interface{}{"x", true, nil},
		"nested": map[string]interface{}{
			"inner": "cd",
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SanitizeValue = %#v, want %#v", got, want)
	}

	// The input map is not modified.
	if in["note"] != "a\x00b" {
		t.Error("expected input left untouched")
	}
}

func TestSanitizeValuePassthrough(t *testing.T) {
	s := NewSanitizer()

	for _, v := range []interface{}{42, 1.5, true, nil} {
		got, err := s.SanitizeValue(v)
		if err != nil {
			t.Fatalf("SanitizeValue(%v) failed: %v", v, err)
		}
		if got != v {
			t.Errorf("SanitizeValue(%v) = %v", v, got)
		}
	}
}

func TestSanitizeParamsNil(t *testing.T) {
	s := NewSanitizer()

	got, err := s.SanitizeParams(nil)
	if err != nil {
		t.Fatalf("SanitizeParams failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil params preserved, got %v", got)
	}
}

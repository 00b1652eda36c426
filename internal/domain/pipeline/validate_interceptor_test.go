package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/fe-row/AEGIS/internal/domain/validation"
)

func TestValidateInterceptorCleanRequest(t *testing.T) {
	rec := &recordingInterceptor{}
	v := NewValidateInterceptor(validation.NewSanitizer(), rec, testLogger())

	req := emailRequest()
	req.Prompt = "send the\x00 weekly report"
	req.Params = map[string]interface{}{
		"to":    "ops@example.com\x00",
		"count": 3,
	}
	st := NewState(req, testNow())

	if err := v.Intercept(context.Background(), st); err != nil {
		t.Fatalf("Intercept returned error: %v", err)
	}
	if !rec.called {
		t.Fatal("next interceptor not called")
	}
	if _, err := uuid.Parse(req.ID); err != nil {
		t.Errorf("assigned request ID %q is not a UUID: %v", req.ID, err)
	}
	if req.Prompt != "send the weekly report" {
		t.Errorf("prompt = %q, want null bytes stripped", req.Prompt)
	}
	if req.Params["to"] != "ops@example.com" {
		t.Errorf("params[to] = %q, want null bytes stripped", req.Params["to"])
	}
	if req.Params["count"] != 3 {
		t.Errorf("params[count] = %v, want non-strings untouched", req.Params["count"])
	}
	if st.Stage != StageValidate {
		t.Errorf("stage = %q, want validate", st.Stage)
	}
}

func TestValidateInterceptorKeepsCallerID(t *testing.T) {
	rec := &recordingInterceptor{}
	v := NewValidateInterceptor(validation.NewSanitizer(), rec, testLogger())

	req := emailRequest()
	req.ID = "caller-supplied"
	st := NewState(req, testNow())

	if err := v.Intercept(context.Background(), st); err != nil {
		t.Fatalf("Intercept returned error: %v", err)
	}
	if req.ID != "caller-supplied" {
		t.Errorf("request ID = %q, want the caller's ID preserved", req.ID)
	}
}

func TestValidateInterceptorRejectsBadIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ActionRequest)
		field   string
		message string
	}{
		{
			name:    "missing agent id",
			mutate:  func(r *ActionRequest) { r.AgentID = "" },
			field:   "agent_id",
			message: "required",
		},
		{
			name:    "path traversal in action",
			mutate:  func(r *ActionRequest) { r.Action = "../../etc/passwd" },
			field:   "action",
			message: "invalid characters",
		},
		{
			name:    "slash in service",
			mutate:  func(r *ActionRequest) { r.Service = "email/v1" },
			field:   "service",
			message: "invalid characters",
		},
		{
			name:    "leading digit",
			mutate:  func(r *ActionRequest) { r.AgentID = "1agent" },
			field:   "agent_id",
			message: "invalid format",
		},
		{
			name:    "oversized name",
			mutate:  func(r *ActionRequest) { r.Action = "a" + strings.Repeat("b", validation.MaxNameLength) },
			field:   "action",
			message: "too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingInterceptor{}
			v := NewValidateInterceptor(validation.NewSanitizer(), rec, testLogger())

			req := emailRequest()
			tt.mutate(req)

			err := v.Intercept(context.Background(), NewState(req, testNow()))
			var verr *validation.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
			if verr.Message != tt.message {
				t.Errorf("message = %q, want %q", verr.Message, tt.message)
			}
			if rec.called {
				t.Error("next interceptor called after a contract violation")
			}
		})
	}
}

package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fe-row/AEGIS/internal/domain/policy"
	"github.com/fe-row/AEGIS/internal/domain/risk"
)

// fakePermissionSource serves grants keyed by "agentID/service".
type fakePermissionSource struct {
	grants map[string]policy.Permission
}

func (f *fakePermissionSource) Lookup(_ context.Context, agentID, service string) (policy.Permission, bool) {
	p, ok := f.grants[agentID+"/"+service]
	return p, ok
}

func emailGrant() policy.Permission {
	return policy.Permission{
		Service:        "email",
		AllowedActions: []string{"send_email", "read_inbox"},
		Active:         true,
	}
}

func TestPermissionInterceptorResolvesGrant(t *testing.T) {
	source := &fakePermissionSource{grants: map[string]policy.Permission{
		"agent-1/email": emailGrant(),
	}}
	rec := &recordingInterceptor{}
	p := NewPermissionInterceptor(source, rec, testLogger())

	st := NewState(emailRequest(), testNow())
	if err := p.Intercept(context.Background(), st); err != nil {
		t.Fatalf("Intercept returned error: %v", err)
	}
	if !rec.called {
		t.Fatal("next interceptor not called")
	}
	if st.Permission == nil || st.Permission.Service != "email" {
		t.Errorf("permission = %+v, want the email grant", st.Permission)
	}
	if st.Risk != risk.LevelHigh {
		t.Errorf("risk = %s, want HIGH for send_email", st.Risk)
	}
	if st.Stage != StagePermission {
		t.Errorf("stage = %q, want permission", st.Stage)
	}
}

func TestPermissionInterceptorMissingGrant(t *testing.T) {
	source := &fakePermissionSource{grants: map[string]policy.Permission{}}
	rec := &recordingInterceptor{}
	p := NewPermissionInterceptor(source, rec, testLogger())

	err := p.Intercept(context.Background(), NewState(emailRequest(), testNow()))
	if !errors.Is(err, ErrNoPermission) {
		t.Fatalf("err = %v, want ErrNoPermission", err)
	}
	if !strings.Contains(err.Error(), "No permission for service: email") {
		t.Errorf("err = %v, want the service named", err)
	}
	if rec.called {
		t.Error("next interceptor called without a grant")
	}
}

func TestPermissionInterceptorClampsRecords(t *testing.T) {
	tests := []struct {
		name      string
		cap       int
		requested int
		want      int
	}{
		{name: "over the cap", cap: 10, requested: 500, want: 10},
		{name: "under the cap", cap: 10, requested: 5, want: 5},
		{name: "uncapped grant", cap: 0, requested: 500, want: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant := emailGrant()
			grant.MaxRecordsPerRequest = tt.cap
			source := &fakePermissionSource{grants: map[string]policy.Permission{
				"agent-1/email": grant,
			}}
			p := NewPermissionInterceptor(source, &recordingInterceptor{}, testLogger())

			req := emailRequest()
			req.Records = tt.requested
			if err := p.Intercept(context.Background(), NewState(req, testNow())); err != nil {
				t.Fatalf("Intercept returned error: %v", err)
			}
			if req.Records != tt.want {
				t.Errorf("records = %d, want %d", req.Records, tt.want)
			}
		})
	}
}

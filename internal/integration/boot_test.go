// Package integration exercises the engine end to end through the
// embedding facade: configuration files, permission packs, the full
// authorization pipeline, and the durable audit backends.
package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/fe-row/AEGIS/internal/domain/identity"
	"github.com/fe-row/AEGIS/pkg/aegis"
)

// testLogger returns a logger that discards everything (quiet tests).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFile writes content to name under a fresh temp dir and returns
// the full path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// TestBootFromConfigFile verifies that a Guard booted from a YAML file
// seeds its agents and grants from that file: the granted action is
// allowed, everything else is denied.
func TestBootFromConfigFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfgPath := writeFile(t, "aegis.yaml", `
server:
  log_level: error
agents:
  - id: research-bot
    name: Research Bot
    type: assistant
    wallet:
      balance: 100
      daily_limit: 50
    permissions:
      - service: email
        allowed_actions: [send_email]
        max_requests_per_hour: 100
        time_window_start: "00:00"
        time_window_end: "23:59"
`)

	g, err := aegis.New(aegis.WithConfigFile(cfgPath), aegis.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	verdict, err := g.Authorize(context.Background(), &aegis.Request{
		AgentID:       "research-bot",
		Service:       "email",
		Action:        "send_email",
		EstimatedCost: 1.0,
	})
	if err != nil {
		t.Fatalf("Authorize granted action: %v", err)
	}
	if verdict.Outcome != aegis.OutcomeAllowed {
		t.Errorf("granted action outcome = %s, want allowed", verdict.Outcome)
	}

	verdict, err = g.Authorize(context.Background(), &aegis.Request{
		AgentID: "research-bot",
		Service: "email",
		Action:  "delete_mailbox",
	})
	if err == nil {
		t.Fatal("expected an error for an ungranted action")
	}
	if verdict.Outcome != aegis.OutcomeDenied {
		t.Errorf("ungranted action outcome = %s, want denied", verdict.Outcome)
	}

	verdict, err = g.Authorize(context.Background(), &aegis.Request{
		AgentID: "unknown-bot",
		Service: "email",
		Action:  "send_email",
	})
	if err == nil {
		t.Fatal("expected an error for an unknown agent")
	}
	if verdict.Outcome != aegis.OutcomeDenied {
		t.Errorf("unknown agent outcome = %s, want denied", verdict.Outcome)
	}
}

// TestBootWithPermissionPack verifies that pack grants layer over the
// configuration grants: the agent ends up with both.
func TestBootWithPermissionPack(t *testing.T) {
	defer goleak.VerifyNone(t)

	packPath := writeFile(t, "pack.yaml", `
version: 1
grants:
  - agent_id: agent-1
    service: calendar
    allowed_actions: [create_event]
    time_window_start: "00:00"
    time_window_end: "23:59"
`)

	pack, err := aegis.LoadPermissionPack(packPath)
	if err != nil {
		t.Fatalf("LoadPermissionPack: %v", err)
	}

	cfg := &aegis.Config{
		Agents: []aegis.AgentConfig{{
			ID:     "agent-1",
			Name:   "research-bot",
			Wallet: aegis.WalletConfig{Balance: 100},
			Permissions: []aegis.PermissionConfig{{
				Service:         "email",
				AllowedActions:  []string{"send_email"},
				TimeWindowStart: "00:00",
				TimeWindowEnd:   "23:59",
			}},
		}},
	}

	g, err := aegis.New(
		aegis.WithConfig(cfg),
		aegis.WithPermissionPack(pack),
		aegis.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	for _, req := range []*aegis.Request{
		{AgentID: "agent-1", Service: "email", Action: "send_email"},
		{AgentID: "agent-1", Service: "calendar", Action: "create_event"},
	} {
		verdict, err := g.Authorize(context.Background(), req)
		if err != nil {
			t.Fatalf("Authorize %s/%s: %v", req.Service, req.Action, err)
		}
		if verdict.Outcome != aegis.OutcomeAllowed {
			t.Errorf("%s/%s outcome = %s, want allowed", req.Service, req.Action, verdict.Outcome)
		}
	}
}

// TestBootPackUnknownAgent verifies that a pack granting to an agent the
// configuration does not define is a boot error, not a silent no-op.
func TestBootPackUnknownAgent(t *testing.T) {
	defer goleak.VerifyNone(t)

	packPath := writeFile(t, "pack.yaml", `
grants:
  - agent_id: nobody
    service: email
    allowed_actions: [send_email]
    time_window_start: "00:00"
    time_window_end: "23:59"
`)

	pack, err := aegis.LoadPermissionPack(packPath)
	if err != nil {
		t.Fatalf("LoadPermissionPack: %v", err)
	}

	cfg := &aegis.Config{
		Agents: []aegis.AgentConfig{{ID: "agent-1", Name: "research-bot"}},
	}

	_, err = aegis.New(
		aegis.WithConfig(cfg),
		aegis.WithPermissionPack(pack),
		aegis.WithLogger(testLogger()),
	)
	if err == nil || !strings.Contains(err.Error(), "unknown agent") {
		t.Fatalf("New = %v, want unknown agent boot error", err)
	}
}

// TestBootRejectsBadGrant verifies that a malformed time window is
// caught at boot, before the Guard accepts traffic.
func TestBootRejectsBadGrant(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := &aegis.Config{
		Agents: []aegis.AgentConfig{{
			ID:   "agent-1",
			Name: "research-bot",
			Permissions: []aegis.PermissionConfig{{
				Service:         "email",
				AllowedActions:  []string{"send_email"},
				TimeWindowStart: "25:00",
				TimeWindowEnd:   "17:00",
			}},
		}},
	}

	if _, err := aegis.New(aegis.WithConfig(cfg), aegis.WithLogger(testLogger())); err == nil {
		t.Fatal("expected a boot error for a malformed time window")
	}
}

// TestBootKeyAuthentication verifies the API key path end to end: a
// hashed key in the configuration authenticates the holder, and
// require_key turns everyone else away.
func TestBootKeyAuthentication(t *testing.T) {
	defer goleak.VerifyNone(t)

	rawKey, err := identity.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	hash, err := identity.HashKeyArgon2id(rawKey)
	if err != nil {
		t.Fatalf("HashKeyArgon2id: %v", err)
	}

	cfg := &aegis.Config{
		Auth: aegis.AuthConfig{
			RequireKey: true,
			Keys:       []aegis.KeyConfig{{AgentID: "agent-1", KeyHash: hash}},
		},
		Agents: []aegis.AgentConfig{{
			ID:     "agent-1",
			Name:   "research-bot",
			Wallet: aegis.WalletConfig{Balance: 100},
			Permissions: []aegis.PermissionConfig{{
				Service:         "email",
				AllowedActions:  []string{"send_email"},
				TimeWindowStart: "00:00",
				TimeWindowEnd:   "23:59",
			}},
		}},
	}

	g, err := aegis.New(aegis.WithConfig(cfg), aegis.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	verdict, err := g.Authorize(context.Background(), &aegis.Request{
		AgentID: "agent-1",
		APIKey:  rawKey,
		Service: "email",
		Action:  "send_email",
	})
	if err != nil {
		t.Fatalf("Authorize with valid key: %v", err)
	}
	if verdict.Outcome != aegis.OutcomeAllowed {
		t.Errorf("valid key outcome = %s, want allowed", verdict.Outcome)
	}

	_, err = g.Authorize(context.Background(), &aegis.Request{
		AgentID: "agent-1",
		APIKey:  identity.KeyPrefix + "wrong",
		Service: "email",
		Action:  "send_email",
	})
	if err == nil {
		t.Fatal("expected an error for a wrong key")
	}

	_, err = g.Authorize(context.Background(), &aegis.Request{
		AgentID: "agent-1",
		Service: "email",
		Action:  "send_email",
	})
	if err == nil {
		t.Fatal("expected an error for a missing key under require_key")
	}
}

package config

import (
	"strings"
	"testing"
)

const testKeyHash = "$argon2id$v=19$m=65536,t=1,p=2$c29tZXNhbHRzb21lc2FsdA$K3FyV3dRYmNkZWZnaGlqaw"

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			Keys: []KeyConfig{{AgentID: "agent-1", KeyHash: testKeyHash}},
		},
		Agents: []AgentConfig{
			{
				ID:   "agent-1",
				Name: "Test Agent",
				Wallet: WalletConfig{
					Balance:      100,
					DailyLimit:   50,
					MonthlyLimit: 500,
				},
				Permissions: []PermissionConfig{
					{
						Service:         "email",
						AllowedActions:  []string{"send_email"},
						TimeWindowStart: "08:00",
						TimeWindowEnd:   "18:00",
					},
				},
			},
		},
		Audit: AuditConfig{Output: "stdout"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	// Simulate running with no config file at all.
	cfg := &Config{}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config unexpected error: %v", err)
	}
	if cfg.Audit.Output != "stdout" {
		t.Errorf("default audit output = %q, want 'stdout'", cfg.Audit.Output)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Server.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "LogLevel") {
		t.Errorf("error = %q, want to contain 'LogLevel'", err.Error())
	}
}

func TestValidate_InvalidAuditOutput(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "syslog"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", err.Error())
	}
}

func TestValidate_ValidAuditOutputs(t *testing.T) {
	t.Parallel()

	for _, output := range []string{
		"stdout",
		"file:///var/log/aegis",
		"sqlite:///var/lib/aegis/audit.db",
		"sqlite://audit.db",
	} {
		cfg := minimalValidConfig()
		cfg.Audit.Output = output
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() with %q unexpected error: %v", output, err)
		}
	}
}

func TestValidate_InvalidAuditOutputRelativeFile(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "file://relative/path"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for relative path, got nil")
	}
	if !strings.Contains(err.Error(), "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", err.Error())
	}
}

func TestValidate_MissingTimeWindow(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Agents[0].Permissions[0].TimeWindowStart = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing window, got nil")
	}
	if !strings.Contains(err.Error(), "TimeWindowStart") {
		t.Errorf("error = %q, want to contain 'TimeWindowStart'", err.Error())
	}
}

func TestValidate_BadClockWindow(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"25:00", "9am", "09:60", "0900"} {
		cfg := minimalValidConfig()
		cfg.Agents[0].Permissions[0].TimeWindowEnd = bad

		err := cfg.Validate()
		if err == nil {
			t.Errorf("Validate() with window %q expected error, got nil", bad)
			continue
		}
		if !strings.Contains(err.Error(), "24h clock") {
			t.Errorf("error = %q, want to mention 24h clock", err.Error())
		}
	}
}

func TestValidate_EmptyAllowedActions(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Agents[0].Permissions[0].AllowedActions = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty allowed_actions, got nil")
	}
	if !strings.Contains(err.Error(), "AllowedActions") {
		t.Errorf("error = %q, want to contain 'AllowedActions'", err.Error())
	}
}

func TestValidate_BadDuration(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Approval.TTL = "thirty minutes"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for bad duration, got nil")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error = %q, want to mention duration", err.Error())
	}
}

func TestValidate_InvalidApprovalMode(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Approval.Mode = "ask-nicely"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for bad mode, got nil")
	}
	if !strings.Contains(err.Error(), "must be one of") {
		t.Errorf("error = %q, want to contain 'must be one of'", err.Error())
	}
}

func TestValidate_BlockThresholdAboveOne(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Firewall.BlockThreshold = 1.5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for threshold > 1, got nil")
	}
	if !strings.Contains(err.Error(), "BlockThreshold") {
		t.Errorf("error = %q, want to contain 'BlockThreshold'", err.Error())
	}
}

func TestValidate_InvalidKeyHashPrefix(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Auth.Keys[0].KeyHash = "sha256:abc123" // wrong scheme

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for non-argon2id hash, got nil")
	}
	if !strings.Contains(err.Error(), "$argon2id$") {
		t.Errorf("error = %q, want to contain '$argon2id$'", err.Error())
	}
}

func TestValidate_UnknownKeyAgentReference(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Auth.Keys[0].AgentID = "ghost"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for unknown agent, got nil")
	}
	if !strings.Contains(err.Error(), "unknown agent_id") {
		t.Errorf("error = %q, want to contain 'unknown agent_id'", err.Error())
	}
}

func TestValidate_RequireKeyWithoutKeys(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Auth.RequireKey = true
	cfg.Auth.Keys = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "no keys are configured") {
		t.Errorf("error = %q, want to contain 'no keys are configured'", err.Error())
	}
}

func TestValidate_EmptyAuth(t *testing.T) {
	t.Parallel()

	// No keys at all is valid when require_key is off; agents are
	// matched by ID alone.
	cfg := minimalValidConfig()
	cfg.Auth.Keys = nil

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with empty auth unexpected error: %v", err)
	}
}

func TestValidate_DuplicateAgentIDs(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	dup := cfg.Agents[0]
	cfg.Agents = append(cfg.Agents, dup)

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for duplicate IDs, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate agent id") {
		t.Errorf("error = %q, want to contain 'duplicate agent id'", err.Error())
	}
}

func TestValidate_DailyExceedsMonthly(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Agents[0].Wallet.DailyLimit = 600
	cfg.Agents[0].Wallet.MonthlyLimit = 500

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "exceeds monthly_limit") {
		t.Errorf("error = %q, want to contain 'exceeds monthly_limit'", err.Error())
	}
}

func TestValidate_UnlimitedMonthlyAllowsAnyDaily(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Agents[0].Wallet.DailyLimit = 600
	cfg.Agents[0].Wallet.MonthlyLimit = 0 // unlimited

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_TrustOutOfRange(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Agents[0].Trust = 150

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for trust > 100, got nil")
	}
	if !strings.Contains(err.Error(), "Trust") {
		t.Errorf("error = %q, want to contain 'Trust'", err.Error())
	}
}

func TestValidate_ProfileHoursOutOfRange(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Agents[0].Profile = &ProfileConfig{TypicalHours: []int{9, 24}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for hour 24, got nil")
	}
	if !strings.Contains(err.Error(), "TypicalHours") {
		t.Errorf("error = %q, want to contain 'TypicalHours'", err.Error())
	}
}

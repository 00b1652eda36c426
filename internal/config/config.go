// Package config provides the file-based configuration schema for aegis.
//
// Everything is loaded once at boot: agents, API key hashes, permission
// grants, behavior profiles, and the tunables for the firewall, anomaly
// detector, spending breaker, approval queue, and audit trail. Nothing
// writes the configuration back to disk; a restart re-seeds every store
// from the file.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fe-row/AEGIS/internal/domain/policy"
)

// Config is the top-level aegis configuration.
type Config struct {
	// Server configures process-level settings.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Auth configures API key authentication for agents.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Agents defines the agents known at boot: identity, trust seed,
	// wallet, permission grants, and optional behavior profile.
	Agents []AgentConfig `yaml:"agents" mapstructure:"agents" validate:"omitempty,dive"`

	// Firewall configures prompt inspection.
	Firewall FirewallConfig `yaml:"firewall" mapstructure:"firewall"`

	// Anomaly configures behavior anomaly detection.
	Anomaly AnomalyConfig `yaml:"anomaly" mapstructure:"anomaly"`

	// Breaker configures the spending velocity circuit breaker.
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// Approval configures the human review queue.
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// Audit configures where decision records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Cache configures the lookup and result caches.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Observability configures metrics and tracing.
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// DevMode enables development defaults (demo agent, debug logging,
	// instant approvals).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures process-level settings.
type ServerConfig struct {
	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// AuthConfig configures API key authentication.
// Keys are stored as argon2id hashes; `aegis hash-key` generates them.
type AuthConfig struct {
	// RequireKey refuses requests that do not carry a verified API key.
	// When false, requests are matched to agents by agent_id alone.
	RequireKey bool `yaml:"require_key" mapstructure:"require_key"`

	// Keys maps API key hashes to the agents they authenticate.
	Keys []KeyConfig `yaml:"keys" mapstructure:"keys" validate:"omitempty,dive"`
}

// KeyConfig binds one API key hash to an agent.
type KeyConfig struct {
	// AgentID references an agent defined in Agents.
	AgentID string `yaml:"agent_id" mapstructure:"agent_id" validate:"required"`

	// KeyHash is the argon2id hash of the cleartext key.
	// Generate with: aegis hash-key YOUR_KEY
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,startswith=$argon2id$"`
}

// AgentConfig defines one agent's boot-time registration.
type AgentConfig struct {
	// ID is the unique identifier for this agent.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is the human-readable name.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Type labels the agent class (e.g. "assistant", "automation").
	Type string `yaml:"type" mapstructure:"type"`

	// Trust is the starting trust score (0-100). Zero means the
	// engine's initial score.
	Trust float64 `yaml:"trust" mapstructure:"trust" validate:"omitempty,min=0,max=100"`

	// Wallet is the agent's spending budget.
	Wallet WalletConfig `yaml:"wallet" mapstructure:"wallet"`

	// Permissions are the agent's grants, one per service.
	Permissions []PermissionConfig `yaml:"permissions" mapstructure:"permissions" validate:"omitempty,dive"`

	// Profile is the optional behavior baseline for anomaly detection.
	Profile *ProfileConfig `yaml:"profile" mapstructure:"profile"`
}

// WalletConfig is an agent's spending budget.
type WalletConfig struct {
	// Balance is the starting balance in currency units.
	Balance float64 `yaml:"balance" mapstructure:"balance" validate:"min=0"`

	// DailyLimit caps spend per calendar day. Zero means unlimited.
	DailyLimit float64 `yaml:"daily_limit" mapstructure:"daily_limit" validate:"min=0"`

	// MonthlyLimit caps spend per calendar month. Zero means unlimited.
	MonthlyLimit float64 `yaml:"monthly_limit" mapstructure:"monthly_limit" validate:"min=0"`
}

// PermissionConfig is one grant: which actions an agent may take against
// a service, inside what time window and budgets.
type PermissionConfig struct {
	// Service names the target service this grant covers.
	Service string `yaml:"service" mapstructure:"service" validate:"required"`

	// AllowedActions lists the permitted operations.
	AllowedActions []string `yaml:"allowed_actions" mapstructure:"allowed_actions" validate:"required,min=1"`

	// MaxRequestsPerHour caps the hourly request budget. Zero means
	// unlimited.
	MaxRequestsPerHour int `yaml:"max_requests_per_hour" mapstructure:"max_requests_per_hour" validate:"omitempty,min=1"`

	// TimeWindowStart and TimeWindowEnd bound the permitted window,
	// "HH:MM" on a 24h clock. Both bounds are inclusive.
	TimeWindowStart string `yaml:"time_window_start" mapstructure:"time_window_start" validate:"required,clockwindow"`
	TimeWindowEnd   string `yaml:"time_window_end" mapstructure:"time_window_end" validate:"required,clockwindow"`

	// MaxRecordsPerRequest caps the result size an action may request.
	MaxRecordsPerRequest int `yaml:"max_records_per_request" mapstructure:"max_records_per_request" validate:"omitempty,min=1"`

	// RequiresHITL routes this action class to human review.
	RequiresHITL bool `yaml:"requires_hitl" mapstructure:"requires_hitl"`

	// Condition is an optional CEL expression evaluated against the
	// request context. Empty means unconditional.
	Condition string `yaml:"condition" mapstructure:"condition"`

	// Active disables the grant without deleting it. Unset means active.
	Active *bool `yaml:"active" mapstructure:"active"`
}

// Permission converts the grant into its domain form.
func (p PermissionConfig) Permission() policy.Permission {
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	return policy.Permission{
		Service:              p.Service,
		AllowedActions:       p.AllowedActions,
		MaxRequestsPerHour:   p.MaxRequestsPerHour,
		TimeWindowStart:      p.TimeWindowStart,
		TimeWindowEnd:        p.TimeWindowEnd,
		MaxRecordsPerRequest: p.MaxRecordsPerRequest,
		RequiresHITL:         p.RequiresHITL,
		Condition:            p.Condition,
		Active:               active,
	}
}

// ProfileConfig is an agent's expected behavior baseline.
type ProfileConfig struct {
	// TypicalServices lists the services the agent normally touches.
	TypicalServices []string `yaml:"typical_services" mapstructure:"typical_services"`

	// TypicalHours lists the hours of day (0-23) the agent is normally
	// active.
	TypicalHours []int `yaml:"typical_hours" mapstructure:"typical_hours" validate:"omitempty,dive,min=0,max=23"`

	// AvgRequestsPerHour is the expected request rate.
	AvgRequestsPerHour float64 `yaml:"avg_requests_per_hour" mapstructure:"avg_requests_per_hour" validate:"omitempty,min=0"`
}

// FirewallConfig configures prompt inspection.
type FirewallConfig struct {
	// Enabled turns the prompt firewall stage on or off.
	// Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// BlockThreshold is the risk score (0-1] at or above which a prompt
	// is blocked. Defaults to 0.7.
	BlockThreshold float64 `yaml:"block_threshold" mapstructure:"block_threshold" validate:"omitempty,gt=0,lte=1"`
}

// AnomalyConfig configures behavior anomaly detection.
type AnomalyConfig struct {
	// Enabled turns the anomaly stage on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// DenyOnAnomaly hard-blocks anomalous requests instead of only
	// burning trust. Defaults to false.
	DenyOnAnomaly bool `yaml:"deny_on_anomaly" mapstructure:"deny_on_anomaly"`
}

// BreakerConfig configures the spending velocity circuit breaker.
type BreakerConfig struct {
	// WindowSeconds is the sliding comparison window. Defaults to 300.
	WindowSeconds int `yaml:"window_seconds" mapstructure:"window_seconds" validate:"omitempty,min=1"`

	// ThresholdPct is the percent increase over the previous window
	// that trips the breaker. Defaults to 300.
	ThresholdPct float64 `yaml:"threshold_pct" mapstructure:"threshold_pct" validate:"omitempty,gt=0"`

	// BaselineMultiplier trips the breaker when current-window spend
	// exceeds this multiple of the agent's baseline. Defaults to 4.
	BaselineMultiplier float64 `yaml:"baseline_multiplier" mapstructure:"baseline_multiplier" validate:"omitempty,gt=0"`
}

// Window returns the comparison window as a duration.
func (c BreakerConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ApprovalConfig configures the human review queue.
type ApprovalConfig struct {
	// Mode selects how review requirements are resolved:
	// "await" blocks until a reviewer decides, "defer" returns an
	// escalated verdict immediately, "auto-approve" approves instantly.
	// Defaults to "await".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=await defer auto-approve"`

	// TTL is how long a pending review waits before expiring (e.g.
	// "30m"). Defaults to "30m".
	TTL string `yaml:"ttl" mapstructure:"ttl" validate:"omitempty,duration"`

	// Capacity is the maximum number of pending reviews. Defaults to 100.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"omitempty,min=1"`
}

// TTLDuration returns the parsed TTL. Validation guarantees the field
// parses; an empty field yields zero.
func (c ApprovalConfig) TTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// Audit output kinds.
const (
	AuditOutputStdout = "stdout"
	AuditOutputFile   = "file"
	AuditOutputSQLite = "sqlite"
)

// AuditConfig configures where decision records are written.
type AuditConfig struct {
	// Output specifies the audit backend:
	// "stdout", "file://<absolute-dir>", or "sqlite://<path>".
	// Defaults to "stdout".
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel.
	// Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often pending records are flushed (e.g. "1s").
	// Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long to block when the channel is full.
	// "0" drops immediately. Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel depth percentage (0-100) at which
	// warnings are logged. Zero disables warnings. Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// RetentionDays is how long file-backed audit logs are kept.
	// Only applies to file output. Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// MaxFileSizeMB rotates file-backed audit logs at this size.
	// Only applies to file output. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`

	// CacheSize is the number of recent records kept in memory for
	// status reads. Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`
}

// ParseOutput splits Output into its kind and path. The path is empty
// for stdout.
func (c AuditConfig) ParseOutput() (kind, path string) {
	switch {
	case strings.HasPrefix(c.Output, "file://"):
		return AuditOutputFile, strings.TrimPrefix(c.Output, "file://")
	case strings.HasPrefix(c.Output, "sqlite://"):
		return AuditOutputSQLite, strings.TrimPrefix(c.Output, "sqlite://")
	default:
		return AuditOutputStdout, ""
	}
}

// FlushIntervalDuration returns the parsed flush interval.
func (c AuditConfig) FlushIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.FlushInterval)
	return d
}

// SendTimeoutDuration returns the parsed send timeout.
func (c AuditConfig) SendTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.SendTimeout)
	return d
}

// CacheConfig configures the lookup and result caches.
type CacheConfig struct {
	// PermissionTTL is how long permission lookups stay cached (e.g.
	// "5m"). Defaults to "5m".
	PermissionTTL string `yaml:"permission_ttl" mapstructure:"permission_ttl" validate:"omitempty,duration"`

	// ResultSize is the maximum number of cached gate decisions.
	// Defaults to 1000.
	ResultSize int `yaml:"result_size" mapstructure:"result_size" validate:"omitempty,min=1"`
}

// PermissionTTLDuration returns the parsed permission cache TTL.
func (c CacheConfig) PermissionTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.PermissionTTL)
	return d
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	// Enabled wires decision counters and histograms. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled emits spans to the stdout exporter. Defaults to false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// KeyHashesFor returns the key hashes bound to an agent.
func (c *Config) KeyHashesFor(agentID string) []string {
	var hashes []string
	for _, k := range c.Auth.Keys {
		if k.AgentID == agentID {
			hashes = append(hashes, k.KeyHash)
		}
	}
	return hashes
}

// SetDefaults applies default values to unset fields.
// viper.IsSet distinguishes "not set" from an explicit false for the
// booleans that default to true.
func (c *Config) SetDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	// Security stages default on.
	if !viper.IsSet("firewall.enabled") {
		c.Firewall.Enabled = true
	}
	if c.Firewall.BlockThreshold == 0 {
		c.Firewall.BlockThreshold = 0.7
	}
	if !viper.IsSet("anomaly.enabled") {
		c.Anomaly.Enabled = true
	}

	if c.Breaker.WindowSeconds == 0 {
		c.Breaker.WindowSeconds = 300
	}
	if c.Breaker.ThresholdPct == 0 {
		c.Breaker.ThresholdPct = 300
	}
	if c.Breaker.BaselineMultiplier == 0 {
		c.Breaker.BaselineMultiplier = 4
	}

	if c.Approval.Mode == "" {
		c.Approval.Mode = "await"
	}
	if c.Approval.TTL == "" {
		c.Approval.TTL = "30m"
	}
	if c.Approval.Capacity == 0 {
		c.Approval.Capacity = 100
	}

	if c.Audit.Output == "" {
		c.Audit.Output = AuditOutputStdout
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.CacheSize == 0 {
		c.Audit.CacheSize = 1000
	}

	if c.Cache.PermissionTTL == "" {
		c.Cache.PermissionTTL = "5m"
	}
	if c.Cache.ResultSize == 0 {
		c.Cache.ResultSize = 1000
	}

	if !viper.IsSet("observability.metrics.enabled") {
		c.Observability.Metrics.Enabled = true
	}
}

// SetDevDefaults applies permissive defaults for development mode.
// These are applied before validation so a bare `--dev` run works with
// no configuration file at all.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if !viper.IsSet("server.log_level") {
		c.Server.LogLevel = "debug"
	}

	// Reviews resolve instantly so a dev loop never blocks on a human.
	if !viper.IsSet("approval.mode") {
		c.Approval.Mode = "auto-approve"
	}

	// Provide a demo agent if none configured.
	if len(c.Agents) == 0 {
		c.Agents = []AgentConfig{
			{
				ID:   "dev-agent",
				Name: "Dev Agent",
				Type: "assistant",
				Wallet: WalletConfig{
					Balance:      100,
					DailyLimit:   50,
					MonthlyLimit: 500,
				},
				Permissions: []PermissionConfig{
					{
						Service:            "sandbox",
						AllowedActions:     []string{"echo", "read_data", "write_data"},
						MaxRequestsPerHour: 1000,
						TimeWindowStart:    "00:00",
						TimeWindowEnd:      "23:59",
					},
				},
			},
		}
	}
}

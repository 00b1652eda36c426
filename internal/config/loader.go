package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for aegis.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("aegis")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AEGIS_SERVER_LOG_LEVEL
	viper.SetEnvPrefix("AEGIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an aegis config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper
// from matching the binary "aegis" (no extension) in the current
// directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".aegis"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\aegis (typically C:\ProgramData\aegis)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "aegis"))
		}
	} else {
		paths = append(paths, "/etc/aegis")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for aegis.yaml or
// .yml. Returns the full path of the first match, or empty string if
// none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "aegis"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Example: AEGIS_AUDIT_OUTPUT overrides audit.output.
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.log_level")

	// Auth config
	_ = viper.BindEnv("auth.require_key")
	// Note: auth.keys and agents are arrays, complex to override via env.
	// Users should use the config file for these.

	// Firewall config
	_ = viper.BindEnv("firewall.enabled")
	_ = viper.BindEnv("firewall.block_threshold")

	// Anomaly config
	_ = viper.BindEnv("anomaly.enabled")
	_ = viper.BindEnv("anomaly.deny_on_anomaly")

	// Breaker config
	_ = viper.BindEnv("breaker.window_seconds")
	_ = viper.BindEnv("breaker.threshold_pct")
	_ = viper.BindEnv("breaker.baseline_multiplier")

	// Approval config
	_ = viper.BindEnv("approval.mode")
	_ = viper.BindEnv("approval.ttl")
	_ = viper.BindEnv("approval.capacity")

	// Audit config
	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.channel_size")
	_ = viper.BindEnv("audit.batch_size")
	_ = viper.BindEnv("audit.flush_interval")
	_ = viper.BindEnv("audit.send_timeout")
	_ = viper.BindEnv("audit.warning_threshold")
	_ = viper.BindEnv("audit.retention_days")
	_ = viper.BindEnv("audit.max_file_size_mb")
	_ = viper.BindEnv("audit.cache_size")

	// Cache config
	_ = viper.BindEnv("cache.permission_ttl")
	_ = viper.BindEnv("cache.result_size")

	// Observability config
	_ = viper.BindEnv("observability.metrics.enabled")
	_ = viper.BindEnv("observability.tracing.enabled")

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides
// and defaults (including dev-mode defaults), validates, and returns the
// Config. Callers that need to override DevMode from CLI flags before
// validation should use LoadConfigRaw instead.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
		// This allows running with pure environment variable
		// configuration.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply default values for optional fields
	cfg.SetDefaults()

	// In dev mode, apply permissive defaults before validation
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate. Use this when CLI flags may
// override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded. Returns an empty string if no config file was found (env vars
// only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

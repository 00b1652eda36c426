// Package risk classifies agent actions by the damage they can do.
package risk

import "strings"

// Level represents the security risk level of an action.
type Level string

const (
	// LevelLow indicates read-only, informational operations.
	// Examples: list_files, get_status, help, version.
	LevelLow Level = "LOW"

	// LevelMedium indicates read operations with potential sensitivity.
	// Examples: fetch_data, download_file, export_report, search_users.
	LevelMedium Level = "MEDIUM"

	// LevelHigh indicates write operations or network access.
	// Examples: file_write, create_user, update_config, send_email.
	LevelHigh Level = "HIGH"

	// LevelCritical indicates destructive operations, system commands, or admin ops.
	// Examples: file_delete, execute_command, shell_exec, admin_reset.
	LevelCritical Level = "CRITICAL"
)

// IsValid returns true if the risk level is a known valid level.
func (l Level) IsValid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	default:
		return false
	}
}

// criticalPatterns contains patterns indicating destructive operations or system commands.
var criticalPatterns = []string{
	"delete", "remove", "drop", "destroy", "execute", "exec",
	"shell", "command", "admin", "sudo", "root", "truncate",
}

// highPatterns contains patterns indicating write operations or network access.
var highPatterns = []string{
	"write", "create", "update", "modify", "send", "post",
	"upload", "deploy", "install", "connect", "put",
}

// mediumPatterns contains patterns indicating read operations with potential sensitivity.
var mediumPatterns = []string{
	"fetch", "download", "export", "query", "search", "get",
}

// Classify determines the risk level of an action from its name.
// Classification is case-insensitive and uses substring matching, so
// "undelete" also matches "delete". Highest-priority match wins:
// CRITICAL, then HIGH, then MEDIUM, with LOW as the default.
func Classify(action string) Level {
	name := strings.ToLower(action)

	for _, pattern := range criticalPatterns {
		if strings.Contains(name, pattern) {
			return LevelCritical
		}
	}
	for _, pattern := range highPatterns {
		if strings.Contains(name, pattern) {
			return LevelHigh
		}
	}
	for _, pattern := range mediumPatterns {
		if strings.Contains(name, pattern) {
			return LevelMedium
		}
	}
	return LevelLow
}

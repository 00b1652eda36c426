// Package cmd provides the CLI commands for aegis.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fe-row/AEGIS/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Aegis - Agent Action Authorization Engine",
	Long: `Aegis authorizes AI agent actions before they execute.

Every action an agent attempts is checked against its permission grants:
allowed actions, time windows, hourly rate budgets, wallet balance, and
a minimum trust score. Denials itemize every violated rule; sensitive
actions escalate to human review instead of executing.

Quick start:
  1. Create a config file: aegis.yaml
  2. Hash an API key:      aegis hash-key
  3. Run the engine:       aegis run < requests.ndjson

Configuration:
  Config is loaded from aegis.yaml in the current directory,
  $HOME/.aegis/, or /etc/aegis/.

  Environment variables can override config values with the AEGIS_ prefix.
  Example: AEGIS_AUDIT_OUTPUT=sqlite:///var/lib/aegis/audit.db

Commands:
  evaluate    Evaluate one policy input document and print the decision
  run         Authorize a stream of action requests over stdin/stdout
  hash-key    Generate an argon2id hash for an agent API key
  config      Inspect the effective configuration
  audit       Query the decision audit history
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./aegis.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

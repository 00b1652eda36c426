package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fe-row/AEGIS/internal/config"
)

// redactedHash replaces key hashes in rendered config. Hashes are not
// cleartext secrets, but they are still offline cracking targets.
const redactedHash = "(redacted)"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Show renders the configuration the engine would boot with: the config
file merged with environment overrides, defaults applied, validated.
Key hashes are elided.

The source file is named in a leading YAML comment, so the output stays
machine-parseable.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		rendered, err := renderConfig(cfg)
		if err != nil {
			return err
		}

		if file := config.ConfigFileUsed(); file != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", file)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "# source: defaults and environment only (no config file found)")
		}
		_, err = cmd.OutOrStdout().Write(rendered)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// renderConfig marshals the config as YAML with key hashes elided. The
// redaction works on a copied key slice; the caller's config is left
// intact.
func renderConfig(cfg *config.Config) ([]byte, error) {
	shown := *cfg
	if len(shown.Auth.Keys) > 0 {
		keys := make([]config.KeyConfig, len(shown.Auth.Keys))
		copy(keys, shown.Auth.Keys)
		for i := range keys {
			keys[i].KeyHash = redactedHash
		}
		shown.Auth.Keys = keys
	}

	rendered, err := yaml.Marshal(&shown)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return rendered, nil
}

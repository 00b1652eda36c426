package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fe-row/AEGIS/internal/domain/identity"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an argon2id hash for an agent API key",
	Long: `Generate an argon2id hash of an API key for use in config.

The output is a PHC-format "$argon2id$..." string for the
auth.keys[].key_hash field. With no argument, a fresh key is
generated and printed together with its hash; hand the key to the
agent and put only the hash in the config.

Examples:
  # Generate a new key and its hash
  aegis hash-key

  # Hash an existing key
  aegis hash-key "ag_..."

Security note: a key passed as an argument appears in shell history.
Consider clearing history after use or using an environment variable:
  aegis hash-key "$MY_API_KEY"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			hash, err := identity.HashKeyArgon2id(args[0])
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}
			fmt.Fprintln(out, hash)
			return nil
		}

		key, err := identity.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		hash, err := identity.HashKeyArgon2id(key)
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Fprintf(out, "API key:  %s\n", key)
		fmt.Fprintf(out, "Key hash: %s\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fe-row/AEGIS/internal/domain/policy"
)

// Evaluate exit codes. Scripts branch on these without parsing output.
const (
	exitAllow    = 0
	exitDeny     = 2
	exitEscalate = 3
)

var (
	evaluateFile   string
	evaluatePretty bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one policy input document and print the decision",
	Long: `Evaluate runs the policy engine once against a JSON input document
and prints the decision as JSON.

The engine is pure: the input document carries the full context (action,
grants, trust score, clock, rate count, wallet balance), no daemon state
is touched, and identical inputs always produce identical decisions.
Every rule is checked; a denial lists each violated rule separately.

Exit codes:
  0  allowed
  2  denied (deny_reasons lists every violated rule)
  3  not denied, but held for human review
  1  malformed input

Examples:
  # Evaluate a request from a file
  aegis evaluate -f request.json

  # Evaluate from stdin
  aegis evaluate --pretty < request.json`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVarP(&evaluateFile, "file", "f", "-", `input file ("-" for stdin)`)
	evaluateCmd.Flags().BoolVar(&evaluatePretty, "pretty", false, "indent the decision JSON")
	rootCmd.AddCommand(evaluateCmd)
}

// runEvaluate is the entry point; it calls evaluateOnce (so tests can
// exercise the full path) and propagates the decision exit code.
func runEvaluate(cmd *cobra.Command, args []string) error {
	exitCode, err := evaluateOnce(cmd.OutOrStdout(), evaluateFile, evaluatePretty)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// evaluateOnce reads one policy input document, evaluates it, and writes
// the decision. The returned exit code encodes the decision; errors are
// contract violations (unreadable or malformed input).
func evaluateOnce(out io.Writer, path string, pretty bool) (int, error) {
	data, err := readInput(path)
	if err != nil {
		return 0, err
	}

	var input policy.PolicyInput
	if err := json.Unmarshal(data, &input); err != nil {
		return 0, fmt.Errorf("parse policy input: %w", err)
	}

	decision, err := policy.Evaluate(input)
	if err != nil {
		return 0, fmt.Errorf("evaluate: %w", err)
	}

	var encoded []byte
	if pretty {
		encoded, err = json.MarshalIndent(decision, "", "  ")
	} else {
		encoded, err = json.Marshal(decision)
	}
	if err != nil {
		return 0, fmt.Errorf("encode decision: %w", err)
	}
	fmt.Fprintln(out, string(encoded))

	switch {
	case decision.Denied():
		return exitDeny, nil
	case decision.RequiresHITL:
		return exitEscalate, nil
	default:
		return exitAllow, nil
	}
}

// readInput reads the input document from a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}
	return data, nil
}

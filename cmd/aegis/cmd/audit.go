package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fe-row/AEGIS/internal/adapter/outbound/auditfile"
	"github.com/fe-row/AEGIS/internal/adapter/outbound/sqlite"
	"github.com/fe-row/AEGIS/internal/config"
	"github.com/fe-row/AEGIS/internal/domain/audit"
)

// maxQueryHours caps --hours at the widest range a query may cover,
// 90 days.
const maxQueryHours = 2160

// auditOptions are the parsed audit command flags.
type auditOptions struct {
	Agent    string
	Service  string
	Action   string
	Decision string
	Hours    int
	Limit    int
	Cursor   string
	Stats    bool
}

// validate rejects flag values before any backend is opened.
func (o auditOptions) validate() error {
	if o.Hours < 1 || o.Hours > maxQueryHours {
		return fmt.Errorf("--hours must be between 1 and %d, got %d", maxQueryHours, o.Hours)
	}
	if o.Limit < 1 || o.Limit > audit.MaxQueryLimit {
		return fmt.Errorf("--limit must be between 1 and %d, got %d", audit.MaxQueryLimit, o.Limit)
	}
	switch o.Decision {
	case "", audit.DecisionAllow, audit.DecisionDeny, audit.DecisionEscalate:
	default:
		return fmt.Errorf("--decision must be %q, %q, or %q",
			audit.DecisionAllow, audit.DecisionDeny, audit.DecisionEscalate)
	}
	return nil
}

var auditFlags auditOptions

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the decision audit history",
	Long: `Audit queries the configured audit backend for past decisions.

Records are printed newest first, one JSON document per line. When the
page fills up, the cursor for the next page is printed to stderr; pass
it back with --cursor to continue.

The configured audit.output selects the backend: "file://<dir>" queries
the rotated log files, "sqlite://<path>" queries the database. The
"stdout" output keeps no history and cannot be queried.

Examples:
  # Denials for one agent over the last two days
  aegis audit --agent research-bot --decision deny --hours 48

  # Aggregated statistics instead of records
  aegis audit --stats --hours 168`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auditFlags.validate(); err != nil {
			return err
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Server.LogLevel),
		}))

		reader, closeReader, err := openAuditReader(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = closeReader() }()

		return runAuditQuery(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), reader, auditFlags)
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditFlags.Agent, "agent", "", "filter by agent id")
	auditCmd.Flags().StringVar(&auditFlags.Service, "service", "", "filter by target service")
	auditCmd.Flags().StringVar(&auditFlags.Action, "action", "", "filter by action name")
	auditCmd.Flags().StringVar(&auditFlags.Decision, "decision", "", "filter by decision (allow, deny, escalate)")
	auditCmd.Flags().IntVar(&auditFlags.Hours, "hours", 24, "how far back to query")
	auditCmd.Flags().IntVar(&auditFlags.Limit, "limit", audit.DefaultQueryLimit, "maximum records per page")
	auditCmd.Flags().StringVar(&auditFlags.Cursor, "cursor", "", "resume from a previous page")
	auditCmd.Flags().BoolVar(&auditFlags.Stats, "stats", false, "print aggregated statistics instead of records")
	rootCmd.AddCommand(auditCmd)
}

// openAuditReader opens the query side of the configured audit backend.
// The returned close function releases it.
func openAuditReader(cfg *config.Config, logger *slog.Logger) (audit.Reader, func() error, error) {
	kind, path := cfg.Audit.ParseOutput()
	switch kind {
	case config.AuditOutputFile:
		reader, err := auditfile.OpenReader(path, logger)
		if err != nil {
			return nil, nil, err
		}
		return reader, func() error { return nil }, nil
	case config.AuditOutputSQLite:
		store, err := sqlite.NewStore(path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("no durable audit backend configured (audit.output is %q)", cfg.Audit.Output)
	}
}

// runAuditQuery executes one query page (or the stats aggregation)
// against the reader and writes NDJSON to out. A next-page cursor goes
// to errOut so stdout stays pure records.
func runAuditQuery(ctx context.Context, out, errOut io.Writer, reader audit.Reader, opts auditOptions) error {
	end := time.Now().UTC()
	start := end.Add(-time.Duration(opts.Hours) * time.Hour)

	if opts.Stats {
		stats, err := reader.QueryStats(ctx, start, end)
		if err != nil {
			return fmt.Errorf("query stats: %w", err)
		}
		return writeJSONLine(out, stats)
	}

	records, cursor, err := reader.Query(ctx, audit.Filter{
		StartTime: start,
		EndTime:   end,
		AgentID:   opts.Agent,
		Service:   opts.Service,
		Action:    opts.Action,
		Decision:  opts.Decision,
		Limit:     opts.Limit,
		Cursor:    opts.Cursor,
	})
	if err != nil {
		return fmt.Errorf("query audit history: %w", err)
	}

	for _, rec := range records {
		if err := writeJSONLine(out, rec); err != nil {
			return err
		}
	}
	if cursor != "" {
		fmt.Fprintf(errOut, "next page: --cursor %q\n", cursor)
	}
	return nil
}

// writeJSONLine writes one value as a single JSON line.
func writeJSONLine(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

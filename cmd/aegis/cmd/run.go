package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/fe-row/AEGIS/internal/config"
	"github.com/fe-row/AEGIS/pkg/aegis"
	"github.com/fe-row/AEGIS/pkg/jsonl"
)

// Envelope types on the run stream.
const (
	msgRequest  = "request"
	msgApproval = "approval"
	msgShutdown = "shutdown"
	msgVerdict  = "verdict"
	msgAudit    = "audit"
	msgStats    = "stats"
)

// approvalMsg is the payload of an inbound "approval" envelope: a
// reviewer decision resolving a pending escalation.
type approvalMsg struct {
	ID        string `json:"id"`
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decided_by,omitempty"`
	Note      string `json:"note,omitempty"`
}

// verdictMsg is the payload of an outbound "verdict" envelope. Error
// carries the pipeline's block error, if any; the embedded verdict is
// populated either way.
type verdictMsg struct {
	aegis.Verdict
	Error string `json:"error,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Authorize a stream of action requests over stdin/stdout",
	Long: `Run starts the authorization engine on a newline-delimited JSON stream.

Each stdin line is an envelope {"type": "...", "payload": {...}}:

  request    an action request, authorized through the full pipeline and
             answered with a "verdict" envelope on stdout
  approval   a reviewer decision {"id", "approve", "decided_by", "note"}
             resolving a pending escalation
  shutdown   drain in-flight requests and exit

Verdicts carry the request id, so callers may pipeline requests without
waiting; with approval.mode "await" a verdict arrives only once its
review resolves. Logs go to stderr; stdout carries only the stream.

When audit.output is "stdout", decision records are interleaved on
stdout as "audit" envelopes. At exit a "stats" envelope summarizes the
run and the metrics registry is dumped to stderr in Prometheus text
format.

Examples:
  # Authorize a fixed batch
  aegis run < requests.ndjson > verdicts.ndjson

  # Layer a permission pack over the config grants
  aegis run --permissions pack.yaml < requests.ndjson`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runStream,
}

var (
	runPermissions string
	runDevMode     bool
)

func init() {
	runCmd.Flags().StringVar(&runPermissions, "permissions", "", "permission pack YAML layered over config grants")
	runCmd.Flags().BoolVar(&runDevMode, "dev", false, "enable development mode (demo agent, debug logging)")
	rootCmd.AddCommand(runCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override
	// first).
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if runDevMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	// Logger to stderr (stdout is reserved for the stream).
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := runLoop(ctx, cfg, runPermissions, os.Stdin, os.Stdout, os.Stderr, logger); err != nil {
		return err
	}

	logger.Info("aegis stopped")
	return nil
}

// runLoop drives the stream: envelopes decoded from in, verdicts encoded
// to out, metrics dumped to metricsOut at exit. Split from runStream so
// tests can drive it with buffers.
func runLoop(ctx context.Context, cfg *config.Config, packPath string, in io.Reader, out, metricsOut io.Writer, logger *slog.Logger) error {
	enc := jsonl.NewEncoder(out)

	opts := []aegis.Option{
		aegis.WithConfig(cfg),
		aegis.WithLogger(logger),
	}
	if packPath != "" {
		pack, err := aegis.LoadPermissionPack(packPath)
		if err != nil {
			return fmt.Errorf("load permission pack: %w", err)
		}
		opts = append(opts, aegis.WithPermissionPack(pack))
	}
	if kind, _ := cfg.Audit.ParseOutput(); kind == config.AuditOutputStdout {
		opts = append(opts, aegis.WithAuditSink(&streamSink{enc: enc}))
	}

	guard, err := aegis.New(opts...)
	if err != nil {
		return err
	}
	defer func() { _ = guard.Close() }()

	logger.Info("aegis ready",
		"agents", len(cfg.Agents),
		"approval_mode", cfg.Approval.Mode,
		"audit", cfg.Audit.Output,
	)

	// Once intake ends, nothing can deliver approvals anymore, so
	// authorizations paused on a review must be released rather than
	// left to run out their TTL.
	authCtx, cancelAuth := context.WithCancel(ctx)
	defer cancelAuth()

	dec := jsonl.NewDecoder(in, jsonl.WithKnownTypes(msgRequest, msgApproval, msgShutdown))

	var (
		wg        sync.WaitGroup
		streamErr error
	)
intake:
	for {
		if ctx.Err() != nil {
			logger.Info("signal received, draining")
			break
		}

		env, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, jsonl.ErrLineTooLong) {
				logger.Error("stream unrecoverable", "error", err)
				streamErr = err
				break
			}
			logger.Warn("skipping line", "error", err)
			continue
		}

		switch env.Type {
		case msgRequest:
			var req aegis.Request
			if err := env.Unmarshal(&req); err != nil {
				logger.Warn("bad request payload", "line", dec.Line(), "error", err)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				verdict, err := guard.Authorize(authCtx, &req)
				msg := verdictMsg{Verdict: verdict}
				if err != nil {
					msg.Error = err.Error()
				}
				if err := enc.Encode(msgVerdict, msg); err != nil {
					logger.Error("write verdict", "request_id", verdict.RequestID, "error", err)
				}
			}()

		case msgApproval:
			var decision approvalMsg
			if err := env.Unmarshal(&decision); err != nil {
				logger.Warn("bad approval payload", "line", dec.Line(), "error", err)
				continue
			}
			if decision.Approve {
				err = guard.Approve(decision.ID, decision.DecidedBy, decision.Note)
			} else {
				err = guard.Reject(decision.ID, decision.DecidedBy, decision.Note)
			}
			if err != nil {
				logger.Warn("review decision failed", "approval_id", decision.ID, "error", err)
			}

		case msgShutdown:
			logger.Info("shutdown requested")
			break intake
		}
	}

	cancelAuth()
	wg.Wait()

	// Closing here drains the audit queue, so every record reaches the
	// stream before the stats envelope.
	if err := guard.Close(); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	stats := guard.Stats()
	if err := enc.Encode(msgStats, stats); err != nil {
		logger.Error("write stats", "error", err)
	}
	logger.Info("run complete",
		"allowed", stats.Allowed,
		"denied", stats.Denied,
		"escalated", stats.Escalated,
		"approved", stats.Approved,
		"rejected", stats.Rejected,
		"uptime", stats.Uptime,
	)

	dumpMetrics(guard, metricsOut, logger)
	return streamErr
}

// streamSink forwards decision records to the shared stream encoder as
// "audit" envelopes. The audit worker calls Append; the encoder's lock
// keeps records and verdicts line-atomic on stdout.
type streamSink struct {
	enc *jsonl.Encoder
}

func (s *streamSink) Append(_ context.Context, records ...aegis.DecisionRecord) error {
	for _, rec := range records {
		if err := s.enc.Encode(msgAudit, rec); err != nil {
			return err
		}
	}
	return nil
}

// Flush is a no-op; every Append reaches the stream immediately.
func (s *streamSink) Flush(context.Context) error { return nil }

// Close is a no-op; the stream outlives the sink.
func (s *streamSink) Close() error { return nil }

var _ aegis.AuditSink = (*streamSink)(nil)

// dumpMetrics writes the registry in Prometheus text format, so a
// finished run can be scraped without an HTTP endpoint.
func dumpMetrics(guard *aegis.Guard, w io.Writer, logger *slog.Logger) {
	gatherer := guard.Gatherer()
	if gatherer == nil {
		return
	}
	families, err := gatherer.Gather()
	if err != nil {
		logger.Error("gather metrics", "error", err)
		return
	}
	for _, fam := range families {
		if _, err := expfmt.MetricFamilyToText(w, fam); err != nil {
			logger.Error("write metrics", "error", err)
			return
		}
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package aegis

import (
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fe-row/AEGIS/internal/config"
	"github.com/fe-row/AEGIS/internal/domain/audit"
)

// Option is a functional option for configuring a Guard.
type Option func(*options)

type options struct {
	cfg             *config.Config
	configFile      string
	pack            *config.PermissionPack
	logger          *slog.Logger
	clock           func() time.Time
	registerer      prometheus.Registerer
	sink            audit.Store
	noAudit         bool
	telemetryWriter io.Writer
}

// WithConfig supplies the configuration directly. It is used exactly as
// given; no file is read and no defaults are applied, so zero-valued
// knobs fall back to each component's built-in default.
// Takes precedence over WithConfigFile.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithConfigFile loads the configuration from a YAML file, applying the
// same defaulting and validation as the CLI.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configFile = path
	}
}

// WithPermissionPack merges a standalone grants file on top of the
// configured agent permissions. Grants for agents the configuration does
// not define are a boot error.
func WithPermissionPack(pack *PermissionPack) Option {
	return func(o *options) {
		o.pack = pack
	}
}

// WithLogger sets the structured logger.
// If not set, defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock pins the evaluation clock used by the pipeline's time-window
// gates. If not set, the wall clock is used. For deterministic replays
// and tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithRegisterer sets the Prometheus registerer for the decision
// metrics. If not set, the Guard registers with a private registry
// exposed through Gatherer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithAuditSink adds a sink that receives a copy of every decision
// record, alongside the configured audit backend. Used by the CLI to
// stream records onto stdout.
func WithAuditSink(sink AuditSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithoutAudit disables audit retention entirely: records are still
// assembled for statistics but nothing stores them. Overrides the
// configured backend and any sink.
func WithoutAudit() Option {
	return func(o *options) {
		o.noAudit = true
	}
}

// WithTelemetryWriter sets where exported traces are written when
// tracing is enabled. If not set, defaults to os.Stderr (stdout stays
// reserved for the verdict stream).
func WithTelemetryWriter(w io.Writer) Option {
	return func(o *options) {
		o.telemetryWriter = w
	}
}

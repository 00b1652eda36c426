package aegis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fe-row/AEGIS/internal/adapter/outbound/auditfile"
	"github.com/fe-row/AEGIS/internal/adapter/outbound/cel"
	"github.com/fe-row/AEGIS/internal/adapter/outbound/memory"
	"github.com/fe-row/AEGIS/internal/adapter/outbound/sqlite"
	"github.com/fe-row/AEGIS/internal/config"
	"github.com/fe-row/AEGIS/internal/domain/anomaly"
	"github.com/fe-row/AEGIS/internal/domain/approval"
	domaudit "github.com/fe-row/AEGIS/internal/domain/audit"
	"github.com/fe-row/AEGIS/internal/domain/breaker"
	"github.com/fe-row/AEGIS/internal/domain/firewall"
	"github.com/fe-row/AEGIS/internal/domain/pipeline"
	"github.com/fe-row/AEGIS/internal/domain/policy"
	"github.com/fe-row/AEGIS/internal/domain/trust"
	"github.com/fe-row/AEGIS/internal/domain/validation"
	"github.com/fe-row/AEGIS/internal/domain/wallet"
	"github.com/fe-row/AEGIS/internal/observability"
	"github.com/fe-row/AEGIS/internal/service"
)

// Stats is a snapshot of the decision counters. See Guard.Stats.
type Stats = service.Stats

// profileRebuildInterval drives the periodic behavior-profile rebuild
// in long-running processes. There is no config knob; the worker only
// runs when anomaly detection is enabled.
const profileRebuildInterval = time.Hour

// Guard is a fully wired authorization engine: the decision gates, the
// request pipeline, the approval queue, and the audit trail, booted from
// a single configuration. A Guard owns background workers; callers must
// Close it when done.
//
// Methods on a Guard are safe for concurrent use.
type Guard struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *service.AgentRegistry
	gate      *service.GateService
	pipeline  *service.PipelineService
	recorder  *service.AuditService
	ring      *memory.AuditStore
	store     domaudit.Store
	telemetry *observability.Telemetry
	gatherer  prometheus.Gatherer

	closeOnce sync.Once
	closeErr  error
}

// New boots a Guard. Configuration comes from WithConfig (used as given),
// WithConfigFile (loaded, defaulted, and validated), or, with neither,
// the built-in defaults. Agents and their grants are seeded from the
// configuration plus an optional permission pack; every grant is
// validated before the Guard accepts traffic, so a bad time window or
// condition is a boot error, not a mid-request surprise.
func New(opts ...Option) (*Guard, error) {
	o := options{
		logger:          slog.Default(),
		telemetryWriter: os.Stderr,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	cfg, err := resolveConfig(o)
	if err != nil {
		return nil, err
	}

	var (
		metrics  *observability.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Observability.Metrics.Enabled {
		reg := o.registerer
		if reg == nil {
			private := prometheus.NewRegistry()
			reg = private
			gatherer = private
		} else if g, ok := reg.(prometheus.Gatherer); ok {
			gatherer = g
		}
		metrics = observability.NewMetrics(reg)
	}

	telemetry, err := observability.NewTelemetry(observability.TelemetryConfig{
		TracingEnabled: cfg.Observability.Tracing.Enabled,
		Writer:         o.telemetryWriter,
	})
	if err != nil {
		return nil, fmt.Errorf("aegis: telemetry: %w", err)
	}
	// Telemetry owns exporter goroutines once tracing is on; every
	// failure past this point has to stop them before returning.
	fail := func(err error) (*Guard, error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = telemetry.Shutdown(ctx)
		return nil, err
	}

	conditions, err := cel.NewEvaluator()
	if err != nil {
		return fail(fmt.Errorf("aegis: condition evaluator: %w", err))
	}

	creds := memory.NewCredentialStore()
	perms := memory.NewPermissionStoreWithConfig(memory.PermissionStoreConfig{
		TTL: cfg.Cache.PermissionTTLDuration(),
	})
	counter := memory.NewHourlyCounter()
	ledger := wallet.NewLedger(logger)
	trustEngine := trust.NewEngine(logger)
	detector := anomaly.NewDetector(logger)
	spendBreaker := breaker.NewBreaker(cfg.Breaker.Window(), cfg.Breaker.ThresholdPct, logger)
	spendBreaker.SetMultiplier(cfg.Breaker.BaselineMultiplier)
	promptFirewall := firewall.NewFirewallWithThreshold(cfg.Firewall.BlockThreshold)
	sanitizer := validation.NewSanitizer()
	queue := approval.NewQueue(cfg.Approval.Capacity, cfg.Approval.TTLDuration(), logger)

	gateOpts := []service.GateOption{
		service.WithMetrics(metrics),
		service.WithTracer(telemetry.Tracer("gate")),
		service.WithConditionValidator(conditions.ValidateExpression),
	}
	if cfg.Cache.ResultSize > 0 {
		gateOpts = append(gateOpts, service.WithCacheSize(cfg.Cache.ResultSize))
	}
	gate := service.NewGateService(logger, gateOpts...)

	registry := service.NewAgentRegistry(creds, perms, trustEngine, ledger, detector, spendBreaker, logger)

	packGrants := map[string][]policy.Permission{}
	if o.pack != nil {
		known := make(map[string]bool, len(cfg.Agents))
		for _, a := range cfg.Agents {
			known[a.ID] = true
		}
		packGrants = o.pack.ByAgent()
		for id := range packGrants {
			if !known[id] {
				return fail(fmt.Errorf("aegis: permission pack grants to unknown agent %q", id))
			}
		}
	}

	var granted []policy.Permission
	for _, a := range cfg.Agents {
		seed := service.AgentSeed{
			ID:         a.ID,
			Name:       a.Name,
			Type:       a.Type,
			TrustScore: a.Trust,
			KeyHashes:  cfg.KeyHashesFor(a.ID),
			Wallet: service.WalletSeed{
				Balance:      a.Wallet.Balance,
				DailyLimit:   a.Wallet.DailyLimit,
				MonthlyLimit: a.Wallet.MonthlyLimit,
			},
		}
		for _, pc := range a.Permissions {
			seed.Permissions = append(seed.Permissions, pc.Permission())
		}
		seed.Permissions = append(seed.Permissions, packGrants[a.ID]...)
		if a.Profile != nil {
			seed.Profile = &service.ProfileSeed{
				TypicalServices:    a.Profile.TypicalServices,
				TypicalHours:       a.Profile.TypicalHours,
				AvgRequestsPerHour: a.Profile.AvgRequestsPerHour,
			}
		}
		if _, err := registry.Register(seed); err != nil {
			return fail(fmt.Errorf("aegis: agent %q: %w", a.ID, err))
		}
		granted = append(granted, seed.Permissions...)
	}
	if err := gate.Reload(granted); err != nil {
		return fail(fmt.Errorf("aegis: permission grants: %w", err))
	}

	ring, store, err := composeAuditStore(cfg, o, logger)
	if err != nil {
		return fail(err)
	}

	auditOpts := []service.AuditOption{}
	if cfg.Audit.ChannelSize > 0 {
		auditOpts = append(auditOpts, service.WithChannelSize(cfg.Audit.ChannelSize))
	}
	if cfg.Audit.BatchSize > 0 {
		auditOpts = append(auditOpts, service.WithBatchSize(cfg.Audit.BatchSize))
	}
	if d := cfg.Audit.FlushIntervalDuration(); d > 0 {
		auditOpts = append(auditOpts, service.WithFlushInterval(d))
	}
	if cfg.Audit.SendTimeout != "" {
		// "0" is meaningful: drop immediately when the channel is full.
		auditOpts = append(auditOpts, service.WithSendTimeout(cfg.Audit.SendTimeoutDuration()))
	}
	if cfg.Audit.WarningThreshold > 0 {
		auditOpts = append(auditOpts, service.WithWarningThreshold(cfg.Audit.WarningThreshold))
	}
	if metrics != nil {
		auditOpts = append(auditOpts, service.WithAuditMetrics(metrics))
	}
	recorder := service.NewAuditService(store, logger, auditOpts...)

	var rebuild time.Duration
	if cfg.Anomaly.Enabled {
		rebuild = profileRebuildInterval
	}
	pipe := service.NewPipelineService(service.PipelineDeps{
		Registry:    registry,
		Gate:        gate,
		Audit:       recorder,
		Stats:       service.NewStatsService(),
		Conditions:  conditions,
		Counter:     counter,
		Queue:       queue,
		Ledger:      ledger,
		TrustEngine: trustEngine,
		Detector:    detector,
		Breaker:     spendBreaker,
		Firewall:    promptFirewall,
		Sanitizer:   sanitizer,
		Permissions: perms,
		Metrics:     metrics,
		Tracer:      telemetry.Tracer("pipeline"),
		Logger:      logger,
	}, service.PipelineOptions{
		RequireKey:             cfg.Auth.RequireKey,
		FirewallEnabled:        cfg.Firewall.Enabled,
		AnomalyEnabled:         cfg.Anomaly.Enabled,
		DenyOnAnomaly:          cfg.Anomaly.DenyOnAnomaly,
		ApprovalMode:           pipeline.ApprovalMode(cfg.Approval.Mode),
		ProfileRebuildInterval: rebuild,
		Clock:                  o.clock,
	})
	pipe.Start(context.Background())

	return &Guard{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		gate:      gate,
		pipeline:  pipe,
		recorder:  recorder,
		ring:      ring,
		store:     store,
		telemetry: telemetry,
		gatherer:  gatherer,
	}, nil
}

// resolveConfig picks the configuration source. WithConfig wins over
// WithConfigFile; with neither, the built-in defaults apply and no file
// or environment is consulted.
func resolveConfig(o options) (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	if o.configFile != "" {
		config.InitViper(o.configFile)
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("aegis: %w", err)
		}
		return cfg, nil
	}
	cfg := &config.Config{}
	cfg.SetDefaults()
	return cfg, nil
}

// composeAuditStore builds the audit write target: an in-memory ring for
// RecentDecisions, the configured durable backend, and any caller sink,
// teed together. WithoutAudit replaces the lot with a discard store and
// a nil ring.
func composeAuditStore(cfg *config.Config, o options, logger *slog.Logger) (*memory.AuditStore, domaudit.Store, error) {
	if o.noAudit {
		return nil, discardStore{}, nil
	}

	ring := memory.NewAuditStore(cfg.Audit.CacheSize)
	tee := teeStore{ring}

	kind, path := cfg.Audit.ParseOutput()
	switch kind {
	case config.AuditOutputFile:
		backend, err := auditfile.NewStore(auditfile.Config{
			Dir:           path,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
			CacheSize:     cfg.Audit.CacheSize,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("aegis: audit store: %w", err)
		}
		tee = append(tee, backend)
	case config.AuditOutputSQLite:
		backend, err := sqlite.NewStore(path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("aegis: audit store: %w", err)
		}
		tee = append(tee, backend)
	}

	if o.sink != nil {
		tee = append(tee, o.sink)
	}
	if len(tee) == 1 {
		return ring, ring, nil
	}
	return ring, tee, nil
}

// Evaluate runs the pure decision gates over one input. No pipeline
// state is read or written; identical inputs yield identical decisions.
func (g *Guard) Evaluate(ctx context.Context, in PolicyInput) (PolicyDecision, error) {
	return g.gate.Evaluate(ctx, in)
}

// Authorize runs one request through the full pipeline. The Verdict
// carries the outcome; on refusal the error wraps one of this package's
// sentinel errors.
func (g *Guard) Authorize(ctx context.Context, req *Request) (Verdict, error) {
	return g.pipeline.Authorize(ctx, req)
}

// Approve resolves a pending review in the agent's favor. Requests
// waiting in await mode unblock with OutcomeApproved.
func (g *Guard) Approve(id, decidedBy, note string) error {
	return g.pipeline.Approve(id, decidedBy, note)
}

// Reject resolves a pending review against the agent.
func (g *Guard) Reject(id, decidedBy, note string) error {
	return g.pipeline.Reject(id, decidedBy, note)
}

// PendingReviews lists reviews awaiting a human decision.
func (g *Guard) PendingReviews() []*Review {
	return g.pipeline.PendingReviews()
}

// Stats returns a snapshot of the decision counters.
func (g *Guard) Stats() Stats {
	return g.pipeline.Stats()
}

// DroppedAuditRecords reports how many audit records were shed under
// backpressure.
func (g *Guard) DroppedAuditRecords() int64 {
	return g.recorder.DroppedRecords()
}

// RecentDecisions returns up to n audit records, newest first, from the
// in-memory ring. Nil when the Guard was built WithoutAudit.
func (g *Guard) RecentDecisions(n int) []DecisionRecord {
	if g.ring == nil {
		return nil
	}
	return g.ring.Recent(n)
}

// Gatherer exposes the Guard's metric registry. Nil when metrics are
// disabled, or when WithRegisterer supplied a registerer that is not
// also a Gatherer.
func (g *Guard) Gatherer() prometheus.Gatherer {
	return g.gatherer
}

// Config returns the effective configuration the Guard booted with.
func (g *Guard) Config() *Config {
	return g.cfg
}

// Close stops the pipeline workers, flushes and closes the audit trail,
// and shuts down telemetry. Safe to call more than once.
func (g *Guard) Close() error {
	g.closeOnce.Do(func() {
		g.pipeline.Close()
		if err := g.store.Close(); err != nil {
			g.closeErr = fmt.Errorf("aegis: close audit store: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.telemetry.Shutdown(ctx); err != nil && g.closeErr == nil {
			g.closeErr = err
		}
	})
	return g.closeErr
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fe-row/AEGIS/internal/adapter/outbound/memory"
	"github.com/fe-row/AEGIS/internal/domain/anomaly"
	"github.com/fe-row/AEGIS/internal/domain/approval"
	"github.com/fe-row/AEGIS/internal/domain/audit"
	"github.com/fe-row/AEGIS/internal/domain/breaker"
	"github.com/fe-row/AEGIS/internal/domain/firewall"
	"github.com/fe-row/AEGIS/internal/domain/pipeline"
	"github.com/fe-row/AEGIS/internal/domain/trust"
	"github.com/fe-row/AEGIS/internal/domain/validation"
	"github.com/fe-row/AEGIS/internal/domain/wallet"
	"github.com/fe-row/AEGIS/internal/observability"
)

// PipelineDeps are the components the pipeline chain is built from.
type PipelineDeps struct {
	Registry    *AgentRegistry
	Gate        *GateService
	Audit       *AuditService
	Stats       *StatsService
	Conditions  pipeline.ConditionEvaluator // optional
	Counter     *memory.HourlyCounter
	Queue       *approval.Queue
	Ledger      *wallet.Ledger
	TrustEngine *trust.Engine
	Detector    *anomaly.Detector
	Breaker     *breaker.Breaker
	Firewall    *firewall.Firewall
	Sanitizer   *validation.Sanitizer
	Permissions *memory.PermissionStore
	Metrics     *observability.Metrics // optional
	Tracer      trace.Tracer           // optional
	Logger      *slog.Logger
}

// PipelineOptions are the deployment knobs for chain construction.
type PipelineOptions struct {
	// RequireKey refuses requests without a valid API key.
	RequireKey bool
	// FirewallEnabled inserts the prompt firewall stage.
	FirewallEnabled bool
	// AnomalyEnabled inserts the behavior anomaly stage.
	AnomalyEnabled bool
	// DenyOnAnomaly hard-blocks anomalous requests instead of only
	// burning trust.
	DenyOnAnomaly bool
	// ApprovalMode selects how review requirements are resolved.
	ApprovalMode pipeline.ApprovalMode
	// ProfileRebuildInterval drives the periodic behavior profile
	// rebuild. Zero disables the rebuild worker.
	ProfileRebuildInterval time.Duration
	// Clock pins the evaluation clock. Nil uses the wall clock.
	Clock func() time.Time
}

// PipelineService owns the authorization chain and the lifecycles of its
// background workers: the audit writer, the approval sweeper, the hourly
// counter cleanup, and the profile rebuild ticker.
//
// It also owns the panic response to a breaker trip: freeze the wallet,
// burn and quarantine trust, deactivate the agent, and record the panic.
type PipelineService struct {
	chain    *pipeline.Chain
	deps     PipelineDeps
	opts     PipelineOptions
	tracer   trace.Tracer
	logger   *slog.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// statsBridge fans stage statistics out to the in-memory stats service
// and, when wired, the Prometheus counters.
type statsBridge struct {
	stats   *StatsService
	metrics *observability.Metrics
}

func (b *statsBridge) RecordOutcome(outcome pipeline.Outcome) {
	b.stats.RecordOutcome(outcome)
	if b.metrics != nil {
		b.metrics.DecisionsTotal.WithLabelValues(string(outcome)).Inc()
	}
}

func (b *statsBridge) RecordStageBlock(stage string) {
	b.stats.RecordStageBlock(stage)
	if b.metrics != nil {
		b.metrics.StageBlocksTotal.WithLabelValues(stage).Inc()
	}
}

func (b *statsBridge) RecordLatency(d time.Duration) {
	b.stats.RecordLatency(d)
}

var _ pipeline.StatsRecorder = (*statsBridge)(nil)

// NewPipelineService builds the interceptor chain in stage order and
// returns the service. Start must be called before Authorize for the
// background workers to run.
func NewPipelineService(deps PipelineDeps, opts PipelineOptions) *PipelineService {
	logger := deps.Logger
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("pipeline")
	}

	stats := &statsBridge{stats: deps.Stats, metrics: deps.Metrics}

	// Composed inside out; the head runs first.
	var head pipeline.Interceptor
	head = pipeline.NewSettleInterceptor(deps.Ledger, deps.Breaker, deps.Detector, deps.TrustEngine, deps.Counter, logger)
	head = pipeline.NewApprovalInterceptor(deps.Queue, deps.TrustEngine, opts.ApprovalMode, head, logger)
	head = pipeline.NewPolicyInterceptor(deps.Gate, deps.Conditions, deps.Counter, deps.TrustEngine, head, logger)
	head = pipeline.NewBreakerInterceptor(deps.Breaker, head, logger)
	head = pipeline.NewWalletInterceptor(deps.Ledger, head, logger)
	head = pipeline.NewPermissionInterceptor(deps.Permissions, head, logger)
	if opts.AnomalyEnabled {
		head = pipeline.NewAnomalyInterceptor(deps.Detector, deps.TrustEngine, opts.DenyOnAnomaly, head, logger)
	}
	if opts.FirewallEnabled {
		head = pipeline.NewFirewallInterceptor(deps.Firewall, deps.TrustEngine, head, logger)
	}
	head = pipeline.NewIdentifyInterceptor(deps.Registry, deps.TrustEngine, opts.RequireKey, head, logger)
	head = pipeline.NewAuditInterceptor(deps.Audit, stats, head, logger)
	head = pipeline.NewValidateInterceptor(deps.Sanitizer, head, logger)

	return &PipelineService{
		chain:  pipeline.NewChainWithClock(head, opts.Clock),
		deps:   deps,
		opts:   opts,
		tracer: tracer,
		logger: logger,
	}
}

// Start launches the background workers. They stop when ctx is cancelled
// or Close is called.
func (s *PipelineService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.deps.Audit.Start(ctx)
	s.deps.Queue.StartSweeper(ctx)
	s.deps.Counter.StartCleanup(ctx)

	if s.opts.ProfileRebuildInterval > 0 {
		s.wg.Add(1)
		go s.rebuildWorker(ctx)
	}
}

// Authorize runs one request through the chain. The returned error is the
// chain's terminal error; callers branch on the sentinel errors with
// errors.Is while the Verdict carries the full outcome.
func (s *PipelineService) Authorize(ctx context.Context, req *pipeline.ActionRequest) (pipeline.Verdict, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.authorize",
		trace.WithAttributes(
			attribute.String("agent_id", req.AgentID),
			attribute.String("service", req.Service),
			attribute.String("action", req.Action),
		))
	defer span.End()

	verdict, err := s.chain.Run(ctx, req)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, pipeline.ErrBreakerTripped) {
			s.breakerPanic(ctx, req)
		}
	}
	span.SetAttributes(attribute.String("outcome", string(verdict.Outcome)))

	if s.deps.Metrics != nil {
		s.deps.Metrics.PendingApprovals.Set(float64(len(s.deps.Queue.ListPending())))
	}

	return verdict, err
}

// Approve resolves a pending review in the agent's favor.
func (s *PipelineService) Approve(id, decidedBy, note string) error {
	return s.deps.Queue.Approve(id, decidedBy, note)
}

// Reject resolves a pending review against the agent.
func (s *PipelineService) Reject(id, decidedBy, note string) error {
	return s.deps.Queue.Reject(id, decidedBy, note)
}

// PendingReviews lists the reviews currently awaiting a decision.
func (s *PipelineService) PendingReviews() []*approval.Request {
	return s.deps.Queue.ListPending()
}

// Stats returns the run statistics snapshot.
func (s *PipelineService) Stats() Stats {
	return s.deps.Stats.GetStats()
}

// Close stops the background workers and flushes pending audit records.
// Safe to call multiple times.
func (s *PipelineService) Close() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.deps.Queue.Stop()
		s.deps.Counter.Stop()
		s.deps.Audit.Stop()
	})
}

// breakerPanic is the full response to a spending-velocity trip: freeze
// the wallet, burn and quarantine trust, deactivate the agent, and record
// the panic in the audit trail.
func (s *PipelineService) breakerPanic(ctx context.Context, req *pipeline.ActionRequest) {
	agentID := req.AgentID

	if err := s.deps.Ledger.Freeze(agentID); err != nil {
		s.logger.Error("panic response: wallet freeze failed",
			"agent_id", agentID, "error", err)
	}
	if _, err := s.deps.TrustEngine.Apply(agentID, trust.EventBreakerTripped); err != nil {
		s.logger.Error("panic response: trust penalty failed",
			"agent_id", agentID, "error", err)
	}
	if err := s.deps.TrustEngine.Quarantine(agentID); err != nil {
		s.logger.Error("panic response: quarantine failed",
			"agent_id", agentID, "error", err)
	}
	if err := s.deps.Registry.Deactivate(ctx, agentID); err != nil {
		s.logger.Error("panic response: deactivate failed",
			"agent_id", agentID, "error", err)
	}

	s.deps.Audit.Record(audit.DecisionRecord{
		Timestamp: time.Now().UTC(),
		RequestID: req.ID,
		AgentID:   agentID,
		Action:    req.Action,
		Service:   req.Service,
		Decision:  audit.DecisionDeny,
		Stage:     pipeline.StageBreaker,
		CostUSD:   req.EstimatedCost,
		Metadata:  map[string]interface{}{"event": "panic", "wallet_frozen": true},
	})

	s.logger.Error("circuit breaker panic response applied",
		"agent_id", agentID,
		"action", req.Action,
		"service", req.Service)
}

// rebuildWorker periodically rebuilds every behavior profile from the
// recorded action history.
func (s *PipelineService) rebuildWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.ProfileRebuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deps.Detector.RebuildAll()
			s.logger.Debug("behavior profiles rebuilt")
		}
	}
}

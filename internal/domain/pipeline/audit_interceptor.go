package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/audit"
)

// Recorder records audit events.
// This interface is satisfied by service.AuditService.
type Recorder interface {
	Record(record audit.DecisionRecord)
}

// StatsRecorder records decision statistics.
// This interface is satisfied by service.StatsService.
type StatsRecorder interface {
	RecordOutcome(outcome Outcome)
	RecordStageBlock(stage string)
	RecordLatency(d time.Duration)
}

// AuditInterceptor wraps the rest of the chain to capture its outcome.
// Every request that reaches it produces exactly one audit record,
// whether it was allowed, denied mid-chain, or escalated.
type AuditInterceptor struct {
	recorder Recorder
	stats    StatsRecorder // optional, may be nil
	next     Interceptor
	logger   *slog.Logger
}

// NewAuditInterceptor creates a new AuditInterceptor.
func NewAuditInterceptor(recorder Recorder, stats StatsRecorder, next Interceptor, logger *slog.Logger) *AuditInterceptor {
	return &AuditInterceptor{
		recorder: recorder,
		stats:    stats,
		next:     next,
		logger:   logger,
	}
}

// Intercept runs the rest of the chain, then records the decision and
// stats. The chain's result passes through unchanged.
func (a *AuditInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StageAudit

	err := a.next.Intercept(ctx, st)

	outcome, reasons := outcomeOf(st, err)
	latency := time.Since(st.StartedAt)

	if a.stats != nil {
		a.stats.RecordOutcome(outcome)
		if err != nil {
			a.stats.RecordStageBlock(st.Stage)
		}
		a.stats.RecordLatency(latency)
	}

	record := a.buildRecord(st, outcome, reasons, latency)
	a.recorder.Record(record)

	a.logger.Debug("audit recorded",
		"request_id", record.RequestID,
		"decision", record.Decision,
		"stage", record.Stage,
		"latency_us", record.LatencyMicros)

	return err
}

// buildRecord creates a DecisionRecord from the terminal state.
func (a *AuditInterceptor) buildRecord(st *State, outcome Outcome, reasons []string, latency time.Duration) audit.DecisionRecord {
	req := st.Request

	record := audit.DecisionRecord{
		Timestamp:     st.StartedAt,
		RequestID:     req.ID,
		AgentID:       req.AgentID,
		Action:        req.Action,
		Service:       req.Service,
		Params:        audit.RedactParams(req.Params),
		PromptSnippet: audit.TruncateSnippet(req.Prompt),
		TrustScore:    st.Trust,
		CostUSD:       req.EstimatedCost,
		LatencyMicros: latency.Microseconds(),
		Stage:         st.Stage,
	}

	if st.Agent != nil {
		record.AgentName = st.Agent.Name
	}
	if st.Risk != "" {
		record.RiskLevel = string(st.Risk)
	}
	if st.Decision != nil {
		record.RequiresReview = st.Decision.RequiresHITL
	}
	if st.Firewall != nil {
		record.Threats = st.Firewall.Threats
	}
	if st.Anomaly != nil {
		record.Threats = append(record.Threats, st.Anomaly.Anomalies...)
	}
	if st.ApprovalID != "" {
		record.Metadata = map[string]interface{}{"approval_id": st.ApprovalID}
	}

	switch outcome {
	case OutcomeAllowed, OutcomeApproved:
		record.Decision = audit.DecisionAllow
	case OutcomeEscalated:
		record.Decision = audit.DecisionEscalate
	default:
		record.Decision = audit.DecisionDeny
		record.DenyReasons = reasons
	}

	return record
}

// Compile-time check that AuditInterceptor implements Interceptor.
var _ Interceptor = (*AuditInterceptor)(nil)

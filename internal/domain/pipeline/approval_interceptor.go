package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fe-row/AEGIS/internal/domain/approval"
	"github.com/fe-row/AEGIS/internal/domain/trust"
)

// ApprovalMode selects how the pipeline handles a review requirement.
type ApprovalMode string

const (
	// ApprovalAwait parks the request until a reviewer decides or the
	// review expires.
	ApprovalAwait ApprovalMode = "await"
	// ApprovalDefer submits the review and returns an escalated verdict
	// immediately. The caller resolves the review out of band.
	ApprovalDefer ApprovalMode = "defer"
	// ApprovalAuto approves reviews instantly. For non-interactive runs.
	ApprovalAuto ApprovalMode = "auto-approve"
)

// ApprovalInterceptor routes review-flagged requests through the human
// approval queue. Requests that pass the policy gate without a review
// requirement flow straight through.
type ApprovalInterceptor struct {
	queue  *approval.Queue
	trust  *trust.Engine
	mode   ApprovalMode
	next   Interceptor
	logger *slog.Logger
}

// NewApprovalInterceptor creates a new ApprovalInterceptor.
func NewApprovalInterceptor(queue *approval.Queue, trustEngine *trust.Engine, mode ApprovalMode, next Interceptor, logger *slog.Logger) *ApprovalInterceptor {
	if mode == "" {
		mode = ApprovalAwait
	}
	return &ApprovalInterceptor{
		queue:  queue,
		trust:  trustEngine,
		mode:   mode,
		next:   next,
		logger: logger,
	}
}

// Intercept submits flagged requests for review and resolves them per the
// configured mode.
func (a *ApprovalInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StageApproval

	if st.Decision == nil || !st.Decision.RequiresHITL {
		return a.next.Intercept(ctx, st)
	}

	req := st.Request
	reason := fmt.Sprintf("Action '%s' on '%s' requires review (trust %.1f)",
		req.Action, req.Service, st.Trust)
	pending := a.queue.Submit(req.AgentID, req.Action, req.Service, req.Params, reason, req.EstimatedCost)
	st.ApprovalID = pending.ID
	st.ApprovalStatus = approval.StatusPending

	switch a.mode {
	case ApprovalDefer:
		a.logger.Info("request escalated for review",
			"agent_id", req.AgentID,
			"approval_id", pending.ID)
		st.Outcome = OutcomeEscalated
		return nil

	case ApprovalAuto:
		if err := a.queue.Approve(pending.ID, "auto", "approved automatically"); err != nil {
			return fmt.Errorf("auto-approve: %w", err)
		}
	}

	result, err := a.queue.Await(ctx, pending)
	if err != nil {
		a.logger.Warn("gave up waiting for review",
			"agent_id", req.AgentID,
			"approval_id", pending.ID,
			"error", err)
		return fmt.Errorf("%w: %s", ErrApprovalTimeout, pending.ID)
	}
	st.ApprovalStatus = result.Status

	switch result.Status {
	case approval.StatusApproved:
		a.logger.Info("review approved",
			"agent_id", req.AgentID,
			"approval_id", pending.ID,
			"decided_by", result.DecidedBy)
		st.Outcome = OutcomeApproved
		return a.next.Intercept(ctx, st)

	case approval.StatusRejected:
		if score, err := a.trust.Apply(req.AgentID, trust.EventReviewRejected); err == nil {
			st.Trust = score
		}
		a.logger.Info("review rejected",
			"agent_id", req.AgentID,
			"approval_id", pending.ID,
			"decided_by", result.DecidedBy,
			"note", result.Note)
		return fmt.Errorf("%w: %s", ErrApprovalRejected, result.Note)

	default:
		// Expired
		return fmt.Errorf("%w: %s", ErrApprovalTimeout, pending.ID)
	}
}

// Compile-time check that ApprovalInterceptor implements Interceptor.
var _ Interceptor = (*ApprovalInterceptor)(nil)

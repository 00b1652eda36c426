package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fe-row/AEGIS/internal/domain/validation"
)

// ValidateInterceptor enforces the request contract before any decision
// logic runs: identifier shapes, parameter sanitation, prompt sanitation.
// Violations are contract errors, not deny reasons, and short-circuit the
// chain before the audit stage.
type ValidateInterceptor struct {
	sanitizer *validation.Sanitizer
	next      Interceptor
	logger    *slog.Logger
}

// NewValidateInterceptor creates a new ValidateInterceptor.
func NewValidateInterceptor(sanitizer *validation.Sanitizer, next Interceptor, logger *slog.Logger) *ValidateInterceptor {
	return &ValidateInterceptor{
		sanitizer: sanitizer,
		next:      next,
		logger:    logger,
	}
}

// Intercept validates identifiers, sanitizes params and prompt, and
// assigns a request ID when the caller left it empty.
func (v *ValidateInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StageValidate
	req := st.Request

	if err := v.sanitizer.ValidateActionFields(req.AgentID, req.Action, req.Service); err != nil {
		v.logger.Warn("request failed validation",
			"agent_id", req.AgentID,
			"action", req.Action,
			"service", req.Service,
			"error", err)
		return err
	}

	params, err := v.sanitizer.SanitizeParams(req.Params)
	if err != nil {
		v.logger.Warn("request params failed sanitation",
			"agent_id", req.AgentID,
			"error", err)
		return err
	}
	req.Params = params

	cleaned, err := v.sanitizer.SanitizeValue(req.Prompt)
	if err != nil {
		return err
	}
	if s, ok := cleaned.(string); ok {
		req.Prompt = s
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	return v.next.Intercept(ctx, st)
}

// Compile-time check that ValidateInterceptor implements Interceptor.
var _ Interceptor = (*ValidateInterceptor)(nil)

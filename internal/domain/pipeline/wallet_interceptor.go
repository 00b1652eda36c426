package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fe-row/AEGIS/internal/domain/wallet"
)

// WalletInterceptor snapshots the agent's balance for the policy gate and
// refuses spends the ledger cannot honor: missing wallet, frozen wallet,
// daily or monthly limit. A plain insufficient-balance refusal is NOT
// blocked here; the policy gate's funds check owns that reason, and it
// must appear alongside any other failing gates.
type WalletInterceptor struct {
	ledger *wallet.Ledger
	next   Interceptor
	logger *slog.Logger
}

// NewWalletInterceptor creates a new WalletInterceptor.
func NewWalletInterceptor(ledger *wallet.Ledger, next Interceptor, logger *slog.Logger) *WalletInterceptor {
	return &WalletInterceptor{
		ledger: ledger,
		next:   next,
		logger: logger,
	}
}

// Intercept snapshots the balance and runs the ledger pre-check.
func (w *WalletInterceptor) Intercept(ctx context.Context, st *State) error {
	st.Stage = StageWallet
	req := st.Request

	balance, err := w.ledger.Balance(req.AgentID)
	if err != nil {
		w.logger.Info("wallet refused spend",
			"agent_id", req.AgentID,
			"reason", "No wallet found")
		return fmt.Errorf("%w: No wallet found", ErrWalletRefused)
	}
	st.Balance = balance

	// CanSpend checks balance before the daily and monthly limits, so a
	// refusal while balance covers the cost can only be frozen or a limit.
	if ok, reason := w.ledger.CanSpend(req.AgentID, req.EstimatedCost); !ok && balance >= req.EstimatedCost {
		w.logger.Info("wallet refused spend",
			"agent_id", req.AgentID,
			"cost", req.EstimatedCost,
			"reason", reason)
		return fmt.Errorf("%w: %s", ErrWalletRefused, reason)
	}

	return w.next.Intercept(ctx, st)
}

// Compile-time check that WalletInterceptor implements Interceptor.
var _ Interceptor = (*WalletInterceptor)(nil)

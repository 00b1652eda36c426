package wallet

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Ledger errors.
var (
	ErrNotFound            = errors.New("no wallet found")
	ErrFrozen              = errors.New("wallet is frozen")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDailyLimit          = errors.New("daily limit exceeded")
	ErrMonthlyLimit        = errors.New("monthly limit exceeded")
)

// Ledger holds all agent wallets and their transaction history.
type Ledger struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	txs     map[string][]Transaction
	logger  *slog.Logger
	now     func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{
		wallets: make(map[string]*Wallet),
		txs:     make(map[string][]Transaction),
		logger:  logger,
		now:     time.Now,
	}
}

// Seed registers a wallet for an agent. A zero daily or monthly limit
// means unlimited. Re-seeding replaces the wallet and clears its history.
func (l *Ledger) Seed(agentID string, balance, dailyLimit, monthlyLimit float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	l.wallets[agentID] = &Wallet{
		AgentID:          agentID,
		Balance:          balance,
		DailyLimit:       dailyLimit,
		MonthlyLimit:     monthlyLimit,
		lastDailyReset:   now,
		lastMonthlyReset: now,
	}
	l.txs[agentID] = nil
}

// Balance returns the agent's current balance.
func (l *Ledger) Balance(agentID string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[agentID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	return w.Balance, nil
}

// CanSpend reports whether the agent may spend the amount right now and
// the reason when it may not. The reason strings are stable; the audit
// trail and verdicts carry them verbatim.
func (l *Ledger) CanSpend(agentID string, amount float64) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[agentID]
	if !ok {
		return false, "No wallet found"
	}
	if w.Frozen {
		return false, "Wallet is frozen"
	}
	l.rolloverLocked(w)

	if w.Balance < amount {
		return false, fmt.Sprintf("Insufficient balance: %.4f < %.4f", w.Balance, amount)
	}
	// A zero limit is unlimited.
	if w.DailyLimit > 0 && w.SpentToday+amount > w.DailyLimit {
		return false, fmt.Sprintf("Daily limit exceeded: %.2f + %.2f > %.2f",
			w.SpentToday, amount, w.DailyLimit)
	}
	if w.MonthlyLimit > 0 && w.SpentThisMonth+amount > w.MonthlyLimit {
		return false, "Monthly limit exceeded"
	}
	return true, "OK"
}

// Charge atomically re-checks the spending constraints and debits the
// wallet, recording a transaction. The check and debit happen under one
// lock acquisition so concurrent charges cannot overdraw.
func (l *Ledger) Charge(agentID string, amount float64, description, service, action string) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	if w.Frozen {
		return nil, fmt.Errorf("%w: %s", ErrFrozen, agentID)
	}
	l.rolloverLocked(w)

	if w.Balance < amount {
		return nil, fmt.Errorf("%w: %.4f < %.4f", ErrInsufficientBalance, w.Balance, amount)
	}
	if w.DailyLimit > 0 && w.SpentToday+amount > w.DailyLimit {
		return nil, fmt.Errorf("%w: %.2f + %.2f > %.2f",
			ErrDailyLimit, w.SpentToday, amount, w.DailyLimit)
	}
	if w.MonthlyLimit > 0 && w.SpentThisMonth+amount > w.MonthlyLimit {
		return nil, ErrMonthlyLimit
	}

	w.Balance -= amount
	w.SpentToday += amount
	w.SpentThisMonth += amount

	tx := Transaction{
		Amount:      -amount,
		Description: description,
		Service:     service,
		Action:      action,
		Timestamp:   l.now().UTC(),
	}
	l.appendTxLocked(agentID, tx)

	l.logger.Debug("wallet charged",
		"agent_id", agentID,
		"amount", amount,
		"balance", w.Balance,
	)
	return &tx, nil
}

// TopUp credits the wallet.
func (l *Ledger) TopUp(agentID string, amount float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[agentID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	w.Balance += amount
	l.appendTxLocked(agentID, Transaction{
		Amount:      amount,
		Description: "Top-up",
		Service:     "aegis_internal",
		Action:      "transaction",
		Timestamp:   l.now().UTC(),
	})
	return w.Balance, nil
}

// Freeze blocks all further spending from the wallet.
func (l *Ledger) Freeze(agentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	w.Frozen = true
	l.logger.Warn("wallet frozen", "agent_id", agentID)
	return nil
}

// Frozen reports whether the wallet is frozen.
func (l *Ledger) Frozen(agentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[agentID]
	return ok && w.Frozen
}

// SpendInWindow sums the debits recorded within the trailing window.
func (l *Ledger) SpendInWindow(agentID string, window time.Duration) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().UTC().Add(-window)
	var total float64
	for _, tx := range l.txs[agentID] {
		if tx.Amount < 0 && !tx.Timestamp.Before(cutoff) {
			total += -tx.Amount
		}
	}
	return total
}

// Snapshot returns a copy of the wallet for reporting.
func (l *Ledger) Snapshot(agentID string) (Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[agentID]
	if !ok {
		return Wallet{}, fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	l.rolloverLocked(w)
	return *w, nil
}

// rolloverLocked lazily resets the daily and monthly accumulators when
// their periods have passed. Caller must hold l.mu.
func (l *Ledger) rolloverLocked(w *Wallet) {
	now := l.now().UTC()
	ly, lm, ld := w.lastDailyReset.UTC().Date()
	ny, nm, nd := now.Date()
	if ly != ny || lm != nm || ld != nd {
		w.SpentToday = 0
		w.lastDailyReset = now
	}

	my, mm, _ := w.lastMonthlyReset.UTC().Date()
	if my != ny || mm != nm {
		w.SpentThisMonth = 0
		w.lastMonthlyReset = now
	}
}

// appendTxLocked records a transaction, evicting the oldest entries
// beyond the history cap. Caller must hold l.mu.
func (l *Ledger) appendTxLocked(agentID string, tx Transaction) {
	txs := append(l.txs[agentID], tx)
	if len(txs) > maxTransactions {
		txs = txs[len(txs)-maxTransactions:]
	}
	l.txs[agentID] = txs
}

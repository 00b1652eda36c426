// Package wallet implements per-agent micro-wallets: balances, daily
// and monthly spending limits, and a freeze switch the panic path can
// throw. Wallets live in memory and are seeded from configuration.
package wallet

import "time"

// Wallet is one agent's spending account.
type Wallet struct {
	AgentID        string
	Balance        float64
	DailyLimit     float64
	MonthlyLimit   float64
	SpentToday     float64
	SpentThisMonth float64
	Frozen         bool

	lastDailyReset   time.Time
	lastMonthlyReset time.Time
}

// Transaction records one balance movement. Debits carry a negative
// amount.
type Transaction struct {
	Amount      float64
	Description string
	Service     string
	Action      string
	Timestamp   time.Time
}

// maxTransactions bounds the per-wallet transaction history.
const maxTransactions = 1000

package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fe-row/AEGIS/internal/domain/wallet"
)

func TestWalletInterceptorSnapshotsBalance(t *testing.T) {
	ledger := wallet.NewLedger(testLogger())
	ledger.Seed("agent-1", 100, 0, 0)

	rec := &recordingInterceptor{}
	w := NewWalletInterceptor(ledger, rec, testLogger())

	st := NewState(emailRequest(), testNow())
	if err := w.Intercept(context.Background(), st); err != nil {
		t.Fatalf("Intercept returned error: %v", err)
	}
	if !rec.called {
		t.Fatal("next interceptor not called")
	}
	if st.Balance != 100 {
		t.Errorf("balance snapshot = %v, want 100", st.Balance)
	}
	if st.Stage != StageWallet {
		t.Errorf("stage = %q, want wallet", st.Stage)
	}
}

func TestWalletInterceptorMissingWallet(t *testing.T) {
	rec := &recordingInterceptor{}
	w := NewWalletInterceptor(wallet.NewLedger(testLogger()), rec, testLogger())

	err := w.Intercept(context.Background(), NewState(emailRequest(), testNow()))
	if !errors.Is(err, ErrWalletRefused) {
		t.Fatalf("err = %v, want ErrWalletRefused", err)
	}
	if !strings.Contains(err.Error(), "No wallet found") {
		t.Errorf("err = %v, want the missing-wallet refusal", err)
	}
	if rec.called {
		t.Error("next interceptor called without a wallet")
	}
}

func TestWalletInterceptorFrozenWallet(t *testing.T) {
	ledger := wallet.NewLedger(testLogger())
	ledger.Seed("agent-1", 100, 0, 0)
	if err := ledger.Freeze("agent-1"); err != nil {
		t.Fatalf("Freeze returned error: %v", err)
	}

	rec := &recordingInterceptor{}
	w := NewWalletInterceptor(ledger, rec, testLogger())

	err := w.Intercept(context.Background(), NewState(emailRequest(), testNow()))
	if !errors.Is(err, ErrWalletRefused) {
		t.Fatalf("err = %v, want ErrWalletRefused", err)
	}
	if !strings.Contains(err.Error(), "frozen") {
		t.Errorf("err = %v, want the frozen refusal", err)
	}
	if rec.called {
		t.Error("next interceptor called with a frozen wallet")
	}
}

func TestWalletInterceptorDailyLimit(t *testing.T) {
	ledger := wallet.NewLedger(testLogger())
	ledger.Seed("agent-1", 100, 5, 0)
	if _, err := ledger.Charge("agent-1", 4, "prior spend", "email", "send_email"); err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}

	rec := &recordingInterceptor{}
	w := NewWalletInterceptor(ledger, rec, testLogger())

	req := emailRequest()
	req.EstimatedCost = 3
	err := w.Intercept(context.Background(), NewState(req, testNow()))

	if !errors.Is(err, ErrWalletRefused) {
		t.Fatalf("err = %v, want ErrWalletRefused", err)
	}
	if !strings.Contains(err.Error(), "Daily limit exceeded") {
		t.Errorf("err = %v, want the daily-limit refusal", err)
	}
	if rec.called {
		t.Error("next interceptor called past the daily limit")
	}
}

// A balance that cannot cover the cost is the funds gate's reason, not a
// wallet block, so the chain continues.
func TestWalletInterceptorInsufficientBalancePassesThrough(t *testing.T) {
	ledger := wallet.NewLedger(testLogger())
	ledger.Seed("agent-1", 1, 0, 0)

	rec := &recordingInterceptor{}
	w := NewWalletInterceptor(ledger, rec, testLogger())

	req := emailRequest()
	req.EstimatedCost = 5
	st := NewState(req, testNow())

	if err := w.Intercept(context.Background(), st); err != nil {
		t.Fatalf("Intercept returned error: %v", err)
	}
	if !rec.called {
		t.Fatal("next interceptor not called")
	}
	if st.Balance != 1 {
		t.Errorf("balance snapshot = %v, want 1", st.Balance)
	}
}

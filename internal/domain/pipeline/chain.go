package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/validation"
)

// Chain runs requests through an interceptor chain and assembles verdicts.
//
// The head interceptor owns the stage order; Chain only resolves the
// evaluation clock, runs the chain, and finalizes. Contract violations
// (malformed requests) return an error without a verdict; every other
// outcome, block or pass, returns a populated Verdict alongside the
// chain's error so callers can branch on sentinels with errors.Is.
type Chain struct {
	head Interceptor
	now  func() time.Time
}

// NewChain creates a Chain over a composed interceptor head.
func NewChain(head Interceptor) *Chain {
	return NewChainWithClock(head, nil)
}

// NewChainWithClock creates a Chain with an explicit evaluation clock.
// A nil clock uses the wall clock. Deterministic replays and tests pin
// the clock so time-window gates evaluate reproducibly.
func NewChainWithClock(head Interceptor, now func() time.Time) *Chain {
	if now == nil {
		now = time.Now
	}
	return &Chain{
		head: head,
		now:  now,
	}
}

// Run authorizes one request.
func (c *Chain) Run(ctx context.Context, req *ActionRequest) (Verdict, error) {
	st := NewState(req, c.now())
	err := c.head.Intercept(ctx, st)

	var contract *validation.ValidationError
	if errors.As(err, &contract) {
		return Verdict{}, err
	}

	return Finalize(st, err), err
}

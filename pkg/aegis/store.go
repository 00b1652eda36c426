package aegis

import (
	"context"

	"github.com/fe-row/AEGIS/internal/domain/audit"
)

// teeStore fans every write out to all member stores. The audit worker
// sees one store; the members are the recent-records ring, the durable
// backend, and any caller-provided sink.
type teeStore []audit.Store

func (t teeStore) Append(ctx context.Context, records ...audit.DecisionRecord) error {
	var firstErr error
	for _, s := range t {
		if err := s.Append(ctx, records...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t teeStore) Flush(ctx context.Context) error {
	var firstErr error
	for _, s := range t {
		if err := s.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t teeStore) Close() error {
	var firstErr error
	for _, s := range t {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// discardStore drops every record. Used by WithoutAudit.
type discardStore struct{}

func (discardStore) Append(context.Context, ...audit.DecisionRecord) error { return nil }
func (discardStore) Flush(context.Context) error                           { return nil }
func (discardStore) Close() error                                          { return nil }

// Compile-time interface verification.
var (
	_ audit.Store = (teeStore)(nil)
	_ audit.Store = discardStore{}
)

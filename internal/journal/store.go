// Package journal persists admission decisions and cycle summaries so
// operators can audit what the sentinel did and why after the fact.
package journal

import (
	"context"

	"lp_sentinel/internal/core"
)

// Store is the persistence boundary for the decision journal. Writes happen
// on the scan loop, so implementations must be safe for concurrent use.
type Store interface {
	// SaveCycle records the summary of one completed scan cycle. Saving the
	// same cycle id twice replaces the earlier record.
	SaveCycle(ctx context.Context, summary core.CycleSummary) error

	// SaveDecision appends one per-pool admission decision.
	SaveDecision(ctx context.Context, event core.DecisionEvent) error

	// RecentDecisions returns up to limit decisions, newest first. A
	// non-positive limit returns everything the backend retains.
	RecentDecisions(ctx context.Context, limit int) ([]core.DecisionEvent, error)

	// LatestCycle returns the most recently started cycle summary, or nil
	// when the journal is empty.
	LatestCycle(ctx context.Context) (*core.CycleSummary, error)

	// Close releases the underlying storage resources.
	Close() error
}

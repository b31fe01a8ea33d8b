package quorum

import "context"

// ResultHook receives every finalized aggregation. Hooks run asynchronously
// after finalization; a failing hook is logged, never propagated, and cannot
// block or veto the decision.
type ResultHook interface {
	OnDecisionFinalized(ctx context.Context, result Result) error
}

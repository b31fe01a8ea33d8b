package engine

import "errors"

// Error taxonomy of the aggregation engine. All errors are local,
// synchronous, and deterministic; the engine never retries on its own.
var (
	// ErrInvalidRequest marks a malformed DecisionRequest or vote (empty
	// required_agents, past deadline, unknown enum tag). Not retriable;
	// the caller must fix its input.
	ErrInvalidRequest = errors.New("engine: invalid request")

	// ErrNotFound marks an unknown request_id.
	ErrNotFound = errors.New("engine: request not found")

	// ErrUnauthorizedAgent marks a vote from an agent outside
	// required_agents. The vote is retained for audit but excluded from
	// aggregation; the submission is otherwise not fatal.
	ErrUnauthorizedAgent = errors.New("engine: agent not in required set")

	// ErrInsufficientData marks a forced or timed-out aggregation with zero
	// counted votes. No result is produced; the engine does not invent a
	// default decision.
	ErrInsufficientData = errors.New("engine: no decisions to aggregate")

	// ErrNotReady marks a result query against a request that is still
	// collecting votes.
	ErrNotReady = errors.New("engine: request not finalized")
)

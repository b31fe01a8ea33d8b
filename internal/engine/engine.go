// Package engine owns the lifecycle of decision requests: it tracks which
// agents are required, collects their votes concurrently, detects
// completeness and timeout, and finalizes exactly one AggregatedDecision per
// request.
//
// Locking model: a global RWMutex guards only the request map; each request
// carries its own mutex. State transitions and the synchronous aggregation
// they trigger run under the per-request lock, so unrelated requests never
// block each other. Timeouts are evaluated lazily: any call that touches a
// request past its deadline transitions it; SweepExpired exists for
// deployments that want bounded staleness without traffic.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/quorumlab/quorum/internal/model"
	"github.com/quorumlab/quorum/internal/registry"
	"github.com/quorumlab/quorum/internal/strategy"
)

var engineMeter = otel.GetMeterProvider().Meter("quorum/engine")

// hookTimeout bounds how long a single ResultHook may run.
const hookTimeout = 10 * time.Second

// ResultHook receives every finalized aggregation. Hooks run asynchronously
// after finalization; a failing hook is logged, never propagated.
type ResultHook interface {
	OnDecisionFinalized(ctx context.Context, d model.AggregatedDecision) error
}

// SubmitStatus acknowledges a vote submission.
type SubmitStatus string

const (
	// SubmitAccepted: the vote was counted; the request is still open.
	SubmitAccepted SubmitStatus = "accepted"
	// SubmitFinalized: this vote completed the required set and aggregation
	// ran synchronously before the call returned.
	SubmitFinalized SubmitStatus = "finalized"
	// SubmitAuditOnly: the request was already finalized or timed out; the
	// vote is retained for audit and does not affect the stored result.
	SubmitAuditOnly SubmitStatus = "audit_only"
)

// Status is a point-in-time view of one request's lifecycle.
type Status struct {
	RequestID       string
	State           model.RequestState
	CompletedVia    model.RequestState // COMPLETE, TIMED_OUT or FORCED once terminal
	RequiredAgents  []string
	RespondedAgents []string
	Deadline        time.Time
}

// Config holds the engine's dependencies and tunables.
type Config struct {
	Logger      *slog.Logger
	Registry    *registry.Registry
	Params      strategy.Params
	HistorySize int
	Hooks       []ResultHook
}

// Engine is the decision aggregator facade.
type Engine struct {
	logger   *slog.Logger
	registry *registry.Registry
	params   strategy.Params
	history  *History
	hooks    []ResultHook
	now      func() time.Time

	mu       sync.RWMutex
	requests map[string]*requestState
}

// requestState is the tracked lifecycle of one DecisionRequest. All fields
// after the mutex are guarded by it.
type requestState struct {
	mu           sync.Mutex
	req          model.DecisionRequest
	required     map[string]bool
	state        model.RequestState
	completedVia model.RequestState
	votes        map[string]model.AgentDecision // authoritative vote per agent
	order        []string                       // agent submission order
	audit        []model.AgentDecision          // unauthorized and late votes
	result       *model.AggregatedDecision
}

// New creates an engine with an empty request tracker.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	return &Engine{
		logger:   logger,
		registry: reg,
		params:   cfg.Params,
		history:  NewHistory(cfg.HistorySize),
		hooks:    cfg.Hooks,
		now:      time.Now,
		requests: make(map[string]*requestState),
	}
}

// Registry returns the shared agent profile registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// RequestDecision validates and registers a new decision request, returning
// its id. A missing request_id is generated server-side.
func (e *Engine) RequestDecision(req model.DecisionRequest) (string, error) {
	if len(req.RequiredAgents) == 0 {
		return "", fmt.Errorf("%w: required_agents must not be empty", ErrInvalidRequest)
	}
	required := make(map[string]bool, len(req.RequiredAgents))
	for _, id := range req.RequiredAgents {
		if err := model.ValidateAgentID(id); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if required[id] {
			return "", fmt.Errorf("%w: duplicate required agent %s", ErrInvalidRequest, id)
		}
		required[id] = true
	}
	now := e.now()
	if !req.Deadline.After(now) {
		return "", fmt.Errorf("%w: deadline must be in the future", ErrInvalidRequest)
	}
	if _, err := model.ParseAggregationMethod(string(req.Method)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := model.ParseConflictResolution(string(req.Resolution)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := model.ValidateDomain(req.Domain); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	req.CreatedAt = now

	rs := &requestState{
		req:      req,
		required: required,
		state:    model.StateOpen,
		votes:    make(map[string]model.AgentDecision, len(required)),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.requests[req.RequestID]; exists {
		return "", fmt.Errorf("%w: request_id %s already exists", ErrInvalidRequest, req.RequestID)
	}
	e.requests[req.RequestID] = rs

	e.logger.Info("decision request registered",
		"request_id", req.RequestID,
		"required_agents", len(required),
		"method", req.Method,
		"deadline", req.Deadline,
	)
	return req.RequestID, nil
}

// SubmitAgentDecision records one agent's vote. Safe for concurrent use
// across and within requests. When this vote completes the required set,
// aggregation runs synchronously under the per-request lock before the call
// returns, which keeps the finalization order deterministic.
func (e *Engine) SubmitAgentDecision(requestID string, d model.AgentDecision) (SubmitStatus, error) {
	if err := model.ValidateAgentDecision(d); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	rs, ok := e.lookup(requestID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}

	d.RequestID = requestID
	if d.SubmittedAt.IsZero() {
		d.SubmittedAt = e.now()
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	// Submissions against a terminal request are audit-only acknowledgments,
	// never errors, and never mutate the stored result.
	if rs.state != model.StateOpen {
		rs.audit = append(rs.audit, d)
		return SubmitAuditOnly, nil
	}

	// Lazy timeout: a late arrival first settles the request over the votes
	// that made the deadline, then is itself retained for audit only.
	if e.now().After(rs.req.Deadline) {
		e.timeoutLocked(rs)
		rs.audit = append(rs.audit, d)
		return SubmitAuditOnly, nil
	}

	if !rs.required[d.AgentID] {
		rs.audit = append(rs.audit, d)
		return "", fmt.Errorf("%w: %s", ErrUnauthorizedAgent, d.AgentID)
	}

	// A resubmission from the same agent replaces the prior vote while the
	// request is still open; the agent keeps its original tally position.
	if _, resubmitted := rs.votes[d.AgentID]; !resubmitted {
		rs.order = append(rs.order, d.AgentID)
	}
	rs.votes[d.AgentID] = d

	if len(rs.votes) == len(rs.required) {
		rs.state = model.StateComplete
		if err := e.finalizeLocked(rs, model.StateComplete); err != nil {
			return "", err
		}
		return SubmitFinalized, nil
	}
	return SubmitAccepted, nil
}

// ForceAggregation finalizes a request over whatever votes exist, even if
// incomplete. Idempotent once a result exists. With zero counted votes it
// fails with ErrInsufficientData instead of fabricating a result.
func (e *Engine) ForceAggregation(requestID string) (model.AggregatedDecision, error) {
	rs, ok := e.lookup(requestID)
	if !ok {
		return model.AggregatedDecision{}, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.result != nil {
		return *rs.result, nil
	}
	if len(rs.votes) == 0 {
		return model.AggregatedDecision{}, fmt.Errorf("%w: request %s", ErrInsufficientData, requestID)
	}
	rs.state = model.StateForced
	if err := e.finalizeLocked(rs, model.StateForced); err != nil {
		return model.AggregatedDecision{}, err
	}
	return *rs.result, nil
}

// AggregatedDecision returns the finalized result, ErrNotReady while the
// request is still open, or ErrInsufficientData for a terminal request that
// had no votes. Never blocks on in-flight submissions beyond the brief
// per-request critical section.
func (e *Engine) AggregatedDecision(requestID string) (model.AggregatedDecision, error) {
	rs, ok := e.lookup(requestID)
	if !ok {
		return model.AggregatedDecision{}, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	e.touchLocked(rs)

	if rs.result != nil {
		return *rs.result, nil
	}
	if rs.state == model.StateOpen {
		return model.AggregatedDecision{}, fmt.Errorf("%w: %s", ErrNotReady, requestID)
	}
	return model.AggregatedDecision{}, fmt.Errorf("%w: request %s", ErrInsufficientData, requestID)
}

// RequestStatus reports the request's lifecycle state and which agents have
// responded, applying the lazy timeout check like any other touch.
func (e *Engine) RequestStatus(requestID string) (Status, error) {
	rs, ok := e.lookup(requestID)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	e.touchLocked(rs)

	responded := make([]string, len(rs.order))
	copy(responded, rs.order)
	required := make([]string, 0, len(rs.required))
	for id := range rs.required {
		required = append(required, id)
	}
	sort.Strings(required)

	return Status{
		RequestID:       requestID,
		State:           rs.state,
		CompletedVia:    rs.completedVia,
		RequiredAgents:  required,
		RespondedAgents: responded,
		Deadline:        rs.req.Deadline,
	}, nil
}

// Statistics summarizes the retained history of finalized aggregations.
func (e *Engine) Statistics() Stats { return e.history.Stats() }

// OpenRequests counts requests still collecting votes.
func (e *Engine) OpenRequests() int {
	e.mu.RLock()
	states := make([]*requestState, 0, len(e.requests))
	for _, rs := range e.requests {
		states = append(states, rs)
	}
	e.mu.RUnlock()

	open := 0
	for _, rs := range states {
		rs.mu.Lock()
		if rs.state == model.StateOpen {
			open++
		}
		rs.mu.Unlock()
	}
	return open
}

// SweepExpired transitions every open request past its deadline, aggregating
// over the partial vote sets. Returns the number of requests transitioned.
// This is an operational convenience; late submissions self-trigger the
// same transition, so it is safe to never call it.
func (e *Engine) SweepExpired() int {
	e.mu.RLock()
	states := make([]*requestState, 0, len(e.requests))
	for _, rs := range e.requests {
		states = append(states, rs)
	}
	e.mu.RUnlock()

	swept := 0
	for _, rs := range states {
		rs.mu.Lock()
		if rs.state == model.StateOpen && e.now().After(rs.req.Deadline) {
			e.timeoutLocked(rs)
			swept++
		}
		rs.mu.Unlock()
	}
	return swept
}

func (e *Engine) lookup(requestID string) (*requestState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rs, ok := e.requests[requestID]
	return rs, ok
}

// touchLocked applies the lazy deadline check. Caller holds rs.mu.
func (e *Engine) touchLocked(rs *requestState) {
	if rs.state == model.StateOpen && e.now().After(rs.req.Deadline) {
		e.timeoutLocked(rs)
	}
}

// timeoutLocked transitions an open request to TIMED_OUT and aggregates over
// the partial vote set. With zero votes the request stays TIMED_OUT without
// a result and queries report ErrInsufficientData. Caller holds rs.mu.
func (e *Engine) timeoutLocked(rs *requestState) {
	rs.state = model.StateTimedOut
	if len(rs.votes) == 0 {
		rs.completedVia = model.StateTimedOut
		e.logger.Warn("request timed out with no votes",
			"request_id", rs.req.RequestID)
		return
	}
	if err := e.finalizeLocked(rs, model.StateTimedOut); err != nil {
		e.logger.Error("timeout aggregation failed",
			"request_id", rs.req.RequestID, "error", err)
	}
}

// finalizeLocked runs aggregation and publishes the result exactly once.
// Caller holds rs.mu and has already set the intermediate state.
func (e *Engine) finalizeLocked(rs *requestState, via model.RequestState) error {
	start := time.Now()

	votes := make([]model.AgentDecision, 0, len(rs.order))
	for _, agentID := range rs.order {
		votes = append(votes, rs.votes[agentID])
	}

	out, err := strategy.Aggregate(strategy.Input{
		Votes:      votes,
		Domain:     rs.req.Domain,
		Method:     rs.req.Method,
		Resolution: rs.req.Resolution,
		Profiles:   e.registry,
		Params:     e.params,
	})
	if err != nil {
		if err == strategy.ErrNoVotes {
			return fmt.Errorf("%w: request %s", ErrInsufficientData, rs.req.RequestID)
		}
		return fmt.Errorf("aggregate request %s: %w", rs.req.RequestID, err)
	}

	agg := model.AggregatedDecision{
		RequestID:            rs.req.RequestID,
		FinalDecision:        out.Decision,
		Confidence:           out.Confidence,
		ConsensusLevel:       out.ConsensusLevel,
		Distribution:         out.Distribution,
		ContributingAgents:   append([]string(nil), rs.order...),
		ReasoningSummary:     strategy.SummarizeReasoning(votes, e.params),
		EvidenceSummary:      strategy.SummarizeEvidence(votes, e.params),
		MethodUsed:           rs.req.Method,
		ResolutionUsed:       out.ResolutionUsed,
		EscalationNeeded:     out.Escalated,
		AggregationLatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
		FinalizedAt:          e.now(),
	}

	rs.result = &agg
	rs.completedVia = via
	rs.state = model.StateFinalized
	e.history.Append(agg)
	e.recordMetrics(agg)

	e.logger.Info("decision finalized",
		"request_id", agg.RequestID,
		"final_decision", agg.FinalDecision,
		"consensus_level", agg.ConsensusLevel,
		"method", agg.MethodUsed,
		"via", via,
		"contributing_agents", len(agg.ContributingAgents),
	)

	if len(e.hooks) > 0 {
		hooks := e.hooks
		logger := e.logger
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()
			for _, h := range hooks {
				if err := h.OnDecisionFinalized(ctx, agg); err != nil {
					logger.Warn("result hook failed", "request_id", agg.RequestID, "error", err)
				}
			}
		}()
	}
	return nil
}

// recordMetrics emits aggregation count and latency (best-effort,
// instruments lazily created).
func (e *Engine) recordMetrics(agg model.AggregatedDecision) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("quorum.method", string(agg.MethodUsed)),
		attribute.String("quorum.final_decision", string(agg.FinalDecision)),
		attribute.Bool("quorum.escalated", agg.EscalationNeeded),
	}
	if counter, err := engineMeter.Int64Counter("engine.aggregations"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
	}
	if hist, err := engineMeter.Float64Histogram("engine.aggregation.duration",
		otelmetric.WithUnit("ms")); err == nil {
		hist.Record(ctx, agg.AggregationLatencyMS, otelmetric.WithAttributes(attrs...))
	}
}

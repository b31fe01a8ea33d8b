package model

import (
	"fmt"
	"time"
)

// DecisionType is the verdict an agent (or the engine) renders for a
// transaction. The set is closed: unknown values are rejected at the API
// boundary, never defaulted.
type DecisionType string

const (
	DecisionApprove DecisionType = "APPROVE"
	DecisionDecline DecisionType = "DECLINE"
	DecisionFlag    DecisionType = "FLAG"
	DecisionReview  DecisionType = "REVIEW"
)

// ParseDecisionType validates a decision type tag.
func ParseDecisionType(s string) (DecisionType, error) {
	switch DecisionType(s) {
	case DecisionApprove, DecisionDecline, DecisionFlag, DecisionReview:
		return DecisionType(s), nil
	}
	return "", fmt.Errorf("unknown decision_type %q", s)
}

// Severity ranks decision types safest-first: a higher rank blocks more.
// DECLINE(3) > REVIEW(2) > FLAG(1) > APPROVE(0).
func (d DecisionType) Severity() int {
	switch d {
	case DecisionDecline:
		return 3
	case DecisionReview:
		return 2
	case DecisionFlag:
		return 1
	default:
		return 0
	}
}

// DecisionBySeverity returns the decision type with the given severity rank.
func DecisionBySeverity(rank int) DecisionType {
	switch rank {
	case 3:
		return DecisionDecline
	case 2:
		return DecisionReview
	case 1:
		return DecisionFlag
	default:
		return DecisionApprove
	}
}

// AggregationMethod selects how counted votes are fused into one decision.
type AggregationMethod string

const (
	MethodMajorityVote       AggregationMethod = "MAJORITY_VOTE"
	MethodWeightedVote       AggregationMethod = "WEIGHTED_VOTE"
	MethodConsensus          AggregationMethod = "CONSENSUS"
	MethodExpertOverride     AggregationMethod = "EXPERT_OVERRIDE"
	MethodConfidenceWeighted AggregationMethod = "CONFIDENCE_WEIGHTED"
	MethodHybrid             AggregationMethod = "HYBRID"
)

// ParseAggregationMethod validates an aggregation method tag.
func ParseAggregationMethod(s string) (AggregationMethod, error) {
	switch AggregationMethod(s) {
	case MethodMajorityVote, MethodWeightedVote, MethodConsensus,
		MethodExpertOverride, MethodConfidenceWeighted, MethodHybrid:
		return AggregationMethod(s), nil
	}
	return "", fmt.Errorf("unknown aggregation_method %q", s)
}

// ConflictResolution is the tie-breaking strategy invoked when the primary
// method cannot produce an unambiguous winner.
type ConflictResolution string

const (
	ResolveMostConservative  ConflictResolution = "MOST_CONSERVATIVE"
	ResolveHighestConfidence ConflictResolution = "HIGHEST_CONFIDENCE"
	ResolveExpertPriority    ConflictResolution = "EXPERT_PRIORITY"
	ResolveWeightedAverage   ConflictResolution = "WEIGHTED_AVERAGE"
	ResolveEscalateToHuman   ConflictResolution = "ESCALATE_TO_HUMAN"
)

// ParseConflictResolution validates a conflict resolution tag.
func ParseConflictResolution(s string) (ConflictResolution, error) {
	switch ConflictResolution(s) {
	case ResolveMostConservative, ResolveHighestConfidence,
		ResolveExpertPriority, ResolveWeightedAverage, ResolveEscalateToHuman:
		return ConflictResolution(s), nil
	}
	return "", fmt.Errorf("unknown conflict_resolution %q", s)
}

// RequestState is the lifecycle state of a decision request.
type RequestState string

const (
	StateOpen      RequestState = "OPEN"
	StateComplete  RequestState = "COMPLETE"
	StateTimedOut  RequestState = "TIMED_OUT"
	StateForced    RequestState = "FORCED"
	StateFinalized RequestState = "FINALIZED"
)

// DecisionRequest is one fusion task for one transaction.
type DecisionRequest struct {
	RequestID          string             `json:"request_id"`
	TransactionContext map[string]any     `json:"transaction_context,omitempty"`
	RequiredAgents     []string           `json:"required_agents"`
	Domain             string             `json:"domain,omitempty"`
	Method             AggregationMethod  `json:"aggregation_method"`
	Resolution         ConflictResolution `json:"conflict_resolution"`
	Deadline           time.Time          `json:"deadline"`
	CreatedAt          time.Time          `json:"created_at"`
}

// AgentDecision is one agent's vote on one request.
type AgentDecision struct {
	RequestID        string       `json:"request_id"`
	AgentID          string       `json:"agent_id"`
	Decision         DecisionType `json:"decision_type"`
	Confidence       float64      `json:"confidence"`
	Reasoning        string       `json:"reasoning,omitempty"`
	Evidence         []string     `json:"evidence,omitempty"`
	ProcessingTimeMS float64      `json:"processing_time_ms"`
	SubmittedAt      time.Time    `json:"submitted_at"`
}

// AggregatedDecision is the fusion result. Immutable after creation.
type AggregatedDecision struct {
	RequestID            string               `json:"request_id"`
	FinalDecision        DecisionType         `json:"final_decision"`
	Confidence           float64              `json:"confidence"`
	ConsensusLevel       float64              `json:"consensus_level"`
	Distribution         map[DecisionType]int `json:"decision_distribution"`
	ContributingAgents   []string             `json:"contributing_agents"`
	ReasoningSummary     []string             `json:"reasoning_summary,omitempty"`
	EvidenceSummary      []string             `json:"evidence_summary,omitempty"`
	MethodUsed           AggregationMethod    `json:"method_used"`
	ResolutionUsed       ConflictResolution   `json:"conflict_resolution_used,omitempty"`
	EscalationNeeded     bool                 `json:"escalation_needed"`
	AggregationLatencyMS float64              `json:"aggregation_latency_ms"`
	FinalizedAt          time.Time            `json:"finalized_at"`
}

// Field length limits for AgentDecision fields. A single oversized vote must
// not be able to bloat the reasoning/evidence summaries handed to auditors.
const (
	MaxReasoningLen    = 16 * 1024
	MaxEvidenceItems   = 100
	MaxEvidenceItemLen = 4 * 1024
)

// ValidateAgentDecision checks the vote's scalar ranges and field limits.
func ValidateAgentDecision(d AgentDecision) error {
	if err := ValidateAgentID(d.AgentID); err != nil {
		return err
	}
	if _, err := ParseDecisionType(string(d.Decision)); err != nil {
		return err
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %v", d.Confidence)
	}
	if d.ProcessingTimeMS < 0 {
		return fmt.Errorf("processing_time_ms must be >= 0, got %v", d.ProcessingTimeMS)
	}
	if len(d.Reasoning) > MaxReasoningLen {
		return fmt.Errorf("reasoning exceeds maximum length of %d bytes", MaxReasoningLen)
	}
	if len(d.Evidence) > MaxEvidenceItems {
		return fmt.Errorf("evidence exceeds maximum of %d items", MaxEvidenceItems)
	}
	for i, ev := range d.Evidence {
		if len(ev) > MaxEvidenceItemLen {
			return fmt.Errorf("evidence[%d] exceeds maximum length of %d bytes", i, MaxEvidenceItemLen)
		}
	}
	return nil
}

package quorum

import "time"

// Decision type tags accepted by the server.
const (
	DecisionApprove = "APPROVE"
	DecisionDecline = "DECLINE"
	DecisionFlag    = "FLAG"
	DecisionReview  = "REVIEW"
)

// Aggregation method tags accepted by the server.
const (
	MethodMajorityVote       = "MAJORITY_VOTE"
	MethodWeightedVote       = "WEIGHTED_VOTE"
	MethodConsensus          = "CONSENSUS"
	MethodExpertOverride     = "EXPERT_OVERRIDE"
	MethodConfidenceWeighted = "CONFIDENCE_WEIGHTED"
	MethodHybrid             = "HYBRID"
)

// Conflict resolution tags accepted by the server.
const (
	ResolveMostConservative  = "MOST_CONSERVATIVE"
	ResolveHighestConfidence = "HIGHEST_CONFIDENCE"
	ResolveExpertPriority    = "EXPERT_PRIORITY"
	ResolveWeightedAverage   = "WEIGHTED_AVERAGE"
	ResolveEscalateToHuman   = "ESCALATE_TO_HUMAN"
)

// CreateRequestInput is the body for POST /v1/requests.
type CreateRequestInput struct {
	RequestID          string         `json:"request_id,omitempty"`
	TransactionContext map[string]any `json:"transaction_context,omitempty"`
	RequiredAgents     []string       `json:"required_agents"`
	Domain             string         `json:"domain,omitempty"`
	AggregationMethod  string         `json:"aggregation_method"`
	ConflictResolution string         `json:"conflict_resolution"`
	Deadline           time.Time      `json:"deadline"`
}

// CreateRequestResponse is the server's acknowledgment of a new request.
type CreateRequestResponse struct {
	RequestID string `json:"request_id"`
	State     string `json:"state"`
}

// SubmitDecisionInput is the body for POST /v1/requests/{id}/decisions.
// AgentID may be left empty; the server uses the authenticated identity.
type SubmitDecisionInput struct {
	AgentID          string   `json:"agent_id,omitempty"`
	DecisionType     string   `json:"decision_type"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning,omitempty"`
	Evidence         []string `json:"evidence,omitempty"`
	ProcessingTimeMS float64  `json:"processing_time_ms,omitempty"`
}

// SubmitDecisionResponse acknowledges a vote submission. Status is
// "accepted", "finalized", or "audit_only".
type SubmitDecisionResponse struct {
	RequestID string `json:"request_id"`
	AgentID   string `json:"agent_id"`
	Status    string `json:"status"`
	State     string `json:"state"`
}

// RequestStatus mirrors the server's view of a request lifecycle.
type RequestStatus struct {
	RequestID       string    `json:"request_id"`
	State           string    `json:"state"`
	CompletedVia    string    `json:"completed_via,omitempty"`
	RequiredAgents  []string  `json:"required_agents"`
	RespondedAgents []string  `json:"responded_agents"`
	Deadline        time.Time `json:"deadline"`
}

// AggregatedDecision is the finalized fusion result for a request.
type AggregatedDecision struct {
	RequestID            string         `json:"request_id"`
	FinalDecision        string         `json:"final_decision"`
	Confidence           float64        `json:"confidence"`
	ConsensusLevel       float64        `json:"consensus_level"`
	Distribution         map[string]int `json:"decision_distribution"`
	ContributingAgents   []string       `json:"contributing_agents"`
	ReasoningSummary     []string       `json:"reasoning_summary,omitempty"`
	EvidenceSummary      []string       `json:"evidence_summary,omitempty"`
	MethodUsed           string         `json:"method_used"`
	ResolutionUsed       string         `json:"conflict_resolution_used,omitempty"`
	EscalationNeeded     bool           `json:"escalation_needed"`
	AggregationLatencyMS float64        `json:"aggregation_latency_ms"`
	FinalizedAt          time.Time      `json:"finalized_at"`
}

// Statistics summarizes the server's retained aggregation history.
type Statistics struct {
	TotalDecisions           int            `json:"total_decisions"`
	Distribution             map[string]int `json:"decision_distribution"`
	MethodCounts             map[string]int `json:"method_counts"`
	EscalationCount          int            `json:"escalation_count"`
	MeanConfidence           float64        `json:"mean_confidence"`
	MinConfidence            float64        `json:"min_confidence"`
	MaxConfidence            float64        `json:"max_confidence"`
	MeanConsensusLevel       float64        `json:"mean_consensus_level"`
	MinConsensusLevel        float64        `json:"min_consensus_level"`
	MaxConsensusLevel        float64        `json:"max_consensus_level"`
	MeanAggregationLatencyMS float64        `json:"mean_aggregation_latency_ms"`
}

// CreateAgentInput is the body for POST /v1/agents (admin-only).
type CreateAgentInput struct {
	AgentID   string             `json:"agent_id"`
	Role      string             `json:"role,omitempty"`
	APIKey    string             `json:"api_key"`
	Weight    *float64           `json:"weight,omitempty"`
	Expertise map[string]float64 `json:"expertise,omitempty"`
}

// AgentProfile is an agent's aggregation profile as stored by the server.
type AgentProfile struct {
	AgentID   string             `json:"agent_id"`
	Weight    float64            `json:"weight"`
	Expertise map[string]float64 `json:"expertise,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	OpenRequests int    `json:"open_requests"`
	Uptime       int64  `json:"uptime_seconds"`
}

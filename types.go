package quorum

import "time"

// Public types for the embedding API. These are standalone structs with no
// internal imports; the conversion helpers live in quorum.go, the only file
// that sees both sides of the boundary.

// Request describes one decision request to open.
type Request struct {
	// RequestID is optional; the engine generates one when empty.
	RequestID          string
	TransactionContext map[string]any
	RequiredAgents     []string
	Domain             string
	AggregationMethod  string
	ConflictResolution string
	Deadline           time.Time
}

// Vote is one agent's verdict on a request.
type Vote struct {
	AgentID          string
	Decision         string
	Confidence       float64
	Reasoning        string
	Evidence         []string
	ProcessingTimeMS float64
}

// Result is the finalized aggregation for a request.
type Result struct {
	RequestID            string
	FinalDecision        string
	Confidence           float64
	ConsensusLevel       float64
	Distribution         map[string]int
	ContributingAgents   []string
	ReasoningSummary     []string
	EvidenceSummary      []string
	MethodUsed           string
	ConflictResolution   string
	EscalationNeeded     bool
	AggregationLatencyMS float64
	FinalizedAt          time.Time
}

// Status is a point-in-time view of one request's lifecycle.
type Status struct {
	RequestID       string
	State           string
	CompletedVia    string
	RequiredAgents  []string
	RespondedAgents []string
	Deadline        time.Time
}

// Statistics summarizes recent aggregation activity.
type Statistics struct {
	TotalDecisions           int
	Distribution             map[string]int
	MethodCounts             map[string]int
	EscalationCount          int
	MeanConfidence           float64
	MinConfidence            float64
	MaxConfidence            float64
	MeanConsensusLevel       float64
	MinConsensusLevel        float64
	MaxConsensusLevel        float64
	MeanAggregationLatencyMS float64
}

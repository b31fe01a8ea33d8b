package engine

import (
	"sync"

	"github.com/quorumlab/quorum/internal/model"
)

// History is a bounded ring of finalized aggregations kept for analytics.
// Appends never block aggregation for long: the ring holds values, not
// pointers, and statistics are computed on read.
type History struct {
	mu   sync.Mutex
	buf  []model.AggregatedDecision
	next int
	full bool
}

// DefaultHistorySize bounds the retained history when not configured.
const DefaultHistorySize = 1024

// NewHistory creates a ring retaining the last size finalized decisions.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]model.AggregatedDecision, size)}
}

// Append records a finalized decision, evicting the oldest when full.
func (h *History) Append(d model.AggregatedDecision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = d
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

// Snapshot returns the retained decisions in chronological order.
func (h *History) Snapshot() []model.AggregatedDecision {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]model.AggregatedDecision, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]model.AggregatedDecision, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	out = append(out, h.buf[:h.next]...)
	return out
}

// Stats summarizes the retained history for reporting and audit dashboards.
type Stats struct {
	TotalDecisions           int                             `json:"total_decisions"`
	Distribution             map[model.DecisionType]int      `json:"decision_distribution"`
	MethodCounts             map[model.AggregationMethod]int `json:"method_counts"`
	EscalationCount          int                             `json:"escalation_count"`
	MeanConfidence           float64                         `json:"mean_confidence"`
	MinConfidence            float64                         `json:"min_confidence"`
	MaxConfidence            float64                         `json:"max_confidence"`
	MeanConsensusLevel       float64                         `json:"mean_consensus_level"`
	MinConsensusLevel        float64                         `json:"min_consensus_level"`
	MaxConsensusLevel        float64                         `json:"max_consensus_level"`
	MeanAggregationLatencyMS float64                         `json:"mean_aggregation_latency_ms"`
}

// Stats computes summary statistics over the retained history. Everything is
// recomputed from the snapshot on every call, so the result is always
// consistent with a full recompute.
func (h *History) Stats() Stats {
	decisions := h.Snapshot()
	stats := Stats{
		Distribution: make(map[model.DecisionType]int),
		MethodCounts: make(map[model.AggregationMethod]int),
	}
	if len(decisions) == 0 {
		return stats
	}

	stats.TotalDecisions = len(decisions)
	stats.MinConfidence = decisions[0].Confidence
	stats.MaxConfidence = decisions[0].Confidence
	stats.MinConsensusLevel = decisions[0].ConsensusLevel
	stats.MaxConsensusLevel = decisions[0].ConsensusLevel

	var sumConfidence, sumConsensus, sumLatency float64
	for _, d := range decisions {
		stats.Distribution[d.FinalDecision]++
		stats.MethodCounts[d.MethodUsed]++
		if d.EscalationNeeded {
			stats.EscalationCount++
		}
		sumConfidence += d.Confidence
		sumConsensus += d.ConsensusLevel
		sumLatency += d.AggregationLatencyMS
		if d.Confidence < stats.MinConfidence {
			stats.MinConfidence = d.Confidence
		}
		if d.Confidence > stats.MaxConfidence {
			stats.MaxConfidence = d.Confidence
		}
		if d.ConsensusLevel < stats.MinConsensusLevel {
			stats.MinConsensusLevel = d.ConsensusLevel
		}
		if d.ConsensusLevel > stats.MaxConsensusLevel {
			stats.MaxConsensusLevel = d.ConsensusLevel
		}
	}
	n := float64(len(decisions))
	stats.MeanConfidence = sumConfidence / n
	stats.MeanConsensusLevel = sumConsensus / n
	stats.MeanAggregationLatencyMS = sumLatency / n
	return stats
}

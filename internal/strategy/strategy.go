// Package strategy implements the aggregation methods and conflict
// resolution strategies that fuse a set of agent votes into one decision.
//
// Everything here is pure computation over already-collected votes: no I/O,
// no clocks, no locks. The engine calls Aggregate inside a per-request
// critical section, so keeping this package CPU-bound keeps that section
// short.
package strategy

import (
	"errors"
	"math"
	"sort"

	"github.com/quorumlab/quorum/internal/model"
)

// ErrNoVotes is returned when aggregation is attempted over an empty vote
// set. Callers must not treat an empty set as an implicit decision.
var ErrNoVotes = errors.New("strategy: no votes to aggregate")

// massEpsilon bounds float comparison when detecting tied vote masses.
const massEpsilon = 1e-9

// ProfileSource supplies per-agent weights and expertise scores.
// *registry.Registry satisfies it.
type ProfileSource interface {
	Weight(agentID string) float64
	Expertise(agentID, domain string) float64
}

// Params are the tunable constants of the strategy set. The defaults are
// reasonable, not normative; deployments adjust them per risk appetite.
type Params struct {
	// ConsensusThreshold is the minimum winning share of total weight the
	// CONSENSUS method requires before accepting a result.
	ConsensusThreshold float64
	// ExpertMultiplier boosts the top expert's weight under EXPERT_OVERRIDE.
	ExpertMultiplier float64
	// MaxReasons caps the deduplicated reasoning summary.
	MaxReasons int
	// MaxEvidence caps the deduplicated evidence summary.
	MaxEvidence int
}

// DefaultParams returns the design defaults.
func DefaultParams() Params {
	return Params{
		ConsensusThreshold: 0.66,
		ExpertMultiplier:   3.0,
		MaxReasons:         10,
		MaxEvidence:        20,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.ConsensusThreshold <= 0 || p.ConsensusThreshold > 1 {
		p.ConsensusThreshold = d.ConsensusThreshold
	}
	if p.ExpertMultiplier < 1 {
		p.ExpertMultiplier = d.ExpertMultiplier
	}
	if p.MaxReasons <= 0 {
		p.MaxReasons = d.MaxReasons
	}
	if p.MaxEvidence <= 0 {
		p.MaxEvidence = d.MaxEvidence
	}
	return p
}

// Input is one aggregation task over the counted votes of a single request.
type Input struct {
	Votes      []model.AgentDecision // counted votes, submission order
	Domain     string                // declared expertise domain tag, may be empty
	Method     model.AggregationMethod
	Resolution model.ConflictResolution
	Profiles   ProfileSource
	Params     Params
}

// Outcome is the fused result before the engine wraps it into an
// AggregatedDecision.
type Outcome struct {
	Decision       model.DecisionType
	Confidence     float64
	ConsensusLevel float64
	Distribution   map[model.DecisionType]int
	ResolutionUsed model.ConflictResolution // empty when no conflict occurred
	Escalated      bool
}

// Aggregate fuses the counted votes using the configured method, routing to
// the conflict resolution strategy whenever the method cannot produce an
// unambiguous winner.
func Aggregate(in Input) (Outcome, error) {
	if len(in.Votes) == 0 {
		return Outcome{}, ErrNoVotes
	}
	in.Params = in.Params.withDefaults()

	dist := distribution(in.Votes)

	// A single vote is the result verbatim: full consensus, no resolver.
	if len(in.Votes) == 1 {
		v := in.Votes[0]
		return Outcome{
			Decision:       v.Decision,
			Confidence:     v.Confidence,
			ConsensusLevel: 1.0,
			Distribution:   dist,
		}, nil
	}

	switch in.Method {
	case model.MethodMajorityVote:
		return majorityVote(in, dist)
	case model.MethodWeightedVote:
		return weightedVote(in, dist)
	case model.MethodConsensus:
		return consensusVote(in, dist)
	case model.MethodExpertOverride:
		return expertOverride(in, dist)
	case model.MethodConfidenceWeighted:
		return confidenceWeighted(in, dist)
	case model.MethodHybrid:
		return hybrid(in, dist)
	default:
		return Outcome{}, errors.New("strategy: unknown aggregation method")
	}
}

// majorityVote picks the decision with the highest raw count.
func majorityVote(in Input, dist map[model.DecisionType]int) (Outcome, error) {
	mass := tally(in.Votes, func(model.AgentDecision) float64 { return 1 })
	leaders, top, total := leaders(mass)
	if len(leaders) > 1 {
		return resolve(in, leaders, mass, dist)
	}
	return Outcome{
		Decision:       leaders[0],
		Confidence:     clamp01(top / total),
		ConsensusLevel: clamp01(top / total),
		Distribution:   dist,
	}, nil
}

// weightedVote tallies vote mass by static agent weight.
func weightedVote(in Input, dist map[model.DecisionType]int) (Outcome, error) {
	mass := tally(in.Votes, func(v model.AgentDecision) float64 { return in.Profiles.Weight(v.AgentID) })
	leaders, top, total := leaders(mass)
	if len(leaders) > 1 {
		return resolve(in, leaders, mass, dist)
	}
	return Outcome{
		Decision:       leaders[0],
		Confidence:     clamp01(top / total),
		ConsensusLevel: clamp01(top / total),
		Distribution:   dist,
	}, nil
}

// consensusVote is a weighted vote that additionally requires the winner to
// hold at least ConsensusThreshold of the total weight. Falling short of the
// threshold is itself a conflict.
func consensusVote(in Input, dist map[model.DecisionType]int) (Outcome, error) {
	mass := tally(in.Votes, func(v model.AgentDecision) float64 { return in.Profiles.Weight(v.AgentID) })
	leaders, top, total := leaders(mass)
	if len(leaders) > 1 {
		return resolve(in, leaders, mass, dist)
	}
	share := clamp01(top / total)
	if share < in.Params.ConsensusThreshold {
		// Threshold failure is not a tie: every voted type stays a candidate.
		return resolve(in, votedTypes(mass), mass, dist)
	}
	return Outcome{
		Decision:       leaders[0],
		Confidence:     share,
		ConsensusLevel: share,
		Distribution:   dist,
	}, nil
}

// expertOverride multiplies the top domain expert's weight before the
// weighted tally, letting a single authoritative agent outvote the rest.
func expertOverride(in Input, dist map[model.DecisionType]int) (Outcome, error) {
	expert := topExpert(in.Votes, in.Profiles, in.Domain)
	mass := tally(in.Votes, func(v model.AgentDecision) float64 {
		w := in.Profiles.Weight(v.AgentID)
		if v.AgentID == expert {
			w *= in.Params.ExpertMultiplier
		}
		return w
	})
	leaders, top, total := leaders(mass)
	if len(leaders) > 1 {
		return resolve(in, leaders, mass, dist)
	}
	return Outcome{
		Decision:       leaders[0],
		Confidence:     clamp01(top / total),
		ConsensusLevel: clamp01(top / total),
		Distribution:   dist,
	}, nil
}

// confidenceWeighted tallies vote mass by each vote's reported confidence
// rather than static weight.
func confidenceWeighted(in Input, dist map[model.DecisionType]int) (Outcome, error) {
	mass := tally(in.Votes, func(v model.AgentDecision) float64 { return v.Confidence })
	leaders, top, total := leaders(mass)
	if len(leaders) > 1 {
		return resolve(in, leaders, mass, dist)
	}
	winner := leaders[0]

	// If a single vote holds the maximum confidence and it chose the
	// winner, its raw confidence is the result confidence; otherwise the
	// normalized mass.
	confidence := clamp01(top / total)
	if v, unique := maxConfidenceVote(in.Votes); unique && v.Decision == winner {
		confidence = v.Confidence
	}
	return Outcome{
		Decision:       winner,
		Confidence:     confidence,
		ConsensusLevel: clamp01(top / total),
		Distribution:   dist,
	}, nil
}

// hybrid computes WEIGHTED_VOTE and CONFIDENCE_WEIGHTED independently; a
// disagreement between the two is routed to conflict resolution.
func hybrid(in Input, dist map[model.DecisionType]int) (Outcome, error) {
	wIn := in
	wIn.Method = model.MethodWeightedVote
	wOut, err := weightedVote(wIn, dist)
	if err != nil {
		return Outcome{}, err
	}
	cIn := in
	cIn.Method = model.MethodConfidenceWeighted
	cOut, err := confidenceWeighted(cIn, dist)
	if err != nil {
		return Outcome{}, err
	}

	// Either sub-method hitting its own tie already resolved it; a resolved
	// sub-result still participates in the agreement check.
	if wOut.Decision == cOut.Decision {
		out := wOut
		out.Confidence = clamp01((wOut.Confidence + cOut.Confidence) / 2)
		out.ResolutionUsed = ""
		out.Escalated = false
		return out, nil
	}

	mass := tally(in.Votes, func(v model.AgentDecision) float64 { return in.Profiles.Weight(v.AgentID) })
	candidates := dedupeTypes([]model.DecisionType{wOut.Decision, cOut.Decision})
	return resolve(in, candidates, mass, dist)
}

// ── tally helpers ─────────────────────────────────────────────────────────────

func distribution(votes []model.AgentDecision) map[model.DecisionType]int {
	dist := make(map[model.DecisionType]int, 4)
	for _, v := range votes {
		dist[v.Decision]++
	}
	return dist
}

func tally(votes []model.AgentDecision, massOf func(model.AgentDecision) float64) map[model.DecisionType]float64 {
	mass := make(map[model.DecisionType]float64, 4)
	for _, v := range votes {
		mass[v.Decision] += massOf(v)
	}
	return mass
}

// leaders returns the decision types holding the top mass (ties within
// massEpsilon), the top mass, and the total mass. Candidates are ordered
// safest-first for determinism.
func leaders(mass map[model.DecisionType]float64) ([]model.DecisionType, float64, float64) {
	var top, total float64
	for _, m := range mass {
		total += m
		if m > top {
			top = m
		}
	}
	var tied []model.DecisionType
	for d, m := range mass {
		if math.Abs(m-top) < massEpsilon {
			tied = append(tied, d)
		}
	}
	sortBySeverity(tied)
	return tied, top, total
}

// votedTypes returns every decision type with nonzero mass, safest-first.
func votedTypes(mass map[model.DecisionType]float64) []model.DecisionType {
	var types []model.DecisionType
	for d, m := range mass {
		if m > 0 {
			types = append(types, d)
		}
	}
	sortBySeverity(types)
	return types
}

func sortBySeverity(types []model.DecisionType) {
	sort.Slice(types, func(i, j int) bool {
		return types[i].Severity() > types[j].Severity()
	})
}

func dedupeTypes(types []model.DecisionType) []model.DecisionType {
	seen := make(map[model.DecisionType]bool, len(types))
	var out []model.DecisionType
	for _, d := range types {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// topExpert returns the voting agent with the highest expertise score for
// the domain. Ties break on lexicographic agent ID for determinism.
func topExpert(votes []model.AgentDecision, profiles ProfileSource, domain string) string {
	best := ""
	bestScore := math.Inf(-1)
	for _, v := range votes {
		score := profiles.Expertise(v.AgentID, domain)
		if score > bestScore || (score == bestScore && (best == "" || v.AgentID < best)) {
			best = v.AgentID
			bestScore = score
		}
	}
	return best
}

// maxConfidenceVote returns the vote with the highest confidence and whether
// that maximum is unique.
func maxConfidenceVote(votes []model.AgentDecision) (model.AgentDecision, bool) {
	best := votes[0]
	unique := true
	for _, v := range votes[1:] {
		switch {
		case v.Confidence > best.Confidence:
			best = v
			unique = true
		case v.Confidence == best.Confidence:
			unique = false
		}
	}
	return best, unique
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

package strategy

import (
	"errors"
	"math"

	"github.com/quorumlab/quorum/internal/model"
)

// resolve applies the configured conflict resolution strategy. candidates
// are the contested decision types (tied leaders, or every voted type when
// the conflict is a threshold failure), ordered safest-first. mass is the
// tally of the method that detected the conflict; the resolved decision's
// consensus level is its share of that mass. WEIGHTED_AVERAGE is the
// exception: it weighs votes by profile weight, so its share is measured
// against the weight mass instead.
func resolve(in Input, candidates []model.DecisionType, mass map[model.DecisionType]float64, dist map[model.DecisionType]int) (Outcome, error) {
	if len(candidates) == 0 {
		return Outcome{}, errors.New("strategy: conflict with no candidates")
	}

	out := Outcome{
		Distribution:   dist,
		ResolutionUsed: in.Resolution,
	}

	switch in.Resolution {
	case model.ResolveMostConservative:
		// candidates are already ordered safest-first.
		out.Decision = candidates[0]
		out.Confidence = share(mass, out.Decision)

	case model.ResolveHighestConfidence:
		v := highestConfidence(in.Votes)
		out.Decision = v.Decision
		out.Confidence = v.Confidence

	case model.ResolveExpertPriority:
		expert := topExpert(in.Votes, in.Profiles, in.Domain)
		for _, v := range in.Votes {
			if v.AgentID == expert {
				out.Decision = v.Decision
				out.Confidence = v.Confidence
				break
			}
		}

	case model.ResolveWeightedAverage:
		out.Decision = weightedAverageDecision(in.Votes, in.Profiles)
		mass = weightMass(in.Votes, in.Profiles)
		out.Confidence = share(mass, out.Decision)

	case model.ResolveEscalateToHuman:
		out.Decision = model.DecisionReview
		out.Confidence = share(mass, out.Decision)
		out.Escalated = true

	default:
		return Outcome{}, errors.New("strategy: unknown conflict resolution strategy")
	}

	out.ConsensusLevel = share(mass, out.Decision)
	return out, nil
}

// highestConfidence returns the single vote with maximum confidence.
// Ties break toward the more conservative decision, then lexicographic
// agent ID, so the result is deterministic under concurrent submission
// orderings.
func highestConfidence(votes []model.AgentDecision) model.AgentDecision {
	best := votes[0]
	for _, v := range votes[1:] {
		if v.Confidence > best.Confidence {
			best = v
			continue
		}
		if v.Confidence == best.Confidence {
			if v.Decision.Severity() > best.Decision.Severity() ||
				(v.Decision.Severity() == best.Decision.Severity() && v.AgentID < best.AgentID) {
				best = v
			}
		}
	}
	return best
}

// weightedAverageDecision maps votes onto the ordinal severity scale,
// computes the weight-weighted mean, and rounds to the nearest decision
// type. An exact .5 rounds toward the more conservative side, which on this
// scale is up.
func weightedAverageDecision(votes []model.AgentDecision, profiles ProfileSource) model.DecisionType {
	var weightedSum, totalWeight float64
	for _, v := range votes {
		w := profiles.Weight(v.AgentID)
		weightedSum += w * float64(v.Decision.Severity())
		totalWeight += w
	}
	if totalWeight == 0 {
		return model.DecisionReview
	}
	avg := weightedSum / totalWeight
	rank := int(math.Floor(avg + 0.5))
	if rank > 3 {
		rank = 3
	}
	return model.DecisionBySeverity(rank)
}

// weightMass tallies the total profile weight behind each voted decision
// type.
func weightMass(votes []model.AgentDecision, profiles ProfileSource) map[model.DecisionType]float64 {
	mass := make(map[model.DecisionType]float64, len(votes))
	for _, v := range votes {
		mass[v.Decision] += profiles.Weight(v.AgentID)
	}
	return mass
}

// share returns the clamped fraction of total mass held by decision d.
func share(mass map[model.DecisionType]float64, d model.DecisionType) float64 {
	var total float64
	for _, m := range mass {
		total += m
	}
	if total == 0 {
		return 0
	}
	return clamp01(mass[d] / total)
}

package strategy

import "github.com/quorumlab/quorum/internal/model"

// SummarizeReasoning collects the reasoning strings of the counted votes,
// deduplicates exact matches, retains insertion order, and caps the result.
func SummarizeReasoning(votes []model.AgentDecision, params Params) []string {
	params = params.withDefaults()
	seen := make(map[string]bool, len(votes))
	var out []string
	for _, v := range votes {
		if v.Reasoning == "" || seen[v.Reasoning] {
			continue
		}
		seen[v.Reasoning] = true
		out = append(out, v.Reasoning)
		if len(out) == params.MaxReasons {
			break
		}
	}
	return out
}

// SummarizeEvidence concatenates the votes' evidence lists with the same
// dedupe-and-cap policy as the reasoning summary.
func SummarizeEvidence(votes []model.AgentDecision, params Params) []string {
	params = params.withDefaults()
	seen := make(map[string]bool)
	var out []string
	for _, v := range votes {
		for _, ev := range v.Evidence {
			if ev == "" || seen[ev] {
				continue
			}
			seen[ev] = true
			out = append(out, ev)
			if len(out) == params.MaxEvidence {
				return out
			}
		}
	}
	return out
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/quorumlab/quorum/internal/model"
)

func (s *Server) registerTools() {
	// quorum_request: open a decision request.
	s.mcpServer.AddTool(
		mcplib.NewTool("quorum_request",
			mcplib.WithDescription(`Open a decision request for a transaction and name the agents whose votes are required.

WHEN TO USE: When a transaction needs a collective verdict from several
agents before it can proceed. Each named agent then calls quorum_submit
with its vote; once all votes arrive the engine aggregates them.

WHAT YOU GET BACK:
- request_id: the identifier the voting agents must use`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("required_agents",
				mcplib.Description("Comma-separated agent IDs whose votes are required"),
				mcplib.Required(),
			),
			mcplib.WithString("aggregation_method",
				mcplib.Description("How votes are fused: MAJORITY_VOTE, WEIGHTED_VOTE, CONSENSUS, EXPERT_OVERRIDE, CONFIDENCE_WEIGHTED, or HYBRID"),
				mcplib.Required(),
			),
			mcplib.WithString("conflict_resolution",
				mcplib.Description("Tie-break strategy: MOST_CONSERVATIVE, HIGHEST_CONFIDENCE, EXPERT_PRIORITY, WEIGHTED_AVERAGE, or ESCALATE_TO_HUMAN"),
				mcplib.Required(),
			),
			mcplib.WithString("domain",
				mcplib.Description("Optional expertise domain for expert-aware methods (e.g. fraud, compliance)"),
			),
			mcplib.WithNumber("timeout_seconds",
				mcplib.Description("Seconds until the request times out and aggregates over partial votes"),
				mcplib.Min(1),
				mcplib.DefaultNumber(60),
			),
		),
		s.handleRequest,
	)

	// quorum_submit: cast a vote on an open request.
	s.mcpServer.AddTool(
		mcplib.NewTool("quorum_submit",
			mcplib.WithDescription(`Cast your vote on an open decision request.

WHEN TO USE: After analyzing the transaction behind a request you were
named on. Submit exactly one vote; resubmitting before the deadline
replaces your earlier vote.

WHAT YOU GET BACK:
- status: "accepted" (request still open), "finalized" (your vote
  completed the set and aggregation ran), or "audit_only" (the request
  was already settled; your vote is retained for audit only)`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("request_id",
				mcplib.Description("The decision request to vote on"),
				mcplib.Required(),
			),
			mcplib.WithString("agent_id",
				mcplib.Description("Your agent identifier"),
				mcplib.Required(),
			),
			mcplib.WithString("decision_type",
				mcplib.Description("Your verdict: APPROVE, DECLINE, FLAG, or REVIEW"),
				mcplib.Required(),
			),
			mcplib.WithNumber("confidence",
				mcplib.Description("How certain you are (0.0 = guessing, 1.0 = certain)"),
				mcplib.Required(),
				mcplib.Min(0),
				mcplib.Max(1),
			),
			mcplib.WithString("reasoning",
				mcplib.Description("Why you voted this way"),
			),
		),
		s.handleSubmit,
	)

	// quorum_result: read a request's final decision.
	s.mcpServer.AddTool(
		mcplib.NewTool("quorum_result",
			mcplib.WithDescription(`Read the aggregated decision for a request, or its current status while votes are still being collected.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("request_id",
				mcplib.Description("The decision request to inspect"),
				mcplib.Required(),
			),
		),
		s.handleResult,
	)

	// quorum_force: finalize early over partial votes.
	s.mcpServer.AddTool(
		mcplib.NewTool("quorum_force",
			mcplib.WithDescription(`Force aggregation over whatever votes exist, without waiting for the remaining agents or the deadline.

Use sparingly: the result is marked as forced and is computed from an
incomplete vote set. Fails if no votes have arrived at all.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("request_id",
				mcplib.Description("The decision request to finalize"),
				mcplib.Required(),
			),
		),
		s.handleForce,
	)

	// quorum_stats: engine-wide aggregation statistics.
	s.mcpServer.AddTool(
		mcplib.NewTool("quorum_stats",
			mcplib.WithDescription(`Summarize recent aggregation activity: decision distribution, method usage, escalation count, and confidence/consensus ranges.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleStats,
	)
}

func (s *Server) handleRequest(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agents := splitAgents(request.GetString("required_agents", ""))
	if len(agents) == 0 {
		return errorResult("required_agents is required"), nil
	}
	timeoutSec := request.GetInt("timeout_seconds", 60)

	id, err := s.engine.RequestDecision(model.DecisionRequest{
		RequiredAgents: agents,
		Domain:         request.GetString("domain", ""),
		Method:         model.AggregationMethod(request.GetString("aggregation_method", "")),
		Resolution:     model.ConflictResolution(request.GetString("conflict_resolution", "")),
		Deadline:       time.Now().Add(time.Duration(timeoutSec) * time.Second),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("request failed: %v", err)), nil
	}

	resultData, _ := json.Marshal(map[string]any{
		"request_id": id,
		"state":      string(model.StateOpen),
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleSubmit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	requestID := request.GetString("request_id", "")
	agentID := request.GetString("agent_id", "")
	if requestID == "" || agentID == "" {
		return errorResult("request_id and agent_id are required"), nil
	}

	status, err := s.engine.SubmitAgentDecision(requestID, model.AgentDecision{
		AgentID:    agentID,
		Decision:   model.DecisionType(request.GetString("decision_type", "")),
		Confidence: request.GetFloat("confidence", 0),
		Reasoning:  request.GetString("reasoning", ""),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("submit failed: %v", err)), nil
	}

	resultData, _ := json.Marshal(map[string]any{
		"request_id": requestID,
		"agent_id":   agentID,
		"status":     string(status),
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleResult(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	requestID := request.GetString("request_id", "")
	if requestID == "" {
		return errorResult("request_id is required"), nil
	}

	result, err := s.engine.AggregatedDecision(requestID)
	if err == nil {
		resultData, _ := json.MarshalIndent(result, "", "  ")
		return textResult(string(resultData)), nil
	}

	// Not finalized (or no result exists): report the lifecycle status
	// instead so the caller can tell waiting from failure.
	st, stErr := s.engine.RequestStatus(requestID)
	if stErr != nil {
		return errorResult(fmt.Sprintf("result failed: %v", err)), nil
	}
	resultData, _ := json.MarshalIndent(map[string]any{
		"request_id":       st.RequestID,
		"state":            string(st.State),
		"completed_via":    string(st.CompletedVia),
		"required_agents":  st.RequiredAgents,
		"responded_agents": st.RespondedAgents,
		"deadline":         st.Deadline,
		"detail":           err.Error(),
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleForce(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	requestID := request.GetString("request_id", "")
	if requestID == "" {
		return errorResult("request_id is required"), nil
	}

	result, err := s.engine.ForceAggregation(requestID)
	if err != nil {
		return errorResult(fmt.Sprintf("force failed: %v", err)), nil
	}
	resultData, _ := json.MarshalIndent(result, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleStats(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	resultData, _ := json.MarshalIndent(s.engine.Statistics(), "", "  ")
	return textResult(string(resultData)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

// splitAgents parses a comma-separated agent list, trimming whitespace and
// dropping empty items.
func splitAgents(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeNotReady          = "NOT_READY"
	ErrCodeUnauthorizedAgent = "UNAUTHORIZED_AGENT"
	ErrCodeInsufficientData  = "INSUFFICIENT_DATA"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// CreateRequestRequest is the request body for POST /v1/requests.
// All enum fields are validated with the Parse* constructors; unknown tags
// are rejected with INVALID_INPUT rather than silently defaulted.
type CreateRequestRequest struct {
	RequestID          string         `json:"request_id,omitempty"` // server-generated when empty
	TransactionContext map[string]any `json:"transaction_context,omitempty"`
	RequiredAgents     []string       `json:"required_agents"`
	Domain             string         `json:"domain,omitempty"`
	AggregationMethod  string         `json:"aggregation_method"`
	ConflictResolution string         `json:"conflict_resolution"`
	Deadline           time.Time      `json:"deadline"`
}

// CreateRequestResponse is the response for POST /v1/requests.
type CreateRequestResponse struct {
	RequestID string `json:"request_id"`
	State     string `json:"state"`
}

// SubmitDecisionRequest is the request body for
// POST /v1/requests/{request_id}/decisions. agent_id comes from the JWT
// claims for non-admin callers; admins may submit on behalf of any agent.
type SubmitDecisionRequest struct {
	AgentID          string   `json:"agent_id,omitempty"`
	DecisionType     string   `json:"decision_type"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning,omitempty"`
	Evidence         []string `json:"evidence,omitempty"`
	ProcessingTimeMS float64  `json:"processing_time_ms,omitempty"`
}

// SubmitDecisionResponse is the acknowledgment for a vote submission.
type SubmitDecisionResponse struct {
	RequestID string `json:"request_id"`
	AgentID   string `json:"agent_id"`
	Status    string `json:"status"` // accepted | finalized | audit_only
	State     string `json:"state"`
}

// RequestStatusResponse is the response for GET /v1/requests/{request_id}.
type RequestStatusResponse struct {
	RequestID       string    `json:"request_id"`
	State           string    `json:"state"`
	CompletedVia    string    `json:"completed_via,omitempty"` // COMPLETE | TIMED_OUT | FORCED
	RequiredAgents  []string  `json:"required_agents"`
	RespondedAgents []string  `json:"responded_agents"`
	Deadline        time.Time `json:"deadline"`
}

// CreateAgentRequest is the request body for POST /v1/agents.
type CreateAgentRequest struct {
	AgentID   string             `json:"agent_id"`
	Role      AgentRole          `json:"role"`
	APIKey    string             `json:"api_key"`
	Weight    *float64           `json:"weight,omitempty"`
	Expertise map[string]float64 `json:"expertise,omitempty"`
}

// SetWeightRequest is the request body for PUT /v1/agents/{agent_id}/weight.
type SetWeightRequest struct {
	Weight float64 `json:"weight"`
}

// SetExpertiseRequest is the request body for
// PUT /v1/agents/{agent_id}/expertise. The map replaces the agent's full
// expertise map; it is not merged.
type SetExpertiseRequest struct {
	Expertise map[string]float64 `json:"expertise"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	OpenRequests int    `json:"open_requests"`
	Uptime       int64  `json:"uptime_seconds"`
}

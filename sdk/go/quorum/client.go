package quorum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Quorum server (e.g. "http://localhost:8080").
	BaseURL string

	// AgentID identifies this agent for authentication and voting.
	AgentID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Quorum decision aggregation API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	agentID  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, AgentID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("quorum: BaseURL is required")
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("quorum: AgentID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("quorum: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		agentID:  cfg.AgentID,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.AgentID, cfg.APIKey, httpClient),
	}, nil
}

// CreateRequest opens a decision request and returns its id and state.
func (c *Client) CreateRequest(ctx context.Context, req CreateRequestInput) (*CreateRequestResponse, error) {
	var resp CreateRequestResponse
	if err := c.post(ctx, "/v1/requests", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitDecision casts a vote on an open request. If req.AgentID is empty,
// the client's configured AgentID is sent.
func (c *Client) SubmitDecision(ctx context.Context, requestID string, req SubmitDecisionInput) (*SubmitDecisionResponse, error) {
	if req.AgentID == "" {
		req.AgentID = c.agentID
	}
	var resp SubmitDecisionResponse
	if err := c.post(ctx, "/v1/requests/"+requestID+"/decisions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRequest retrieves a request's lifecycle status.
func (c *Client) GetRequest(ctx context.Context, requestID string) (*RequestStatus, error) {
	var resp RequestStatus
	if err := c.get(ctx, "/v1/requests/"+requestID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetResult retrieves the finalized aggregation for a request. While the
// request is still open the server responds NOT_READY, see IsNotReady.
func (c *Client) GetResult(ctx context.Context, requestID string) (*AggregatedDecision, error) {
	var resp AggregatedDecision
	if err := c.get(ctx, "/v1/requests/"+requestID+"/result", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForResult polls until the request finalizes, ctx expires, or the
// server reports a non-retriable error.
func (c *Client) WaitForResult(ctx context.Context, requestID string, pollInterval time.Duration) (*AggregatedDecision, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		result, err := c.GetResult(ctx, requestID)
		if err == nil {
			return result, nil
		}
		if !IsNotReady(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ForceAggregation finalizes a request over its partial vote set.
// Requires admin role.
func (c *Client) ForceAggregation(ctx context.Context, requestID string) (*AggregatedDecision, error) {
	var resp AggregatedDecision
	if err := c.post(ctx, "/v1/requests/"+requestID+"/force", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Statistics retrieves the server's aggregation statistics.
func (c *Client) Statistics(ctx context.Context) (*Statistics, error) {
	var resp Statistics
	if err := c.get(ctx, "/v1/statistics", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateAgent registers a new agent identity. Requires admin role.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentInput) (*AgentProfile, error) {
	var resp AgentProfile
	if err := c.post(ctx, "/v1/agents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetAgentWeight updates an agent's static vote weight. Requires admin role.
func (c *Client) SetAgentWeight(ctx context.Context, agentID string, weight float64) (*AgentProfile, error) {
	body := map[string]any{"weight": weight}
	var resp AgentProfile
	if err := c.put(ctx, "/v1/agents/"+agentID+"/weight", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetAgentExpertise replaces an agent's full expertise map. Requires admin role.
func (c *Client) SetAgentExpertise(ctx context.Context, agentID string, expertise map[string]float64) (*AgentProfile, error) {
	body := map[string]any{"expertise": expertise}
	var resp AgentProfile
	if err := c.put(ctx, "/v1/agents/"+agentID+"/expertise", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("quorum: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("quorum: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("quorum: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("quorum: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("quorum: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("quorum: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("quorum: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("quorum: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("quorum: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("quorum: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}

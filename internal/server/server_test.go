package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlab/quorum/internal/auth"
	"github.com/quorumlab/quorum/internal/engine"
	"github.com/quorumlab/quorum/internal/model"
	"github.com/quorumlab/quorum/internal/ratelimit"
	"github.com/quorumlab/quorum/internal/strategy"
)

type testServer struct {
	srv    *Server
	eng    *engine.Engine
	jwtMgr *auth.JWTManager
	creds  *auth.Credentials
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	eng := engine.New(engine.Config{
		Logger: logger,
		Params: strategy.DefaultParams(),
	})

	creds := auth.NewCredentials()
	srv := New(ServerConfig{
		Engine:              eng,
		JWTMgr:              jwtMgr,
		Creds:               creds,
		Logger:              logger,
		Limiter:             limiter,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return &testServer{srv: srv, eng: eng, jwtMgr: jwtMgr, creds: creds}
}

func (ts *testServer) token(t *testing.T, agentID string, role model.AgentRole) string {
	t.Helper()
	token, _, err := ts.jwtMgr.IssueToken(agentID, role)
	require.NoError(t, err)
	return token
}

// do sends a JSON request through the full middleware chain.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data json.RawMessage    `json:"data"`
	Meta model.ResponseMeta `json:"meta"`
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) model.ResponseMeta {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if dest != nil {
		require.NoError(t, json.Unmarshal(env.Data, dest))
	}
	return env.Meta
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func createRequestBody(agents []string) model.CreateRequestRequest {
	return model.CreateRequestRequest{
		RequiredAgents:     agents,
		AggregationMethod:  string(model.MethodMajorityVote),
		ConflictResolution: string(model.ResolveMostConservative),
		Deadline:           time.Now().Add(time.Minute),
	}
}

func TestHealthNoAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health model.HealthResponse
	decodeData(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestAuthTokenFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.creds.Register("fraud-1", model.RoleAgent, "s3cret"))

	rec := ts.do(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
		AgentID: "fraud-1", APIKey: "s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.AuthTokenResponse
	decodeData(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	// The issued token works against an authenticated endpoint.
	rec = ts.do(t, http.MethodGet, "/v1/statistics", resp.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthTokenRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.creds.Register("fraud-1", model.RoleAgent, "s3cret"))

	rec := ts.do(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
		AgentID: "fraud-1", APIKey: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, model.ErrCodeUnauthorized, errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
		AgentID: "ghost", APIKey: "s3cret",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/token", "", map[string]string{"agent_id": "fraud-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/statistics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, model.ErrCodeUnauthorized, errorCode(t, rec))

	rec = ts.do(t, http.MethodGet, "/v1/statistics", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoleEnforcement(t *testing.T) {
	ts := newTestServer(t, nil)
	reader := ts.token(t, "reader-1", model.RoleReader)
	agentTok := ts.token(t, "fraud-1", model.RoleAgent)

	// Readers may query but not create.
	rec := ts.do(t, http.MethodPost, "/v1/requests", reader, createRequestBody([]string{"fraud-1"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, model.ErrCodeForbidden, errorCode(t, rec))

	rec = ts.do(t, http.MethodGet, "/v1/statistics", reader, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Agents may not manage other agents or force aggregation.
	rec = ts.do(t, http.MethodPost, "/v1/agents", agentTok, model.CreateAgentRequest{
		AgentID: "x", APIKey: "k",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/requests/some-id/force", agentTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDecisionLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	tok1 := ts.token(t, "fraud-1", model.RoleAgent)
	tok2 := ts.token(t, "fraud-2", model.RoleAgent)

	rec := ts.do(t, http.MethodPost, "/v1/requests", tok1, createRequestBody([]string{"fraud-1", "fraud-2"}))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.CreateRequestResponse
	decodeData(t, rec, &created)
	require.NotEmpty(t, created.RequestID)
	assert.Equal(t, string(model.StateOpen), created.State)

	// Result is not ready while a vote is outstanding.
	rec = ts.do(t, http.MethodGet, "/v1/requests/"+created.RequestID+"/result", tok1, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeNotReady, errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/v1/requests/"+created.RequestID+"/decisions", tok1, model.SubmitDecisionRequest{
		DecisionType: string(model.DecisionApprove), Confidence: 0.9, Reasoning: "low risk",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var submitted model.SubmitDecisionResponse
	decodeData(t, rec, &submitted)
	assert.Equal(t, "accepted", submitted.Status)
	assert.Equal(t, "fraud-1", submitted.AgentID)

	rec = ts.do(t, http.MethodPost, "/v1/requests/"+created.RequestID+"/decisions", tok2, model.SubmitDecisionRequest{
		DecisionType: string(model.DecisionApprove), Confidence: 0.8,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &submitted)
	assert.Equal(t, "finalized", submitted.Status)
	assert.Equal(t, string(model.StateFinalized), submitted.State)

	rec = ts.do(t, http.MethodGet, "/v1/requests/"+created.RequestID+"/result", tok1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result model.AggregatedDecision
	decodeData(t, rec, &result)
	assert.Equal(t, model.DecisionApprove, result.FinalDecision)
	assert.Equal(t, []string{"fraud-1", "fraud-2"}, result.ContributingAgents)
	assert.Equal(t, []string{"low risk"}, result.ReasoningSummary)

	rec = ts.do(t, http.MethodGet, "/v1/requests/"+created.RequestID, tok1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status model.RequestStatusResponse
	decodeData(t, rec, &status)
	assert.Equal(t, string(model.StateFinalized), status.State)
	assert.Equal(t, string(model.StateComplete), status.CompletedVia)
	assert.Equal(t, []string{"fraud-1", "fraud-2"}, status.RespondedAgents)

	rec = ts.do(t, http.MethodGet, "/v1/statistics", tok1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats engine.Stats
	decodeData(t, rec, &stats)
	assert.Equal(t, 1, stats.TotalDecisions)
}

func TestSubmitOnBehalfRequiresAdmin(t *testing.T) {
	ts := newTestServer(t, nil)
	tok1 := ts.token(t, "fraud-1", model.RoleAgent)
	adminTok := ts.token(t, "admin", model.RoleAdmin)

	rec := ts.do(t, http.MethodPost, "/v1/requests", tok1, createRequestBody([]string{"fraud-1", "fraud-2"}))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.CreateRequestResponse
	decodeData(t, rec, &created)

	// A non-admin cannot impersonate another agent.
	rec = ts.do(t, http.MethodPost, "/v1/requests/"+created.RequestID+"/decisions", tok1, model.SubmitDecisionRequest{
		AgentID: "fraud-2", DecisionType: string(model.DecisionApprove), Confidence: 0.9,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, model.ErrCodeForbidden, errorCode(t, rec))

	// An admin can.
	rec = ts.do(t, http.MethodPost, "/v1/requests/"+created.RequestID+"/decisions", adminTok, model.SubmitDecisionRequest{
		AgentID: "fraud-2", DecisionType: string(model.DecisionDecline), Confidence: 0.7,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var submitted model.SubmitDecisionResponse
	decodeData(t, rec, &submitted)
	assert.Equal(t, "fraud-2", submitted.AgentID)
}

func TestVoteOutsideRequiredSet(t *testing.T) {
	ts := newTestServer(t, nil)
	tok1 := ts.token(t, "fraud-1", model.RoleAgent)
	intruder := ts.token(t, "intruder", model.RoleAgent)

	rec := ts.do(t, http.MethodPost, "/v1/requests", tok1, createRequestBody([]string{"fraud-1"}))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.CreateRequestResponse
	decodeData(t, rec, &created)

	rec = ts.do(t, http.MethodPost, "/v1/requests/"+created.RequestID+"/decisions", intruder, model.SubmitDecisionRequest{
		DecisionType: string(model.DecisionApprove), Confidence: 0.9,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, model.ErrCodeUnauthorizedAgent, errorCode(t, rec))
}

func TestUnknownRequestID(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, "fraud-1", model.RoleAgent)

	rec := ts.do(t, http.MethodGet, "/v1/requests/nope", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, errorCode(t, rec))
}

func TestForceAggregation(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, "fraud-1", model.RoleAgent)
	adminTok := ts.token(t, "admin", model.RoleAdmin)

	rec := ts.do(t, http.MethodPost, "/v1/requests", tok, createRequestBody([]string{"fraud-1", "fraud-2"}))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.CreateRequestResponse
	decodeData(t, rec, &created)

	// Forcing with zero votes is refused.
	rec = ts.do(t, http.MethodPost, "/v1/requests/"+created.RequestID+"/force", adminTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeInsufficientData, errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/v1/requests/"+created.RequestID+"/decisions", tok, model.SubmitDecisionRequest{
		DecisionType: string(model.DecisionFlag), Confidence: 0.6,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/requests/"+created.RequestID+"/force", adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result model.AggregatedDecision
	decodeData(t, rec, &result)
	assert.Equal(t, model.DecisionFlag, result.FinalDecision)
	assert.Equal(t, []string{"fraud-1"}, result.ContributingAgents)
}

func TestCreateAgentEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	adminTok := ts.token(t, "admin", model.RoleAdmin)

	weight := 2.5
	rec := ts.do(t, http.MethodPost, "/v1/agents", adminTok, model.CreateAgentRequest{
		AgentID:   "fraud-9",
		APIKey:    "key-9",
		Weight:    &weight,
		Expertise: map[string]float64{"fraud": 0.8},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var profile struct {
		AgentID   string             `json:"agent_id"`
		Weight    float64            `json:"weight"`
		Expertise map[string]float64 `json:"expertise"`
	}
	decodeData(t, rec, &profile)
	assert.Equal(t, "fraud-9", profile.AgentID)
	assert.Equal(t, 2.5, profile.Weight)
	assert.Equal(t, 0.8, profile.Expertise["fraud"])

	// The new credentials work.
	rec = ts.do(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{AgentID: "fraud-9", APIKey: "key-9"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Duplicate registration conflicts.
	rec = ts.do(t, http.MethodPost, "/v1/agents", adminTok, model.CreateAgentRequest{AgentID: "fraud-9", APIKey: "other"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Validation failures.
	rec = ts.do(t, http.MethodPost, "/v1/agents", adminTok, model.CreateAgentRequest{AgentID: "bad id", APIKey: "k"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPost, "/v1/agents", adminTok, model.CreateAgentRequest{AgentID: "ok-1", Role: "superuser", APIKey: "k"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPost, "/v1/agents", adminTok, model.CreateAgentRequest{AgentID: "ok-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWeightAndExpertiseEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	adminTok := ts.token(t, "admin", model.RoleAdmin)

	rec := ts.do(t, http.MethodPut, "/v1/agents/fraud-1/weight", adminTok, model.SetWeightRequest{Weight: 3.0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, ts.eng.Registry().Weight("fraud-1"))

	rec = ts.do(t, http.MethodPut, "/v1/agents/fraud-1/weight", adminTok, model.SetWeightRequest{Weight: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/v1/agents/fraud-1/expertise", adminTok, model.SetExpertiseRequest{
		Expertise: map[string]float64{"aml": 0.9},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.9, ts.eng.Registry().Expertise("fraud-1", "aml"))

	rec = ts.do(t, http.MethodPut, "/v1/agents/fraud-1/expertise", adminTok, model.SetExpertiseRequest{
		Expertise: map[string]float64{"aml": 1.5},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidRequestBody(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, "fraud-1", model.RoleAgent)

	rec := ts.do(t, http.MethodPost, "/v1/requests", tok, map[string]any{"unknown_field": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, errorCode(t, rec))
}

func TestCreateRequestValidationMapped(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, "fraud-1", model.RoleAgent)

	body := createRequestBody([]string{"fraud-1"})
	body.AggregationMethod = "PLURALITY"
	rec := ts.do(t, http.MethodPost, "/v1/requests", tok, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, errorCode(t, rec))
}

func TestRequestIDPropagation(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-me-42")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "trace-me-42", rec.Header().Get("X-Request-ID"))
	meta := decodeData(t, rec, nil)
	assert.Equal(t, "trace-me-42", meta.RequestID)
	assert.False(t, meta.Timestamp.IsZero())

	// Without the header, one is generated.
	rec = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPerAgentRateLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(60, 2)
	defer func() { _ = limiter.Close() }()
	ts := newTestServer(t, limiter)

	tok := ts.token(t, "fraud-1", model.RoleAgent)
	adminTok := ts.token(t, "admin", model.RoleAdmin)

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodGet, "/v1/statistics", tok, nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec := ts.do(t, http.MethodGet, "/v1/statistics", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, model.ErrCodeRateLimited, errorCode(t, rec))

	// Admins are exempt from the per-agent limit.
	for i := 0; i < 5; i++ {
		rec := ts.do(t, http.MethodGet, "/v1/statistics", adminTok, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	eng := engine.New(engine.Config{Logger: logger, Params: strategy.DefaultParams()})
	srv := New(ServerConfig{
		Engine:              eng,
		JWTMgr:              jwtMgr,
		Creds:               auth.NewCredentials(),
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 64,
	})
	token, _, err := jwtMgr.IssueToken("fraud-1", model.RoleAgent)
	require.NoError(t, err)

	body := createRequestBody([]string{"fraud-1"})
	body.TransactionContext = map[string]any{"padding": make([]int, 200)}
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeedAdmin(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.srv.Handlers().SeedAdmin("root-key"))

	// Idempotent.
	require.NoError(t, ts.srv.Handlers().SeedAdmin("root-key"))

	role, ok := ts.creds.Role("admin")
	require.True(t, ok)
	assert.Equal(t, model.RoleAdmin, role)

	// Empty key disables seeding.
	other := newTestServer(t, nil)
	require.NoError(t, other.srv.Handlers().SeedAdmin(""))
	_, ok = other.creds.Role("admin")
	assert.False(t, ok)
}

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quorumlab/quorum/internal/auth"
	"github.com/quorumlab/quorum/internal/engine"
	"github.com/quorumlab/quorum/internal/model"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	engine  *engine.Engine
	jwtMgr  *auth.JWTManager
	creds   *auth.Credentials
	logger  *slog.Logger
	version string

	maxBodyBytes int64
	startTime    time.Time
}

// HandlersDeps carries the dependencies for NewHandlers.
type HandlersDeps struct {
	Engine              *engine.Engine
	JWTMgr              *auth.JWTManager
	Creds               *auth.Credentials
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers wires up the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		engine:       deps.Engine,
		jwtMgr:       deps.JWTMgr,
		creds:        deps.Creds,
		logger:       deps.Logger,
		version:      deps.Version,
		maxBodyBytes: deps.MaxRequestBodyBytes,
		startTime:    time.Now(),
	}
}

// limitBody caps the request body size before decoding.
func (h *Handlers) limitBody(w http.ResponseWriter, r *http.Request) {
	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
}

// writeEngineError maps engine sentinel errors onto HTTP status codes and
// the standard error envelope.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, engine.ErrNotReady):
		writeError(w, r, http.StatusConflict, model.ErrCodeNotReady, err.Error())
	case errors.Is(err, engine.ErrUnauthorizedAgent):
		writeError(w, r, http.StatusForbidden, model.ErrCodeUnauthorizedAgent, err.Error())
	case errors.Is(err, engine.ErrInsufficientData):
		writeError(w, r, http.StatusConflict, model.ErrCodeInsufficientData, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
	}
}

// HandleAuthToken exchanges an agent_id + API key for a JWT.
// POST /auth/token
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.AgentID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent_id and api_key are required")
		return
	}

	role, err := h.creds.Authenticate(req.AgentID, req.APIKey)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.AgentID, role)
	if err != nil {
		h.logger.Error("issue token", "error", err, "agent_id", req.AgentID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleCreateRequest registers a new decision request.
// POST /v1/requests
func (h *Handlers) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	var req model.CreateRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	id, err := h.engine.RequestDecision(model.DecisionRequest{
		RequestID:          req.RequestID,
		TransactionContext: req.TransactionContext,
		RequiredAgents:     req.RequiredAgents,
		Domain:             req.Domain,
		Method:             model.AggregationMethod(req.AggregationMethod),
		Resolution:         model.ConflictResolution(req.ConflictResolution),
		Deadline:           req.Deadline,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, model.CreateRequestResponse{
		RequestID: id,
		State:     string(model.StateOpen),
	})
}

// HandleSubmitDecision records one agent's vote. Non-admin callers always
// vote as themselves; admins may submit on behalf of another agent by
// setting agent_id in the body.
// POST /v1/requests/{request_id}/decisions
func (h *Handlers) HandleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	requestID := r.PathValue("request_id")

	var req model.SubmitDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	claims := ClaimsFromContext(r.Context())
	agentID := claims.AgentID
	if req.AgentID != "" && req.AgentID != claims.AgentID {
		if !model.RoleAtLeast(claims.Role, model.RoleAdmin) {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "cannot submit a decision for another agent")
			return
		}
		agentID = req.AgentID
	}

	status, err := h.engine.SubmitAgentDecision(requestID, model.AgentDecision{
		AgentID:          agentID,
		Decision:         model.DecisionType(req.DecisionType),
		Confidence:       req.Confidence,
		Reasoning:        req.Reasoning,
		Evidence:         req.Evidence,
		ProcessingTimeMS: req.ProcessingTimeMS,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	st, statusErr := h.engine.RequestStatus(requestID)
	if statusErr != nil {
		writeEngineError(w, r, statusErr)
		return
	}

	writeJSON(w, r, http.StatusOK, model.SubmitDecisionResponse{
		RequestID: requestID,
		AgentID:   agentID,
		Status:    string(status),
		State:     string(st.State),
	})
}

// HandleForceAggregation finalizes a request over its partial vote set.
// POST /v1/requests/{request_id}/force
func (h *Handlers) HandleForceAggregation(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")
	result, err := h.engine.ForceAggregation(requestID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleGetRequest reports a request's lifecycle status.
// GET /v1/requests/{request_id}
func (h *Handlers) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")
	st, err := h.engine.RequestStatus(requestID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.RequestStatusResponse{
		RequestID:       st.RequestID,
		State:           string(st.State),
		CompletedVia:    string(st.CompletedVia),
		RequiredAgents:  st.RequiredAgents,
		RespondedAgents: st.RespondedAgents,
		Deadline:        st.Deadline,
	})
}

// HandleGetResult returns the finalized aggregation for a request.
// GET /v1/requests/{request_id}/result
func (h *Handlers) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")
	result, err := h.engine.AggregatedDecision(requestID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleStatistics summarizes the retained aggregation history.
// GET /v1/statistics
func (h *Handlers) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.Statistics())
}

// HandleCreateAgent registers a new agent's credentials and profile.
// POST /v1/agents
func (h *Handlers) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	var req model.CreateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := model.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	role := req.Role
	if role == "" {
		role = model.RoleAgent
	}
	if !model.ValidRole(role) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown role")
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	if err := h.creds.Register(req.AgentID, role, req.APIKey); err != nil {
		if errors.Is(err, auth.ErrAgentExists) {
			writeError(w, r, http.StatusConflict, model.ErrCodeInvalidInput, "agent already registered")
			return
		}
		h.logger.Error("register agent", "error", err, "agent_id", req.AgentID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to register agent")
		return
	}

	reg := h.engine.Registry()
	if req.Weight != nil {
		if err := reg.SetWeight(req.AgentID, *req.Weight); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}
	if len(req.Expertise) > 0 {
		if err := reg.SetExpertise(req.AgentID, req.Expertise); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}

	profile, _ := reg.Profile(req.AgentID)
	writeJSON(w, r, http.StatusCreated, profile)
}

// HandleSetWeight updates an agent's static vote weight.
// PUT /v1/agents/{agent_id}/weight
func (h *Handlers) HandleSetWeight(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	agentID := r.PathValue("agent_id")
	var req model.SetWeightRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := h.engine.Registry().SetWeight(agentID, req.Weight); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	profile, _ := h.engine.Registry().Profile(agentID)
	writeJSON(w, r, http.StatusOK, profile)
}

// HandleSetExpertise replaces an agent's full expertise map.
// PUT /v1/agents/{agent_id}/expertise
func (h *Handlers) HandleSetExpertise(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	agentID := r.PathValue("agent_id")
	var req model.SetExpertiseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := h.engine.Registry().SetExpertise(agentID, req.Expertise); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	profile, _ := h.engine.Registry().Profile(agentID)
	writeJSON(w, r, http.StatusOK, profile)
}

// HandleHealth reports liveness.
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:       "ok",
		Version:      h.version,
		OpenRequests: h.engine.OpenRequests(),
		Uptime:       int64(time.Since(h.startTime).Seconds()),
	})
}

// SeedAdmin registers the bootstrap admin agent when an admin API key is
// configured. Idempotent across restarts of a single process.
func (h *Handlers) SeedAdmin(apiKey string) error {
	if apiKey == "" {
		return nil
	}
	err := h.creds.Register("admin", model.RoleAdmin, apiKey)
	if errors.Is(err, auth.ErrAgentExists) {
		return nil
	}
	return err
}

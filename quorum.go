// Package quorum is the public API for embedding the Quorum decision
// aggregation server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := quorum.New(
//	    quorum.WithVersion(version),
//	    quorum.WithLogger(logger),
//	    quorum.WithResultHook(myHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: quorum (root) imports
// internal/*, but internal/* never imports quorum (root). Public types
// (Request, Vote, Result) are standalone structs with no internal imports;
// conversion helpers live here because this is the only file that sees both
// sides of the boundary.
package quorum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/quorumlab/quorum/internal/auth"
	"github.com/quorumlab/quorum/internal/config"
	"github.com/quorumlab/quorum/internal/engine"
	"github.com/quorumlab/quorum/internal/mcp"
	"github.com/quorumlab/quorum/internal/model"
	"github.com/quorumlab/quorum/internal/ratelimit"
	"github.com/quorumlab/quorum/internal/server"
	"github.com/quorumlab/quorum/internal/strategy"
	"github.com/quorumlab/quorum/internal/telemetry"
)

// App is the Quorum server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	eng          *engine.Engine
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Quorum server: it loads configuration, wires the
// aggregation engine, auth, rate limiting, MCP, and the HTTP API, and
// returns a ready-to-run App. It does NOT start any goroutines or accept
// HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.historySize != 0 {
		cfg.HistorySize = o.historySize
	}
	if o.consensusThreshold != 0 {
		cfg.ConsensusThreshold = o.consensusThreshold
	}
	if o.expertMultiplier != 0 {
		cfg.ExpertMultiplier = o.expertMultiplier
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("quorum starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}
	creds := auth.NewCredentials()

	// Aggregation parameters.
	params := strategy.DefaultParams()
	params.ConsensusThreshold = cfg.ConsensusThreshold
	params.ExpertMultiplier = cfg.ExpertMultiplier

	// Adapt result hooks from public quorum.ResultHook to internal engine.ResultHook.
	var hooks []engine.ResultHook
	for _, h := range o.resultHooks {
		hooks = append(hooks, &resultHookAdapter{hook: h})
	}

	eng := engine.New(engine.Config{
		Logger:      logger,
		Params:      params,
		HistorySize: cfg.HistorySize,
		Hooks:       hooks,
	})

	// MCP server.
	mcpSrv := mcp.New(eng, version, logger)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"per_minute", cfg.RateLimitPerMinute, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Create HTTP server.
	srv := server.New(server.ServerConfig{
		Engine:              eng,
		JWTMgr:              jwtMgr,
		Creds:               creds,
		Logger:              logger,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Seed admin agent.
	if err := srv.Handlers().SeedAdmin(cfg.AdminAPIKey); err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:          cfg,
		eng:          eng,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the timeout sweeper and the HTTP server, then blocks until ctx
// is cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically; callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.sweepLoop(gctx)
		return nil
	})

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown stops accepting HTTP requests, drains in-flight ones, and closes
// the rate limiter and OTEL providers. Open decision requests are dropped
// since the engine holds no durable state.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("quorum shutting down")

	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())

	a.logger.Info("quorum stopped")
	return nil
}

// sweepLoop periodically transitions open requests past their deadline so
// results become available without waiting for the next query or submission.
func (a *App) sweepLoop(ctx context.Context) {
	if a.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.eng.SweepExpired(); n > 0 {
				a.logger.Info("expired requests swept", "count", n)
			}
		}
	}
}

// ── Embedding facade ───────────────────────────────────────────────────────────

// RequestDecision opens a decision request and returns its id.
func (a *App) RequestDecision(req Request) (string, error) {
	return a.eng.RequestDecision(model.DecisionRequest{
		RequestID:          req.RequestID,
		TransactionContext: req.TransactionContext,
		RequiredAgents:     req.RequiredAgents,
		Domain:             req.Domain,
		Method:             model.AggregationMethod(req.AggregationMethod),
		Resolution:         model.ConflictResolution(req.ConflictResolution),
		Deadline:           req.Deadline,
	})
}

// SubmitVote records one agent's vote on an open request. The returned
// status is "accepted", "finalized", or "audit_only".
func (a *App) SubmitVote(requestID string, v Vote) (string, error) {
	status, err := a.eng.SubmitAgentDecision(requestID, model.AgentDecision{
		AgentID:          v.AgentID,
		Decision:         model.DecisionType(v.Decision),
		Confidence:       v.Confidence,
		Reasoning:        v.Reasoning,
		Evidence:         v.Evidence,
		ProcessingTimeMS: v.ProcessingTimeMS,
	})
	return string(status), err
}

// ForceAggregation finalizes a request over its partial vote set.
func (a *App) ForceAggregation(requestID string) (Result, error) {
	agg, err := a.eng.ForceAggregation(requestID)
	if err != nil {
		return Result{}, err
	}
	return toPublicResult(agg), nil
}

// Result returns the finalized aggregation for a request.
func (a *App) Result(requestID string) (Result, error) {
	agg, err := a.eng.AggregatedDecision(requestID)
	if err != nil {
		return Result{}, err
	}
	return toPublicResult(agg), nil
}

// RequestStatus reports a request's lifecycle state.
func (a *App) RequestStatus(requestID string) (Status, error) {
	st, err := a.eng.RequestStatus(requestID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		RequestID:       st.RequestID,
		State:           string(st.State),
		CompletedVia:    string(st.CompletedVia),
		RequiredAgents:  st.RequiredAgents,
		RespondedAgents: st.RespondedAgents,
		Deadline:        st.Deadline,
	}, nil
}

// Statistics summarizes recent aggregation activity.
func (a *App) Statistics() Statistics {
	s := a.eng.Statistics()
	out := Statistics{
		TotalDecisions:           s.TotalDecisions,
		Distribution:             make(map[string]int, len(s.Distribution)),
		MethodCounts:             make(map[string]int, len(s.MethodCounts)),
		EscalationCount:          s.EscalationCount,
		MeanConfidence:           s.MeanConfidence,
		MinConfidence:            s.MinConfidence,
		MaxConfidence:            s.MaxConfidence,
		MeanConsensusLevel:       s.MeanConsensusLevel,
		MinConsensusLevel:        s.MinConsensusLevel,
		MaxConsensusLevel:        s.MaxConsensusLevel,
		MeanAggregationLatencyMS: s.MeanAggregationLatencyMS,
	}
	for k, v := range s.Distribution {
		out.Distribution[string(k)] = v
	}
	for k, v := range s.MethodCounts {
		out.MethodCounts[string(k)] = v
	}
	return out
}

// SetAgentWeight sets an agent's static vote weight (must be > 0).
func (a *App) SetAgentWeight(agentID string, weight float64) error {
	return a.eng.Registry().SetWeight(agentID, weight)
}

// SetAgentExpertise replaces an agent's full per-domain expertise map.
// Scores must be in [0,1].
func (a *App) SetAgentExpertise(agentID string, scores map[string]float64) error {
	return a.eng.Registry().SetExpertise(agentID, scores)
}

// ── Adapters and converters ────────────────────────────────────────────────────

// resultHookAdapter wraps a quorum.ResultHook to satisfy engine.ResultHook.
// It converts internal model types to public quorum types at the boundary.
type resultHookAdapter struct {
	hook ResultHook
}

func (a *resultHookAdapter) OnDecisionFinalized(ctx context.Context, d model.AggregatedDecision) error {
	return a.hook.OnDecisionFinalized(ctx, toPublicResult(d))
}

// toPublicResult converts an internal model.AggregatedDecision to the public
// quorum.Result. Lives here because this is the only file that imports both
// sides of the boundary.
func toPublicResult(d model.AggregatedDecision) Result {
	dist := make(map[string]int, len(d.Distribution))
	for k, v := range d.Distribution {
		dist[string(k)] = v
	}
	return Result{
		RequestID:            d.RequestID,
		FinalDecision:        string(d.FinalDecision),
		Confidence:           d.Confidence,
		ConsensusLevel:       d.ConsensusLevel,
		Distribution:         dist,
		ContributingAgents:   d.ContributingAgents,
		ReasoningSummary:     d.ReasoningSummary,
		EvidenceSummary:      d.EvidenceSummary,
		MethodUsed:           string(d.MethodUsed),
		ConflictResolution:   string(d.ResolutionUsed),
		EscalationNeeded:     d.EscalationNeeded,
		AggregationLatencyMS: d.AggregationLatencyMS,
		FinalizedAt:          d.FinalizedAt,
	}
}

package quorum

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port               int
	logger             *slog.Logger
	version            string
	historySize        int
	consensusThreshold float64
	expertMultiplier   float64
	resultHooks        []ResultHook
}

// WithPort overrides the TCP port from config (QUORUM_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithHistorySize overrides the number of finalized decisions retained for
// statistics (QUORUM_HISTORY_SIZE env var).
func WithHistorySize(size int) Option {
	return func(o *resolvedOptions) { o.historySize = size }
}

// WithConsensusThreshold overrides the agreement fraction required by the
// CONSENSUS aggregation method (QUORUM_CONSENSUS_THRESHOLD env var).
func WithConsensusThreshold(threshold float64) Option {
	return func(o *resolvedOptions) { o.consensusThreshold = threshold }
}

// WithExpertMultiplier overrides the weight boost applied to the top domain
// expert by EXPERT_OVERRIDE (QUORUM_EXPERT_MULTIPLIER env var).
func WithExpertMultiplier(multiplier float64) Option {
	return func(o *resolvedOptions) { o.expertMultiplier = multiplier }
}

// WithResultHook registers a hook to receive every finalized aggregation.
// Multiple hooks may be registered; all registered hooks receive every result.
func WithResultHook(hook ResultHook) Option {
	return func(o *resolvedOptions) { o.resultHooks = append(o.resultHooks, hook) }
}

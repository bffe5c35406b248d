// Package agentmesh provides a top-level convenience entry point for running
// orchestrated multi-agent tasks with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentmesh"
//
//	st, err := agentmesh.Run(ctx, "summarize the findings",
//	    agentmesh.WithProvider(myProvider),
//	    agentmesh.WithModel("gpt-4o"))
//
// This is a thin wrapper over the supervisor package; use the packages
// directly when you need custom executors, remote agents, or tool servers.
package agentmesh

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/compress"
	"github.com/BaSui01/agentmesh/remote"
	"github.com/BaSui01/agentmesh/state"
	"github.com/BaSui01/agentmesh/supervisor"
)

type runConfig struct {
	provider      supervisor.DecisionProvider
	model         string
	maxIterations int
	maxTurns      int
	logger        *zap.Logger
	agents        map[string]remote.AgentDescriptor
}

// Option configures a run created by [Run].
type Option func(*runConfig)

// WithProvider sets the decision-making backend. Required.
func WithProvider(p supervisor.DecisionProvider) Option {
	return func(c *runConfig) { c.provider = p }
}

// WithModel sets the model selector for the run.
func WithModel(model string) Option {
	return func(c *runConfig) { c.model = model }
}

// WithMaxIterations overrides the run iteration ceiling.
func WithMaxIterations(n int) Option {
	return func(c *runConfig) { c.maxIterations = n }
}

// WithMaxTurns overrides the host-loop turn ceiling.
func WithMaxTurns(n int) Option {
	return func(c *runConfig) { c.maxTurns = n }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *runConfig) { c.logger = logger }
}

// WithRemoteAgents registers remote agents available to the run.
func WithRemoteAgents(agents []remote.AgentDescriptor) Option {
	return func(c *runConfig) {
		c.agents = make(map[string]remote.AgentDescriptor, len(agents))
		for _, a := range agents {
			c.agents[a.ID] = a
		}
	}
}

// Run executes a single orchestrated task and returns the final run state.
func Run(ctx context.Context, task string, opts ...Option) (*state.RunState, error) {
	cfg := runConfig{
		model:         "gpt-4o",
		maxIterations: 30,
		maxTurns:      supervisor.DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.provider == nil {
		return nil, fmt.Errorf("a decision provider is required")
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	compressor := compress.New(compress.DefaultConfig(), cfg.logger)
	specialists := supervisor.DefaultSpecialists(cfg.provider, cfg.logger)

	var remoteStage supervisor.Executor
	if len(cfg.agents) > 0 {
		client := remote.NewClient(remote.DefaultClientConfig(), cfg.logger)
		remoteStage = supervisor.NewRemoteStage(client, cfg.agents, nil, nil, cfg.logger)
	}

	sup := supervisor.New(supervisor.DefaultConfig(), cfg.provider, compressor,
		specialists, cfg.agents, nil, cfg.logger)

	runner := supervisor.NewRunner(sup, specialists, remoteStage, nil, cfg.logger).
		WithMaxTurns(cfg.maxTurns)

	st := state.NewRunState(cfg.model, cfg.maxIterations)
	st.AppendUser(task)
	runner.Run(ctx, st)
	return st, nil
}

// Package workload feeds synthetic tasks for running agents into the
// dispatcher at a fixed rate.
package workload

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"xyz-agents/internal/domain"
	"xyz-agents/internal/infra/config"
	"xyz-agents/internal/usecase/agent"
)

// Submitter accepts tasks for asynchronous execution.
type Submitter interface {
	SubmitTask(task domain.Task) error
}

// AgentSource lists the agents tasks may target.
type AgentSource interface {
	ListAgents() []string
	GetAgent(id string) (*agent.Agent, bool)
}

// Stats counts generator activity.
type Stats struct {
	Submitted     uint64 `json:"submitted"`
	Rejected      uint64 `json:"rejected"`
	Completed     uint64 `json:"completed"`
	Processed     uint64 `json:"processed"`
	ProcessFailed uint64 `json:"process_failed"`
}

// Generator submits one task per limiter token, cycling over the agents
// that are Running. Each task's result is recorded as its agent's output.
type Generator struct {
	submitter Submitter
	agents    AgentSource
	limiter   *rate.Limiter
	inputSize int
	logger    *slog.Logger
	rng       *rand.Rand
	next      int

	submitted     atomic.Uint64
	rejected      atomic.Uint64
	completed     atomic.Uint64
	processed     atomic.Uint64
	processFailed atomic.Uint64
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes generated inputs reproducible.
func WithSeed(seed uint64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// New creates a generator. cfg.Rate is tasks per second across all agents.
func New(submitter Submitter, agents AgentSource, cfg config.WorkloadConfig, logger *slog.Logger, opts ...Option) *Generator {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	size := cfg.InputSize
	if size <= 0 {
		size = 1
	}
	g := &Generator{
		submitter: submitter,
		agents:    agents,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Rate), burst),
		inputSize: size,
		logger:    logger,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run generates tasks until ctx is cancelled. It returns nil on cancellation.
func (g *Generator) Run(ctx context.Context) error {
	g.logger.Info("workload generator started", "rate", float64(g.limiter.Limit()), "burst", g.limiter.Burst())
	defer g.logger.Info("workload generator stopped", "submitted", g.submitted.Load(), "completed", g.completed.Load())

	for {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		a := g.pick()
		if a == nil {
			continue
		}
		g.submit(ctx, a)
	}
}

// pick returns the next Running agent in round-robin order, or nil.
func (g *Generator) pick() *agent.Agent {
	ids := g.agents.ListAgents()
	for range ids {
		id := ids[g.next%len(ids)]
		g.next++
		if a, ok := g.agents.GetAgent(id); ok && a.State() == domain.AgentStateRunning {
			return a
		}
	}
	return nil
}

func (g *Generator) submit(ctx context.Context, a *agent.Agent) {
	input := make([]float64, g.inputSize)
	for i := range input {
		input[i] = g.rng.Float64()
	}

	err := g.submitter.SubmitTask(domain.Task{
		AgentID: a.ID(),
		Input:   input,
		Callback: func(result []float64) {
			g.completed.Add(1)
			if err := a.RecordOutput(result); err != nil {
				g.processFailed.Add(1)
				return
			}
			g.processed.Add(1)
		},
	})
	if err != nil {
		g.rejected.Add(1)
		level := slog.LevelDebug
		if !errors.Is(err, domain.ErrQueueFull) {
			level = slog.LevelWarn
		}
		g.logger.Log(ctx, level, "workload task rejected", "agent_id", a.ID(), "error", err)
		return
	}
	g.submitted.Add(1)
}

// Stats returns a snapshot of the generator counters.
func (g *Generator) Stats() Stats {
	return Stats{
		Submitted:     g.submitted.Load(),
		Rejected:      g.rejected.Load(),
		Completed:     g.completed.Load(),
		Processed:     g.processed.Load(),
		ProcessFailed: g.processFailed.Load(),
	}
}

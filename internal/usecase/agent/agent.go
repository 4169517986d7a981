// Package agent implements the per-agent lifecycle state machine.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"xyz-agents/internal/domain"
	"xyz-agents/internal/infra/tracer"
)

// Agent is a stateful unit of work with an attached model. All methods are
// safe for concurrent use. ProcessData calls on the same agent are serialized.
type Agent struct {
	id        string
	agentType string
	logger    *slog.Logger
	events    domain.EventPublisher

	mu     sync.Mutex
	state  domain.AgentState
	model  domain.Model
	output []float64
	config map[string]string
}

// Option configures an Agent.
type Option func(*Agent)

// WithEventPublisher publishes agent.state.changed for every successful transition.
func WithEventPublisher(p domain.EventPublisher) Option {
	return func(a *Agent) { a.events = p }
}

// WithModel attaches a model at construction time.
func WithModel(m domain.Model) Option {
	return func(a *Agent) { a.model = m }
}

// New creates an agent in the Initialized state. Initialize must still be
// called once a model is attached.
func New(id, agentType string, logger *slog.Logger, opts ...Option) *Agent {
	a := &Agent{
		id:        id,
		agentType: agentType,
		logger:    logger.With("agent_id", id),
		state:     domain.AgentStateInitialized,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Type returns the agent type tag.
func (a *Agent) Type() string { return a.agentType }

// State returns the current lifecycle state.
func (a *Agent) State() domain.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Output returns a copy of the last successful processing result.
func (a *Agent) Output() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.output)
}

// Model returns the attached model, or nil.
func (a *Agent) Model() domain.Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// AttachModel replaces the attached model. Allowed in any state.
func (a *Agent) AttachModel(m domain.Model) error {
	if m == nil {
		return domain.NewDomainError("Agent.AttachModel", domain.ErrInvalidInput, "nil model")
	}
	a.mu.Lock()
	a.model = m
	a.mu.Unlock()
	a.logger.Debug("model attached", "model_id", m.ID(), "model_type", string(m.Type()))
	return nil
}

// SetConfiguration replaces the agent's free-form settings.
func (a *Agent) SetConfiguration(cfg map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = maps.Clone(cfg)
}

// Configuration returns a copy of the agent's settings.
func (a *Agent) Configuration() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.config)
}

// Initialize resets the agent to Initialized and clears its output.
// It fails with ErrNoModel, leaving state unchanged, when no model is attached.
func (a *Agent) Initialize() error {
	a.mu.Lock()
	if a.model == nil {
		state := a.state
		a.mu.Unlock()
		a.logger.Warn("initialize failed", "state", string(state), "error", domain.ErrNoModel)
		return domain.NewDomainError("Agent.Initialize", domain.ErrNoModel, a.id)
	}
	from := a.state
	a.state = domain.AgentStateInitialized
	a.output = nil
	a.mu.Unlock()

	a.logger.Info("agent initialized", "from", string(from))
	a.publish(from, domain.AgentStateInitialized)
	return nil
}

// Start moves the agent to Running from Initialized or Stopped.
func (a *Agent) Start() error {
	return a.transition("Agent.Start", domain.AgentStateRunning,
		domain.AgentStateInitialized, domain.AgentStateStopped)
}

// Stop moves the agent to Stopped from Running or Paused.
func (a *Agent) Stop() error {
	return a.transition("Agent.Stop", domain.AgentStateStopped,
		domain.AgentStateRunning, domain.AgentStatePaused)
}

// Pause moves the agent from Running to Paused.
func (a *Agent) Pause() error {
	return a.transition("Agent.Pause", domain.AgentStatePaused, domain.AgentStateRunning)
}

// Resume moves the agent from Paused back to Running.
func (a *Agent) Resume() error {
	return a.transition("Agent.Resume", domain.AgentStateRunning, domain.AgentStatePaused)
}

func (a *Agent) transition(op string, to domain.AgentState, from ...domain.AgentState) error {
	a.mu.Lock()
	current := a.state
	if !slices.Contains(from, current) {
		a.mu.Unlock()
		a.logger.Warn("invalid transition", "op", op, "state", string(current), "target", string(to))
		return domain.NewDomainError(op, domain.ErrInvalidTransition,
			fmt.Sprintf("agent %q is %s", a.id, current))
	}
	a.state = to
	a.mu.Unlock()

	a.logger.Info("agent state changed", "from", string(current), "state", string(to))
	a.publish(current, to)
	return nil
}

// ProcessData runs the attached model on input. On success the output is
// replaced and the agent stays Running. On model failure the agent moves to
// Error and keeps its previous output.
func (a *Agent) ProcessData(ctx context.Context, input []float64) ([]float64, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.process")
	defer span.End()
	span.SetAttributes(tracer.AgentAttrs(a.id, a.agentType)...)
	span.SetAttributes(tracer.IntAttr(tracer.KeyInputLen, len(input)))

	a.mu.Lock()
	if a.state != domain.AgentStateRunning {
		state := a.state
		a.mu.Unlock()
		a.logger.Warn("process rejected", "state", string(state))
		err := domain.NewDomainError("Agent.ProcessData", domain.ErrNotRunning,
			fmt.Sprintf("agent %q is %s", a.id, state))
		tracer.RecordError(span, err)
		return nil, err
	}

	result, err := a.infer(ctx, input)
	if err != nil {
		a.state = domain.AgentStateError
		a.mu.Unlock()

		wrapped := domain.NewDomainError("Agent.ProcessData", fmt.Errorf("%w: %w", domain.ErrModelFailure, err), a.id)
		a.logger.Error("model inference failed", "state", string(domain.AgentStateError),
			"error", err, "error_code", string(domain.ErrorCodeOf(wrapped)))
		a.publish(domain.AgentStateRunning, domain.AgentStateError)
		tracer.RecordError(span, wrapped)
		return nil, wrapped
	}
	a.output = slices.Clone(result)
	a.mu.Unlock()

	a.logger.Debug("data processed", "input_len", len(input), "output_len", len(result))
	tracer.SetOK(span)
	return result, nil
}

// RecordOutput stores a result computed elsewhere, typically by a dispatcher
// worker, as the agent's output. Only a Running agent accepts it.
func (a *Agent) RecordOutput(result []float64) error {
	a.mu.Lock()
	if a.state != domain.AgentStateRunning {
		state := a.state
		a.mu.Unlock()
		return domain.NewDomainError("Agent.RecordOutput", domain.ErrNotRunning,
			fmt.Sprintf("agent %q is %s", a.id, state))
	}
	a.output = slices.Clone(result)
	a.mu.Unlock()

	a.logger.Debug("output recorded", "output_len", len(result))
	return nil
}

// infer runs the model and converts a panic into an error so the caller
// can still release the agent lock.
func (a *Agent) infer(ctx context.Context, input []float64) (out []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("model panicked: %v", r)
		}
	}()
	return a.model.Inference(ctx, input)
}

// Snapshot returns a point-in-time status for display.
func (a *Agent) Snapshot() domain.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := domain.AgentStatus{
		ID:        a.id,
		Type:      a.agentType,
		State:     a.state,
		OutputLen: len(a.output),
	}
	if a.model != nil {
		st.ModelID = a.model.ID()
		st.ModelType = a.model.Type()
	}
	return st
}

func (a *Agent) publish(from, to domain.AgentState) {
	if a.events == nil {
		return
	}
	a.events.Publish(context.Background(), domain.NewEvent(domain.EventAgentStateChanged, a.id,
		domain.StateChangePayload{From: from, To: to}))
}

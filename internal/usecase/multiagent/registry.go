// Package multiagent owns the set of live agents.
package multiagent

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"xyz-agents/internal/domain"
	"xyz-agents/internal/usecase/agent"
)

// ModelProvider supplies the model attached to new agents of a type.
type ModelProvider interface {
	ModelFor(agentType string) (domain.Model, error)
}

// Registry is the sole owner of agents. Lookups may run concurrently with
// each other and with lifecycle operations on the agents themselves.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent

	models ModelProvider
	logger *slog.Logger
	events domain.EventPublisher
	newID  func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithEventBus publishes agent.created and agent.destroyed, and hands the
// publisher to every agent for state change events.
func WithEventBus(p domain.EventPublisher) Option {
	return func(r *Registry) { r.events = p }
}

// WithIDGenerator overrides the id used when CreateAgent gets an empty id.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(models ModelProvider, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		agents: make(map[string]*agent.Agent),
		models: models,
		logger: logger,
		newID:  generateID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func generateID() string {
	return "agent_" + ulid.Make().String()
}

// CreateAgent builds, initializes and registers an agent. An empty id is
// replaced by a generated one. Returns ErrDuplicate, leaving the existing
// agent untouched, if id is taken. Nothing is registered on failure.
func (r *Registry) CreateAgent(agentType, id string) (*agent.Agent, error) {
	if id == "" {
		id = r.newID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; exists {
		r.logger.Warn("create agent failed: duplicate id", "agent_id", id)
		return nil, domain.NewSubSystemError("agent", "Registry.CreateAgent", domain.ErrDuplicate, id)
	}

	opts := []agent.Option{}
	if r.events != nil {
		opts = append(opts, agent.WithEventPublisher(r.events))
	}
	a := agent.New(id, agentType, r.logger, opts...)

	if r.models != nil {
		m, err := r.models.ModelFor(agentType)
		if err != nil {
			r.logger.Error("create agent failed: no model", "agent_id", id, "type", agentType, "error", err)
			return nil, domain.WrapOp("Registry.CreateAgent", err)
		}
		if err := a.AttachModel(m); err != nil {
			return nil, domain.WrapOp("Registry.CreateAgent", err)
		}
	}
	if err := a.Initialize(); err != nil {
		r.logger.Error("create agent failed: initialize", "agent_id", id, "type", agentType, "error", err)
		return nil, domain.WrapOp("Registry.CreateAgent", err)
	}

	r.agents[id] = a
	r.logger.Info("agent created", "agent_id", id, "type", agentType)
	r.publish(domain.EventAgentCreated, id)
	return a, nil
}

// DestroyAgent stops (best effort) and removes an agent.
func (r *Registry) DestroyAgent(id string) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("destroy agent failed: not found", "agent_id", id)
		return domain.NewSubSystemError("agent", "Registry.DestroyAgent", domain.ErrNotFound, id)
	}
	delete(r.agents, id)
	r.mu.Unlock()

	r.stopQuietly(a)
	r.logger.Info("agent destroyed", "agent_id", id)
	r.publish(domain.EventAgentDestroyed, id)
	return nil
}

// GetAgent returns the agent registered under id.
func (r *Registry) GetAgent(id string) (*agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// ListAgents returns all agent ids, sorted.
func (r *Registry) ListAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// StartAllAgents starts every agent. It attempts all of them and returns
// the joined failures, or nil if every start succeeded.
func (r *Registry) StartAllAgents() error {
	return r.forEach("start", (*agent.Agent).Start)
}

// StopAllAgents stops every agent. It attempts all of them and returns the
// joined failures, or nil if every stop succeeded.
func (r *Registry) StopAllAgents() error {
	return r.forEach("stop", (*agent.Agent).Stop)
}

func (r *Registry) forEach(op string, fn func(*agent.Agent) error) error {
	var errs []error
	for _, a := range r.snapshot() {
		if err := fn(a); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		r.logger.Warn("batch operation incomplete", "op", op, "failed", len(errs))
	}
	return errors.Join(errs...)
}

// DestroyAllAgents stops every agent (best effort) and empties the registry.
// Agents still held by callers are left Stopped (or in their prior state if
// they could not be stopped).
func (r *Registry) DestroyAllAgents() {
	r.mu.Lock()
	agents := r.agents
	r.agents = make(map[string]*agent.Agent)
	r.mu.Unlock()

	if len(agents) == 0 {
		return
	}
	for id, a := range agents {
		r.stopQuietly(a)
		r.publish(domain.EventAgentDestroyed, id)
	}
	r.logger.Info("all agents destroyed", "count", len(agents))
}

// Statuses returns a snapshot of every agent, sorted by id.
func (r *Registry) Statuses() []domain.AgentStatus {
	agents := r.snapshot()
	statuses := make([]domain.AgentStatus, 0, len(agents))
	for _, a := range agents {
		statuses = append(statuses, a.Snapshot())
	}
	return statuses
}

// snapshot returns the registered agents sorted by id.
func (r *Registry) snapshot() []*agent.Agent {
	r.mu.RLock()
	agents := make([]*agent.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].ID() < agents[j].ID()
	})
	return agents
}

func (r *Registry) stopQuietly(a *agent.Agent) {
	switch a.State() {
	case domain.AgentStateRunning, domain.AgentStatePaused:
		if err := a.Stop(); err != nil {
			r.logger.Debug("stop during destroy failed", "agent_id", a.ID(), "error", err)
		}
	}
}

func (r *Registry) publish(t domain.EventType, id string) {
	if r.events == nil {
		return
	}
	r.events.Publish(context.Background(), domain.NewEvent(t, id, nil))
}

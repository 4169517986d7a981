package model

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"xyz-agents/internal/domain"
	"xyz-agents/internal/infra/config"
)

// Loader holds named models and resolves the model for an agent type.
// A model is built once per name and shared by every agent that uses it.
type Loader struct {
	mu     sync.RWMutex
	models map[string]domain.Model

	agents  config.AgentsConfig
	options config.ModelsConfig
	logger  *slog.Logger
}

// NewLoader creates an empty loader. agents maps agent types to model types;
// options supplies per-type parameters and the circuit breaker settings.
func NewLoader(agents config.AgentsConfig, options config.ModelsConfig, logger *slog.Logger) *Loader {
	return &Loader{
		models:  make(map[string]domain.Model),
		agents:  agents,
		options: options,
		logger:  logger,
	}
}

// Create builds a model from cfg and registers it under cfg.Name.
// Configured per-type parameters are merged under cfg.Parameters.
func (l *Loader) Create(cfg domain.ModelConfig) (domain.Model, error) {
	if cfg.Name == "" {
		return nil, domain.NewSubSystemError("model", "Loader.Create", domain.ErrInvalidInput, "empty model name")
	}
	m, err := l.build(cfg)
	if err != nil {
		return nil, err
	}
	if err := l.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (l *Loader) build(cfg domain.ModelConfig) (domain.Model, error) {
	params := make(map[string]string)
	for k, v := range l.options.Parameters[string(cfg.Type)] {
		params[k] = v
	}
	for k, v := range cfg.Parameters {
		params[k] = v
	}

	m, err := New(cfg.Name, cfg.Type, params)
	if err != nil {
		return nil, domain.NewSubSystemError("model", "Loader.Create", err, cfg.Name)
	}
	if l.options.CircuitBreaker.Enabled {
		m = NewCircuitBreakerModel(m, l.options.CircuitBreaker, l.logger)
	}
	l.logger.Info("model created", "model_id", cfg.Name, "model_type", string(cfg.Type), "version", cfg.Version)
	return m, nil
}

// Register adds m under its ID. Returns ErrDuplicate if the name is taken.
func (l *Loader) Register(m domain.Model) error {
	if m == nil {
		return domain.NewSubSystemError("model", "Loader.Register", domain.ErrInvalidInput, "nil model")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.models[m.ID()]; exists {
		return domain.NewSubSystemError("model", "Loader.Register", domain.ErrDuplicate, m.ID())
	}
	l.models[m.ID()] = m
	return nil
}

// Get retrieves a model by name.
func (l *Loader) Get(name string) (domain.Model, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.models[name]
	if !ok {
		return nil, domain.NewSubSystemError("model", "Loader.Get", domain.ErrNotFound, name)
	}
	return m, nil
}

// Unregister removes a model. Agents holding it keep their reference.
func (l *Loader) Unregister(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.models[name]; !ok {
		return domain.NewSubSystemError("model", "Loader.Unregister", domain.ErrNotFound, name)
	}
	delete(l.models, name)
	return nil
}

// List returns all registered model names, sorted.
func (l *Loader) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.models))
	for name := range l.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every registered model.
func (l *Loader) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.models)
}

// ModelFor returns the shared model for agentType, building it on first use.
// The model is registered under its model type name.
func (l *Loader) ModelFor(agentType string) (domain.Model, error) {
	t, err := domain.ParseModelType(l.agents.ModelTypeFor(agentType))
	if err != nil {
		return nil, domain.NewSubSystemError("model", "Loader.ModelFor", err, fmt.Sprintf("agent type %q", agentType))
	}
	name := string(t)

	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.models[name]; ok {
		return m, nil
	}
	m, err := l.build(domain.ModelConfig{Name: name, Type: t, Version: "1.0"})
	if err != nil {
		return nil, err
	}
	l.models[name] = m
	return m, nil
}

package model

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xyz-agents/internal/domain"
	"xyz-agents/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoader(types map[string]string, models config.ModelsConfig) *Loader {
	return NewLoader(config.AgentsConfig{DefaultModel: "neural_network", Types: types}, models, newTestLogger())
}

func TestLoaderCreateGet(t *testing.T) {
	l := newTestLoader(nil, config.ModelsConfig{})
	m, err := l.Create(domain.ModelConfig{Name: "tree", Type: domain.ModelDecisionTree})
	require.NoError(t, err)

	got, err := l.Get("tree")
	require.NoError(t, err)
	assert.Same(t, m, got)
	assert.Equal(t, []string{"tree"}, l.List())
}

func TestLoaderCreateErrors(t *testing.T) {
	l := newTestLoader(nil, config.ModelsConfig{})
	_, err := l.Create(domain.ModelConfig{Type: domain.ModelSVM})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = l.Create(domain.ModelConfig{Name: "x", Type: "gpt"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = l.Create(domain.ModelConfig{Name: "x", Type: domain.ModelSVM})
	require.NoError(t, err)
	_, err = l.Create(domain.ModelConfig{Name: "x", Type: domain.ModelSVM})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Equal(t, domain.CodeModelDuplicate, domain.ErrorCodeOf(err))
}

func TestLoaderParametersMerged(t *testing.T) {
	l := newTestLoader(nil, config.ModelsConfig{
		Parameters: map[string]map[string]string{
			"decision_tree": {ParamThreshold: "0.9"},
		},
	})
	configured, err := l.Create(domain.ModelConfig{Name: "a", Type: domain.ModelDecisionTree})
	require.NoError(t, err)
	out, err := configured.Inference(context.Background(), []float64{0.7})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, out)

	overridden, err := l.Create(domain.ModelConfig{
		Name: "b", Type: domain.ModelDecisionTree,
		Parameters: map[string]string{ParamThreshold: "0.1"},
	})
	require.NoError(t, err)
	out, err = overridden.Inference(context.Background(), []float64{0.7})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, out)
}

func TestLoaderUnregisterClear(t *testing.T) {
	l := newTestLoader(nil, config.ModelsConfig{})
	require.NoError(t, l.Register(mustModel(t, domain.ModelCustom, nil)))
	assert.ErrorIs(t, l.Register(nil), domain.ErrInvalidInput)

	require.NoError(t, l.Unregister("m"))
	err := l.Unregister("m")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeModelNotFound, domain.ErrorCodeOf(err))

	_, err = l.Create(domain.ModelConfig{Name: "y", Type: domain.ModelCustom})
	require.NoError(t, err)
	l.Clear()
	assert.Empty(t, l.List())
	_, err = l.Get("y")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestModelForSharesInstances(t *testing.T) {
	l := newTestLoader(map[string]string{"classifier": "svm"}, config.ModelsConfig{})

	a, err := l.ModelFor("classifier")
	require.NoError(t, err)
	assert.Equal(t, domain.ModelSVM, a.Type())

	b, err := l.ModelFor("classifier")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := l.ModelFor("anything-else")
	require.NoError(t, err)
	assert.Equal(t, domain.ModelNeuralNetwork, c.Type())
	assert.Equal(t, []string{"neural_network", "svm"}, l.List())
}

func TestModelForConcurrent(t *testing.T) {
	l := newTestLoader(nil, config.ModelsConfig{})
	var wg sync.WaitGroup
	got := make([]domain.Model, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := l.ModelFor("worker")
			assert.NoError(t, err)
			got[i] = m
		}(i)
	}
	wg.Wait()
	for _, m := range got {
		assert.Same(t, got[0], m)
	}
}

func TestModelForUnknownType(t *testing.T) {
	l := newTestLoader(map[string]string{"bad": "llm"}, config.ModelsConfig{})
	_, err := l.ModelFor("bad")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestModelForWrapsBreaker(t *testing.T) {
	l := newTestLoader(nil, config.ModelsConfig{
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true, MaxFailures: 2},
	})
	m, err := l.ModelFor("worker")
	require.NoError(t, err)
	_, ok := m.(*CircuitBreakerModel)
	assert.True(t, ok, "expected *CircuitBreakerModel, got %T", m)
	assert.Equal(t, "neural_network", m.ID())
}

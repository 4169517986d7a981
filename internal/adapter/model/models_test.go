package model

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xyz-agents/internal/domain"
)

func mustModel(t *testing.T, typ domain.ModelType, params map[string]string) domain.Model {
	t.Helper()
	m, err := New("m", typ, params)
	require.NoError(t, err)
	return m
}

func TestNeuralNetworkTanh(t *testing.T) {
	m := mustModel(t, domain.ModelNeuralNetwork, nil)
	out, err := m.Inference(context.Background(), []float64{0, 1, -2})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, math.Tanh(1), math.Tanh(-2)}, out, 1e-12)
	assert.Equal(t, domain.ModelNeuralNetwork, m.Type())
	assert.Equal(t, "m", m.ID())
}

func TestDecisionTree(t *testing.T) {
	tests := []struct {
		params map[string]string
		input  []float64
		want   float64
	}{
		{nil, []float64{0.6, 9}, 1},
		{nil, []float64{0.5}, 0},
		{nil, []float64{-1}, 0},
		{map[string]string{ParamThreshold: "0.8"}, []float64{0.6}, 0},
		{map[string]string{ParamThreshold: "0.8"}, []float64{0.81}, 1},
	}
	for _, tt := range tests {
		m := mustModel(t, domain.ModelDecisionTree, tt.params)
		out, err := m.Inference(context.Background(), tt.input)
		require.NoError(t, err)
		assert.Equal(t, []float64{tt.want}, out, "input %v params %v", tt.input, tt.params)
	}
}

func TestRandomForestVotes(t *testing.T) {
	m := mustModel(t, domain.ModelRandomForest, map[string]string{ParamTrees: "4"})
	// thresholds 0.2 0.4 0.6 0.8
	tests := []struct {
		in   float64
		want float64
	}{
		{0.1, 0},
		{0.5, 0.5},
		{0.7, 0.75},
		{0.9, 1},
	}
	for _, tt := range tests {
		out, err := m.Inference(context.Background(), []float64{tt.in})
		require.NoError(t, err)
		assert.InDelta(t, tt.want, out[0], 1e-12, "input %v", tt.in)
	}
}

func TestSVM(t *testing.T) {
	m := mustModel(t, domain.ModelSVM, nil)
	out, err := m.Inference(context.Background(), []float64{1, -0.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, out)
	out, err = m.Inference(context.Background(), []float64{-1, 0.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{-1}, out)

	m = mustModel(t, domain.ModelSVM, map[string]string{ParamWeights: "2, -1", ParamBias: "-0.5"})
	out, err = m.Inference(context.Background(), []float64{1, 1, 0}) // 2 - 1 + 0 - 0.5
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, out)
	out, err = m.Inference(context.Background(), []float64{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{-1}, out)
}

func TestCustomIdentity(t *testing.T) {
	m := mustModel(t, domain.ModelCustom, nil)
	in := []float64{3, 1, 4}
	out, err := m.Inference(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	out[0] = 0
	assert.Equal(t, 3.0, in[0])
}

func TestEmptyInputRejected(t *testing.T) {
	for _, typ := range domain.ModelTypes {
		m := mustModel(t, typ, nil)
		_, err := m.Inference(context.Background(), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "type %s", typ)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := mustModel(t, domain.ModelNeuralNetwork, nil)
	_, err := m.Inference(ctx, []float64{1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name   string
		typ    domain.ModelType
		params map[string]string
	}{
		{"unknown type", "transformer", nil},
		{"bad threshold", domain.ModelDecisionTree, map[string]string{ParamThreshold: "high"}},
		{"bad trees", domain.ModelRandomForest, map[string]string{ParamTrees: "many"}},
		{"zero trees", domain.ModelRandomForest, map[string]string{ParamTrees: "0"}},
		{"bad weights", domain.ModelSVM, map[string]string{ParamWeights: "1,x"}},
		{"bad bias", domain.ModelSVM, map[string]string{ParamBias: "?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("m", tt.typ, tt.params)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

// Package model provides the placeholder inference models and the loader
// that shares them between agents.
package model

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"xyz-agents/internal/domain"
)

// Parameter keys understood by New.
const (
	ParamThreshold = "threshold" // decision_tree
	ParamTrees     = "n_trees"   // random_forest
	ParamWeights   = "weights"   // svm, comma separated
	ParamBias      = "bias"      // svm
)

const (
	defaultThreshold = 0.5
	defaultTrees     = 10
)

// New builds the model variant for t. Unknown types and malformed
// parameters fail with ErrInvalidInput.
func New(id string, t domain.ModelType, params map[string]string) (domain.Model, error) {
	b := base{id: id, typ: t}
	switch t {
	case domain.ModelNeuralNetwork:
		return &neuralNetwork{base: b}, nil
	case domain.ModelDecisionTree:
		th, err := floatParam(params, ParamThreshold, defaultThreshold)
		if err != nil {
			return nil, err
		}
		return &decisionTree{base: b, threshold: th}, nil
	case domain.ModelRandomForest:
		n, err := intParam(params, ParamTrees, defaultTrees)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("%w: %s must be positive, got %d", domain.ErrInvalidInput, ParamTrees, n)
		}
		return newRandomForest(b, n), nil
	case domain.ModelSVM:
		w, err := floatsParam(params, ParamWeights)
		if err != nil {
			return nil, err
		}
		bias, err := floatParam(params, ParamBias, 0)
		if err != nil {
			return nil, err
		}
		return &svm{base: b, weights: w, bias: bias}, nil
	case domain.ModelCustom:
		return &custom{base: b}, nil
	default:
		return nil, fmt.Errorf("%w: unknown model type %q", domain.ErrInvalidInput, t)
	}
}

type base struct {
	id  string
	typ domain.ModelType
}

func (b base) ID() string             { return b.id }
func (b base) Type() domain.ModelType { return b.typ }

func checkInput(ctx context.Context, input []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(input) == 0 {
		return fmt.Errorf("%w: empty input", domain.ErrInvalidInput)
	}
	return nil
}

// neuralNetwork applies tanh element-wise.
type neuralNetwork struct{ base }

func (m *neuralNetwork) Inference(ctx context.Context, input []float64) ([]float64, error) {
	if err := checkInput(ctx, input); err != nil {
		return nil, err
	}
	out := make([]float64, len(input))
	for i, v := range input {
		out[i] = math.Tanh(v)
	}
	return out, nil
}

// decisionTree is a single split on the first feature.
type decisionTree struct {
	base
	threshold float64
}

func (m *decisionTree) Inference(ctx context.Context, input []float64) ([]float64, error) {
	if err := checkInput(ctx, input); err != nil {
		return nil, err
	}
	if input[0] > m.threshold {
		return []float64{1}, nil
	}
	return []float64{0}, nil
}

// randomForest votes with n stumps whose thresholds are spread evenly over (0,1).
type randomForest struct {
	base
	thresholds []float64
}

func newRandomForest(b base, n int) *randomForest {
	th := make([]float64, n)
	for i := range th {
		th[i] = float64(i+1) / float64(n+1)
	}
	return &randomForest{base: b, thresholds: th}
}

func (m *randomForest) Inference(ctx context.Context, input []float64) ([]float64, error) {
	if err := checkInput(ctx, input); err != nil {
		return nil, err
	}
	votes := 0
	for _, th := range m.thresholds {
		if input[0] > th {
			votes++
		}
	}
	return []float64{float64(votes) / float64(len(m.thresholds))}, nil
}

// svm is a linear classifier returning +1 or -1. Missing weights default to 1.
type svm struct {
	base
	weights []float64
	bias    float64
}

func (m *svm) Inference(ctx context.Context, input []float64) ([]float64, error) {
	if err := checkInput(ctx, input); err != nil {
		return nil, err
	}
	score := m.bias
	for i, v := range input {
		w := 1.0
		if i < len(m.weights) {
			w = m.weights[i]
		}
		score += w * v
	}
	if score >= 0 {
		return []float64{1}, nil
	}
	return []float64{-1}, nil
}

// custom passes input through unchanged.
type custom struct{ base }

func (m *custom) Inference(ctx context.Context, input []float64) ([]float64, error) {
	if err := checkInput(ctx, input); err != nil {
		return nil, err
	}
	return slices.Clone(input), nil
}

func floatParam(params map[string]string, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %s=%q is not a number", domain.ErrInvalidInput, key, v)
	}
	return f, nil
}

func intParam(params map[string]string, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %s=%q is not an integer", domain.ErrInvalidInput, key, v)
	}
	return n, nil
}

func floatsParam(params map[string]string, key string) ([]float64, error) {
	v := strings.TrimSpace(params[key])
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %s contains %q", domain.ErrInvalidInput, key, p)
		}
		out = append(out, f)
	}
	return out, nil
}

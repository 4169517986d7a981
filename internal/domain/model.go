package domain

import (
	"context"
	"fmt"
	"strings"
)

// ModelType identifies one of the fixed set of model variants.
type ModelType string

const (
	ModelNeuralNetwork ModelType = "neural_network"
	ModelDecisionTree  ModelType = "decision_tree"
	ModelRandomForest  ModelType = "random_forest"
	ModelSVM           ModelType = "svm"
	ModelCustom        ModelType = "custom"
)

// ModelTypes lists every supported model type.
var ModelTypes = []ModelType{
	ModelNeuralNetwork,
	ModelDecisionTree,
	ModelRandomForest,
	ModelSVM,
	ModelCustom,
}

// ParseModelType converts a config string to a ModelType.
func ParseModelType(s string) (ModelType, error) {
	t := ModelType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ModelTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown model type %q", ErrInvalidInput, s)
}

// Model is the inference capability attached to an agent. A model may be
// shared by any number of agents and must be safe for concurrent use.
type Model interface {
	ID() string
	Type() ModelType
	Inference(ctx context.Context, input []float64) ([]float64, error)
}

// ModelConfig describes a model to construct.
type ModelConfig struct {
	Name       string            `json:"name"       yaml:"name"`
	Type       ModelType         `json:"type"       yaml:"type"`
	Version    string            `json:"version"    yaml:"version"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

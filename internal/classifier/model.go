package classifier

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_model.yaml
var defaultModel []byte

// Model is a logistic scorecard: each term is a CEL expression over the
// feature vector whose value is multiplied by its weight.
type Model struct {
	Name      string  `yaml:"name" json:"name"`
	Version   string  `yaml:"version" json:"version"`
	Intercept float64 `yaml:"intercept" json:"intercept"`
	Terms     []Term  `yaml:"terms" json:"terms"`
}

// Term is one weighted scorecard contribution.
type Term struct {
	Name       string  `yaml:"name" json:"name"`
	Expression string  `yaml:"expression" json:"expression"`
	Weight     float64 `yaml:"weight" json:"weight"`
}

// ParseModel decodes and sanity-checks a YAML model document.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if len(m.Terms) == 0 {
		return nil, fmt.Errorf("model %s has no terms", m.Name)
	}
	if !finite(m.Intercept) {
		return nil, fmt.Errorf("model %s: intercept must be finite", m.Name)
	}

	seen := make(map[string]bool, len(m.Terms))
	for _, t := range m.Terms {
		if t.Name == "" || t.Expression == "" {
			return nil, fmt.Errorf("model %s: every term needs a name and an expression", m.Name)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("model %s: duplicate term %s", m.Name, t.Name)
		}
		if !finite(t.Weight) {
			return nil, fmt.Errorf("model %s: term %s weight must be finite", m.Name, t.Name)
		}
		seen[t.Name] = true
	}
	return &m, nil
}

// ReadModelFile loads a model from disk.
func ReadModelFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return ParseModel(data)
}

// DefaultModel returns the embedded model.
func DefaultModel() *Model {
	m, err := ParseModel(defaultModel)
	if err != nil {
		panic(fmt.Sprintf("embedded model is invalid: %v", err))
	}
	return m
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

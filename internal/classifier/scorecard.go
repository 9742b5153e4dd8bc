// Package classifier scores feature vectors with a CEL-evaluated
// logistic scorecard.
package classifier

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Scorecard implements domain.Classifier.
type Scorecard struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled *compiledModel

	// path is re-read by Reload; empty means the embedded model.
	path string
}

type compiledModel struct {
	model    *Model
	programs []cel.Program
}

// Info summarizes the loaded model.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Terms   int    `json:"terms"`
}

// New creates a scorecard with no model loaded. Score fails until Load
// or Reload succeeds.
func New(path string) (*Scorecard, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("country", cel.StringType),
		cel.Variable("routing_code_valid", cel.BoolType),
		cel.Variable("account_pattern_suspicious", cel.BoolType),
		cel.Variable("name_matches_account", cel.BoolType),
		cel.Variable("account_name_inconsistent", cel.BoolType),
		cel.Variable("high_risk_country", cel.BoolType),
		cel.Variable("very_high_amount", cel.BoolType),
		cel.Variable("suspicious_name_pattern", cel.BoolType),
		cel.Variable("multiple_accounts_same_holder", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Scorecard{env: env, path: path}, nil
}

// Load compiles m and swaps it in. On error the previous model stays.
func (s *Scorecard) Load(m *Model) error {
	compiled, err := s.compile(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.compiled = compiled
	s.mu.Unlock()
	return nil
}

// Reload reads the configured model file, or the embedded model when no
// path was given, and loads it.
func (s *Scorecard) Reload() (Info, error) {
	info, err := s.reload()
	if err != nil {
		metrics.ModelLoadsTotal.WithLabelValues("failure").Inc()
		return Info{}, err
	}
	metrics.ModelLoadsTotal.WithLabelValues("success").Inc()
	return info, nil
}

func (s *Scorecard) reload() (Info, error) {
	var m *Model
	if s.path == "" {
		m = DefaultModel()
	} else {
		var err error
		if m, err = ReadModelFile(s.path); err != nil {
			return Info{}, err
		}
	}
	if err := s.Load(m); err != nil {
		return Info{}, err
	}
	return s.Info(), nil
}

// Ready reports whether a model is loaded.
func (s *Scorecard) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compiled != nil
}

// Info describes the loaded model.
func (s *Scorecard) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.compiled == nil {
		return Info{}
	}
	return Info{
		Name:    s.compiled.model.Name,
		Version: s.compiled.model.Version,
		Terms:   len(s.compiled.programs),
	}
}

// Score returns the fraud probability for f.
func (s *Scorecard) Score(ctx context.Context, f domain.Features) (float64, error) {
	s.mu.RLock()
	compiled := s.compiled
	s.mu.RUnlock()

	if compiled == nil {
		return 0, fmt.Errorf("%w: no model loaded", domain.ErrModelUnavailable)
	}

	activation := map[string]any{
		"amount":                        f.Amount,
		"country":                       f.Country,
		"routing_code_valid":            f.RoutingCodeValid,
		"account_pattern_suspicious":    f.AccountPatternSuspicious,
		"name_matches_account":          f.NameMatchesAccount,
		"account_name_inconsistent":     f.AccountNameInconsistent,
		"high_risk_country":             f.HighRiskCountry,
		"very_high_amount":              f.VeryHighAmount,
		"suspicious_name_pattern":       f.SuspiciousNamePattern,
		"multiple_accounts_same_holder": f.MultipleAccountsSameHolder,
	}

	z := compiled.model.Intercept
	for i, prg := range compiled.programs {
		out, _, err := prg.ContextEval(ctx, activation)
		if err != nil {
			return 0, fmt.Errorf("%w: term %s: %v", domain.ErrModelUnavailable, compiled.model.Terms[i].Name, err)
		}
		z += compiled.model.Terms[i].Weight * toValue(out)
	}

	p := 1 / (1 + math.Exp(-z))
	if math.IsNaN(p) {
		return 0, fmt.Errorf("%w: score is not a number", domain.ErrModelUnavailable)
	}
	return p, nil
}

func (s *Scorecard) compile(m *Model) (*compiledModel, error) {
	if m == nil {
		return nil, fmt.Errorf("model is required")
	}

	programs := make([]cel.Program, 0, len(m.Terms))
	for _, t := range m.Terms {
		ast, issues := s.env.Compile(t.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile term %s: %w", t.Name, issues.Err())
		}

		outputType := ast.OutputType()
		if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
			return nil, fmt.Errorf("term %s: expression must return bool, int, or double, got %s", t.Name, outputType)
		}

		prg, err := s.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for term %s: %w", t.Name, err)
		}
		programs = append(programs, prg)
	}

	return &compiledModel{model: m, programs: programs}, nil
}

// toValue converts a CEL result to a term value.
func toValue(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

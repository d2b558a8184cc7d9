package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/validator-score-ea/internal/scoring"
)

// ScoringFile is the YAML document that tunes the scorer. Every key is
// optional; missing weights keep their defaults.
//
//	apy_top: 0.12
//	weights:
//	  apy: 0.4
//	  dominance: 0
type ScoringFile struct {
	APYTop  float64                 `yaml:"apy_top"`
	Weights scoring.WeightOverrides `yaml:"weights"`
}

// LoadScoringFile reads and decodes a scoring file.
func LoadScoringFile(path string) (ScoringFile, error) {
	var f ScoringFile

	b, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("reading scoring file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("decoding scoring file %s: %w", path, err)
	}
	if f.APYTop < 0 {
		return f, fmt.Errorf("scoring file %s: apy_top must not be negative, got %f", path, f.APYTop)
	}
	return f, nil
}

// NewScorer builds the scorer described by the scoring file at path, or the
// default scorer when path is empty.
func NewScorer(path string) (*scoring.Scorer, error) {
	if path == "" {
		return scoring.NewDefaultScorer(), nil
	}

	f, err := LoadScoringFile(path)
	if err != nil {
		return nil, err
	}

	w := scoring.DefaultWeights().Merge(&f.Weights)
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("scoring file %s: %w", path, err)
	}

	return scoring.NewScorer(w).WithAPYTop(f.APYTop), nil
}

// Scorer builds the scorer for this configuration.
func (c Config) Scorer() (*scoring.Scorer, error) {
	return NewScorer(c.WeightsFile)
}

package search

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Strategy is a named Config preset. The registry ships with built-ins
// and accepts overrides from a YAML file, so ranking experiments don't
// require a rebuild.
type Strategy struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Config      Config `yaml:"config"`
}

type StrategyRegistry struct {
	strategies map[string]Strategy
}

func NewStrategyRegistry() *StrategyRegistry {
	r := &StrategyRegistry{strategies: make(map[string]Strategy)}
	for _, s := range builtinStrategies() {
		r.strategies[s.Name] = s
	}
	return r
}

// Get fails on unknown names rather than silently falling back, so a
// typo in a caller or override file surfaces immediately.
func (r *StrategyRegistry) Get(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return Strategy{}, fmt.Errorf("unknown search strategy %q (known: %v)", name, r.Names())
	}
	return s, nil
}

func (r *StrategyRegistry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *StrategyRegistry) Register(s Strategy) {
	r.strategies[s.Name] = s
}

// LoadOverrides merges strategies from a YAML file into the registry.
// Names colliding with built-ins replace them.
func (r *StrategyRegistry) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read strategy overrides: %w", err)
	}
	var file struct {
		Strategies []Strategy `yaml:"strategies"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse strategy overrides: %w", err)
	}
	for _, s := range file.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy override with empty name in %s", path)
		}
		r.strategies[s.Name] = s
	}
	return nil
}

func builtinStrategies() []Strategy {
	base := DefaultConfig()

	ftsHeavy := base
	ftsHeavy.FTSWeight = 0.7
	ftsHeavy.VectorWeight = 0.3

	vectorHeavy := base
	vectorHeavy.FTSWeight = 0.2
	vectorHeavy.VectorWeight = 0.8

	highRecall := base
	highRecall.VectorSimilarityThreshold = 0.15
	highRecall.FTSRankThreshold = 0.001
	highRecall.MaxFTSResults = 100
	highRecall.MaxVectorResults = 100
	highRecall.MaxResults = 50
	highRecall.EnableQueryExpansion = true

	recency := base
	recency.EnableRecencyBoost = true
	recency.RecencyMode = RecencyExponential

	recencyExact := recency
	recencyExact.EnableExactSubstringBoost = true
	recencyExact.RecencyMode = RecencyLinearWindow

	ftsOnly := base
	ftsOnly.FTSWeight = 1
	ftsOnly.VectorWeight = 0

	vectorOnly := base
	vectorOnly.FTSWeight = 0
	vectorOnly.VectorWeight = 1

	return []Strategy{
		{Name: "baseline", Description: "Default hybrid weights with phrase matching", Config: base},
		{Name: "fts_heavy", Description: "Lean on lexical rank for keyword-ish queries", Config: ftsHeavy},
		{Name: "vector_heavy", Description: "Lean on semantic similarity for natural-language queries", Config: vectorHeavy},
		{Name: "high_recall", Description: "Low thresholds, expansion on, wide caps", Config: highRecall},
		{Name: "recency_boost", Description: "Hybrid with exponential recency blending", Config: recency},
		{Name: "recency_exact", Description: "Tiered recency plus exact substring boost", Config: recencyExact},
		{Name: "fts_only", Description: "Full-text leg only", Config: ftsOnly},
		{Name: "vector_only", Description: "Vector leg only", Config: vectorOnly},
	}
}

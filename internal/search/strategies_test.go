package search

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinStrategies(t *testing.T) {
	r := NewStrategyRegistry()
	for _, name := range []string{"baseline", "fts_heavy", "vector_heavy", "high_recall",
		"recency_boost", "recency_exact", "fts_only", "vector_only"} {
		s, err := r.Get(name)
		if err != nil {
			t.Fatalf("missing builtin %s: %v", name, err)
		}
		if s.Name != name {
			t.Fatalf("name mismatch: %s vs %s", s.Name, name)
		}
	}

	ftsOnly, _ := r.Get("fts_only")
	if ftsOnly.Config.VectorWeight != 0 || ftsOnly.Config.FTSWeight != 1 {
		t.Fatalf("fts_only weights: %+v", ftsOnly.Config)
	}
	rec, _ := r.Get("recency_boost")
	if !rec.Config.EnableRecencyBoost || rec.Config.RecencyMode != RecencyExponential {
		t.Fatalf("recency_boost config: %+v", rec.Config)
	}
}

func TestUnknownStrategyRejectedAtLookup(t *testing.T) {
	_, err := NewStrategyRegistry().Get("nope")
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected lookup error naming the strategy, got %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	yaml := `strategies:
  - name: baseline
    description: tweaked
    config:
      fts_weight: 0.5
      vector_weight: 0.5
      max_results: 10
  - name: custom
    config:
      fts_weight: 1.0
      max_results: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write overrides: %v", err)
	}

	r := NewStrategyRegistry()
	if err := r.LoadOverrides(path); err != nil {
		t.Fatalf("load overrides: %v", err)
	}
	base, err := r.Get("baseline")
	if err != nil {
		t.Fatalf("baseline after override: %v", err)
	}
	if base.Config.FTSWeight != 0.5 || base.Config.MaxResults != 10 {
		t.Fatalf("override not applied: %+v", base.Config)
	}
	custom, err := r.Get("custom")
	if err != nil {
		t.Fatalf("custom strategy: %v", err)
	}
	if custom.Config.MaxResults != 5 {
		t.Fatalf("custom config: %+v", custom.Config)
	}
}

func TestLoadOverridesRejectsEmptyName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("strategies:\n  - description: unnamed\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := NewStrategyRegistry().LoadOverrides(path); err == nil {
		t.Fatal("expected error for unnamed strategy")
	}
}

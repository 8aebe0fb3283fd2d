package search

import (
	"context"
	"math"

	"github.com/google/uuid"
)

// EvalCase is one labeled query: the message ids a good ranking should
// surface.
type EvalCase struct {
	Query    string
	Relevant []uuid.UUID
}

// EvalMetrics aggregates standard ranking metrics at a fixed K,
// averaged over all cases.
type EvalMetrics struct {
	MRR          float64 `json:"mrr"`
	HitAtK       float64 `json:"hit_at_k"`
	RecallAtK    float64 `json:"recall_at_k"`
	PrecisionAtK float64 `json:"precision_at_k"`
	NDCGAtK      float64 `json:"ndcg_at_k"`
	K            int     `json:"k"`
	Cases        int     `json:"cases"`
}

// EvaluateStrategy runs every case through the named strategy and
// scores the rankings. Cases with no relevant labels are skipped.
func (s *Service) EvaluateStrategy(ctx context.Context, registry *StrategyRegistry, name string, cases []EvalCase, k int) (*EvalMetrics, error) {
	strat, err := registry.Get(name)
	if err != nil {
		return nil, err
	}
	rankings := make([][]uuid.UUID, 0, len(cases))
	kept := make([]EvalCase, 0, len(cases))
	for _, c := range cases {
		if len(c.Relevant) == 0 {
			continue
		}
		results, _, err := s.SearchWithConfig(ctx, c.Query, strat.Config, Options{Limit: k})
		if err != nil {
			return nil, err
		}
		ranked := make([]uuid.UUID, 0, len(results))
		for _, r := range results {
			ranked = append(ranked, r.MessageID)
		}
		rankings = append(rankings, ranked)
		kept = append(kept, c)
	}
	m := Evaluate(rankings, kept, k)
	return &m, nil
}

// Evaluate scores pre-computed rankings against labeled cases.
// rankings[i] corresponds to cases[i].
func Evaluate(rankings [][]uuid.UUID, cases []EvalCase, k int) EvalMetrics {
	m := EvalMetrics{K: k}
	if len(cases) == 0 || k <= 0 {
		return m
	}
	for i, c := range cases {
		ranked := rankings[i]
		if len(ranked) > k {
			ranked = ranked[:k]
		}
		relevant := make(map[uuid.UUID]bool, len(c.Relevant))
		for _, id := range c.Relevant {
			relevant[id] = true
		}

		hits := 0
		firstRank := 0
		dcg := 0.0
		for pos, id := range ranked {
			if !relevant[id] {
				continue
			}
			hits++
			if firstRank == 0 {
				firstRank = pos + 1
			}
			dcg += 1 / math.Log2(float64(pos)+2)
		}
		if firstRank > 0 {
			m.MRR += 1 / float64(firstRank)
			m.HitAtK++
		}
		m.RecallAtK += float64(hits) / float64(len(c.Relevant))
		m.PrecisionAtK += float64(hits) / float64(k)

		ideal := len(c.Relevant)
		if ideal > k {
			ideal = k
		}
		idcg := 0.0
		for pos := 0; pos < ideal; pos++ {
			idcg += 1 / math.Log2(float64(pos)+2)
		}
		if idcg > 0 {
			m.NDCGAtK += dcg / idcg
		}
	}
	n := float64(len(cases))
	m.MRR /= n
	m.HitAtK /= n
	m.RecallAtK /= n
	m.PrecisionAtK /= n
	m.NDCGAtK /= n
	m.Cases = len(cases)
	return m
}

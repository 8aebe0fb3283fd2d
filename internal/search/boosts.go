package search

import (
	"math"
	"strings"
	"time"
)

// ApplyBoosts reshapes fused scores in place-order: multiplicative
// phrase and substring boosts first, then the recency blend.
func ApplyBoosts(results []Result, query string, cfg Config, now time.Time) []Result {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	phrase := strings.Join(strings.Fields(queryLower), " ")

	for i := range results {
		r := &results[i]
		contentLower := strings.ToLower(r.Content)

		if cfg.EnablePhraseMatching && phrase != "" && strings.Contains(contentLower, phrase) {
			r.Score *= cfg.PhraseBoost
		}
		if cfg.EnableExactSubstringBoost && query != "" && strings.Contains(r.Content, query) {
			r.Score *= cfg.ExactSubstringBoost
		}
		if cfg.EnableRecencyBoost && cfg.RecencyMode != RecencyNone {
			rec := recencyScore(now.Sub(r.CreatedAt), cfg)
			w := cfg.RecencyWeight
			r.Score = (1-w)*r.Score + w*rec
		}
	}
	return results
}

// recencyScore maps age to [0,1]; 1 means "just now".
func recencyScore(age time.Duration, cfg Config) float64 {
	days := age.Hours() / 24
	if days < 0 {
		days = 0
	}
	switch cfg.RecencyMode {
	case RecencyExponential:
		if cfg.HalfLifeDays <= 0 {
			return 0
		}
		return math.Exp(-days / cfg.HalfLifeDays)
	case RecencyLogarithmic:
		if cfg.HalfLifeDays <= 0 {
			return 0
		}
		return 1 / (1 + math.Log(1+days/cfg.HalfLifeDays))
	case RecencyLinearWindow:
		switch {
		case days <= cfg.FullBoostDays:
			return 1.0
		case days <= cfg.HalfBoostDays:
			return 0.5
		case days <= cfg.QuarterBoostDays:
			return 0.25
		default:
			return 0
		}
	default:
		return 0
	}
}

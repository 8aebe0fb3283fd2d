package search

// RecencyMode selects how message age feeds the recency score.
type RecencyMode string

const (
	RecencyNone         RecencyMode = "none"
	RecencyExponential  RecencyMode = "exponential"
	RecencyLogarithmic  RecencyMode = "logarithmic"
	RecencyLinearWindow RecencyMode = "linear_window"
)

// Config drives one search invocation. Weights must sum to 1; strategies
// are named presets over this struct.
type Config struct {
	VectorWeight float64 `yaml:"vector_weight"`
	FTSWeight    float64 `yaml:"fts_weight"`

	VectorSimilarityThreshold float64 `yaml:"vector_similarity_threshold"`
	FTSRankThreshold          float64 `yaml:"fts_rank_threshold"`

	MaxResults       int `yaml:"max_results"`
	MaxFTSResults    int `yaml:"max_fts_results"`
	MaxVectorResults int `yaml:"max_vector_results"`

	EnableQueryExpansion      bool `yaml:"enable_query_expansion"`
	EnablePhraseMatching      bool `yaml:"enable_phrase_matching"`
	EnableExactSubstringBoost bool `yaml:"enable_exact_substring_boost"`
	EnableRecencyBoost        bool `yaml:"enable_recency_boost"`
	EnableQualityCutoff       bool `yaml:"enable_quality_cutoff"`

	PhraseBoost         float64 `yaml:"phrase_boost"`
	ExactSubstringBoost float64 `yaml:"exact_substring_boost"`

	RecencyWeight    float64     `yaml:"recency_weight"`
	RecencyMode      RecencyMode `yaml:"recency_mode"`
	HalfLifeDays     float64     `yaml:"half_life_days"`
	FullBoostDays    float64     `yaml:"full_boost_days"`
	HalfBoostDays    float64     `yaml:"half_boost_days"`
	QuarterBoostDays float64     `yaml:"quarter_boost_days"`

	// QualityCutoffSlope is the score drop, relative to the top score,
	// past which trailing results are discarded.
	QualityCutoffSlope float64 `yaml:"quality_cutoff_slope"`
}

func DefaultConfig() Config {
	return Config{
		VectorWeight:              0.6,
		FTSWeight:                 0.4,
		VectorSimilarityThreshold: 0.3,
		FTSRankThreshold:          0.01,
		MaxResults:                20,
		MaxFTSResults:             50,
		MaxVectorResults:          50,
		EnableQueryExpansion:      false,
		EnablePhraseMatching:      true,
		EnableExactSubstringBoost: false,
		EnableRecencyBoost:        false,
		EnableQualityCutoff:       false,
		PhraseBoost:               1.5,
		ExactSubstringBoost:       1.3,
		RecencyWeight:             0.3,
		RecencyMode:               RecencyNone,
		HalfLifeDays:              30,
		FullBoostDays:             7,
		HalfBoostDays:             30,
		QuarterBoostDays:          90,
		QualityCutoffSlope:        0.5,
	}
}

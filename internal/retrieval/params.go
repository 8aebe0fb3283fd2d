package retrieval

// Params controls contextual retrieval. Zero values are not useful;
// start from DefaultParams and override.
type Params struct {
	TopKWindows     int  `json:"top_k_windows"`
	ContextWindow   int  `json:"context_window"`
	AdaptiveContext bool `json:"adaptive_context"`

	// AsymmetricBefore/After, when >= 0, override ContextWindow on one
	// side. -1 means "use ContextWindow".
	AsymmetricBefore int `json:"asymmetric_before"`
	AsymmetricAfter  int `json:"asymmetric_after"`

	Deduplicate    bool `json:"deduplicate"`
	MaxTokens      int  `json:"max_tokens"`
	PreserveTurns  bool `json:"preserve_turns"`
	Rerank         bool `json:"rerank"`
	IncludeMarkers bool `json:"include_markers"`

	ProximityDecayLambda float64 `json:"proximity_decay_lambda"`
	ApplyRecencyBonus    bool    `json:"apply_recency_bonus"`
}

func DefaultParams() Params {
	return Params{
		TopKWindows:          5,
		ContextWindow:        2,
		AdaptiveContext:      true,
		AsymmetricBefore:     -1,
		AsymmetricAfter:      -1,
		Deduplicate:          true,
		MaxTokens:            0,
		PreserveTurns:        true,
		Rerank:               true,
		IncludeMarkers:       true,
		ProximityDecayLambda: 0.5,
		ApplyRecencyBonus:    false,
	}
}

func (p Params) windowBefore() int {
	if p.AsymmetricBefore >= 0 {
		return p.AsymmetricBefore
	}
	return p.ContextWindow
}

func (p Params) windowAfter() int {
	if p.AsymmetricAfter >= 0 {
		return p.AsymmetricAfter
	}
	return p.ContextWindow
}

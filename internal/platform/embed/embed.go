// Package embed defines the embedding oracle contract: text in, fixed
// dimension vector out. The worker retries oracle failures with backoff.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"time"
)

type Oracle interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension() int
}

// HTTPOracle calls a local or remote embedding server speaking a minimal
// JSON contract: POST {"text": ...} -> {"vector": [...]}.
type HTTPOracle struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

func NewHTTPOracle(baseURL, model string, dimension int) *HTTPOracle {
	return &HTTPOracle{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *HTTPOracle) Model() string  { return o.model }
func (o *HTTPOracle) Dimension() int { return o.dimension }

func (o *HTTPOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"text": text, "model": o.model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding server returned %d", resp.StatusCode)
	}

	var out struct {
		Vector []float32 `json:"vector"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Vector) != o.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d got %d", o.dimension, len(out.Vector))
	}
	return out.Vector, nil
}

// HashingOracle is a deterministic, dependency-free oracle for dev and
// tests: feature-hashed token counts, L2-normalized. Similar texts get
// similar vectors because they share tokens, which is enough to exercise
// the retrieval pipeline end to end.
type HashingOracle struct {
	dimension int
}

func NewHashingOracle(dimension int) *HashingOracle {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashingOracle{dimension: dimension}
}

func (o *HashingOracle) Model() string  { return "hashing-v1" }
func (o *HashingOracle) Dimension() int { return o.dimension }

func (o *HashingOracle) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, o.dimension)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := int(h.Sum32()) % o.dimension
		if idx < 0 {
			idx += o.dimension
		}
		// Sign from a second hash bit keeps the expectation near zero.
		if h.Sum32()&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

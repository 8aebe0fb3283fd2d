// Package transcript defines the optional transcript oracle consumed by
// youtube_transcription jobs.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("transcript oracle unavailable")

type Transcript struct {
	Text        string  `json:"text"`
	Language    string  `json:"language"`
	IsGenerated bool    `json:"is_generated"`
	Duration    float64 `json:"duration"`
}

type Oracle interface {
	Fetch(ctx context.Context, videoID string, langs []string) (*Transcript, error)
}

// HTTPOracle talks to a transcript sidecar: POST {"video_id", "langs"}.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

func NewHTTPOracle(baseURL string) *HTTPOracle {
	return &HTTPOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *HTTPOracle) Fetch(ctx context.Context, videoID string, langs []string) (*Transcript, error) {
	if videoID == "" {
		return nil, fmt.Errorf("missing video id")
	}
	body, err := json.Marshal(map[string]interface{}{"video_id": videoID, "langs": langs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcript request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcript server returned %d", resp.StatusCode)
	}

	var out Transcript
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode transcript response: %w", err)
	}
	return &out, nil
}

// Disabled always reports ErrUnavailable; used when no sidecar is
// configured so transcription jobs fail fast without retry storms.
type Disabled struct{}

func (Disabled) Fetch(context.Context, string, []string) (*Transcript, error) {
	return nil, ErrUnavailable
}

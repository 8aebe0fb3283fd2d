// Package retrieval assembles conversation context around search hits:
// windows of surrounding turns, merged, scored by proximity, trimmed to
// a token budget, and formatted for a downstream consumer.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/chatvault/internal/data/repos/conversations"
	"github.com/castellan/chatvault/internal/data/repos/messages"
	types "github.com/castellan/chatvault/internal/domain"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/logger"
	"github.com/castellan/chatvault/internal/search"
)

// WindowMetadata travels with each formatted window so the consumer can
// cite and debug the retrieval.
type WindowMetadata struct {
	ConversationID    uuid.UUID `json:"conversation_id"`
	WindowID          uuid.UUID `json:"window_id"`
	MatchedMessageID  uuid.UUID `json:"matched_message_id"`
	ConversationTitle string    `json:"conversation_title"`
	WindowSize        int       `json:"window_size"`
	MatchPosition     int       `json:"match_position"`
	BeforeCount       int       `json:"before_count"`
	AfterCount        int       `json:"after_count"`
	BaseScore         float64   `json:"base_score"`
	AggregatedScore   float64   `json:"aggregated_score"`
	Roles             []string  `json:"roles"`
	TokenEstimate     int       `json:"token_estimate"`
	RetrievalParams   Params    `json:"retrieval_params"`
}

// FormattedWindow is the final deliverable: rendered text plus metadata.
type FormattedWindow struct {
	Content  string         `json:"content"`
	Metadata WindowMetadata `json:"metadata"`
}

type Service struct {
	log      *logger.Logger
	searcher *search.Service
	msgRepo  messages.MessageRepo
	convRepo conversations.ConversationRepo
	now      func() time.Time
}

func NewService(log *logger.Logger, searcher *search.Service, msgRepo messages.MessageRepo, convRepo conversations.ConversationRepo) *Service {
	return &Service{
		log:      log.With("service", "RetrievalService"),
		searcher: searcher,
		msgRepo:  msgRepo,
		convRepo: convRepo,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// convCache memoizes per-conversation loads for the duration of one
// retrieval call; several hits usually land in the same conversation.
type convCache struct {
	msgs   map[uuid.UUID][]types.Message
	titles map[uuid.UUID]string
}

// Retrieve runs the full pipeline. Per-window failures are logged and
// dropped; the call fails only when the underlying search does.
func (s *Service) Retrieve(ctx context.Context, query string, p Params) ([]FormattedWindow, error) {
	if p.TopKWindows <= 0 {
		p.TopKWindows = DefaultParams().TopKWindows
	}
	// Over-fetch so merging and per-window failures still leave enough.
	hits, _, err := s.searcher.Search(ctx, query, search.Options{Limit: 3 * p.TopKWindows})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	cache := &convCache{
		msgs:   make(map[uuid.UUID][]types.Message),
		titles: make(map[uuid.UUID]string),
	}
	dbc := dbctx.New(ctx)

	windows := make([]ContextWindow, 0, len(hits))
	for _, hit := range hits {
		w, err := s.buildFromHit(dbc, cache, hit, p)
		if err != nil {
			s.log.Warn("Dropping context window",
				"message_id", hit.MessageID, "conversation_id", hit.ConversationID, "error", err)
			continue
		}
		windows = append(windows, w)
	}

	if p.Deduplicate {
		windows = mergeWindows(windows)
	}
	now := s.now()
	for i := range windows {
		scoreWindow(&windows[i], p.ProximityDecayLambda, p.ApplyRecencyBonus, now)
	}
	if p.Rerank {
		sortWindows(windows)
	}
	if p.MaxTokens > 0 {
		for i := range windows {
			windows[i] = trimToBudget(windows[i], p.MaxTokens, p.PreserveTurns)
		}
	}
	if len(windows) > p.TopKWindows {
		windows = windows[:p.TopKWindows]
	}

	out := make([]FormattedWindow, 0, len(windows))
	for _, w := range windows {
		out = append(out, s.format(w, cache.titles[w.ConversationID], p))
	}
	return out, nil
}

func (s *Service) buildFromHit(dbc dbctx.Context, cache *convCache, hit search.Result, p Params) (ContextWindow, error) {
	msgs, ok := cache.msgs[hit.ConversationID]
	if !ok {
		rows, err := s.msgRepo.ListByConversation(dbc, hit.ConversationID)
		if err != nil {
			return ContextWindow{}, err
		}
		msgs = make([]types.Message, len(rows))
		for i, row := range rows {
			msgs[i] = *row
		}
		cache.msgs[hit.ConversationID] = msgs

		conv, err := s.convRepo.GetByID(dbc, hit.ConversationID)
		if err != nil {
			return ContextWindow{}, err
		}
		if conv != nil {
			cache.titles[hit.ConversationID] = conv.Title
		}
	}

	matchIdx := -1
	for i, m := range msgs {
		if m.ID == hit.MessageID {
			matchIdx = i
			break
		}
	}
	if matchIdx < 0 {
		return ContextWindow{}, fmt.Errorf("matched message %s not found in conversation", hit.MessageID)
	}
	return buildWindow(msgs, matchIdx, hit.Score, p), nil
}

func (s *Service) format(w ContextWindow, title string, p Params) FormattedWindow {
	var b strings.Builder
	if p.IncludeMarkers {
		b.WriteString("[CTX_START]\n")
	}
	roles := make([]string, 0, len(w.Messages))
	for i, wm := range w.Messages {
		m := wm.Message
		roles = append(roles, m.Role)
		line := fmt.Sprintf("%s (%s): %s", roleLabel(m.Role), m.CreatedAt.UTC().Format("2006-01-02 15:04"), m.Content)
		if p.IncludeMarkers && i == w.MatchPosition {
			line = "[MATCH_START] " + line + " [MATCH_END]"
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if p.IncludeMarkers {
		b.WriteString("[CTX_END]")
	}

	before := w.MatchPosition
	after := len(w.Messages) - w.MatchPosition - 1
	return FormattedWindow{
		Content: strings.TrimRight(b.String(), "\n"),
		Metadata: WindowMetadata{
			ConversationID:    w.ConversationID,
			WindowID:          w.ID,
			MatchedMessageID:  w.MatchedMessageID,
			ConversationTitle: title,
			WindowSize:        len(w.Messages),
			MatchPosition:     w.MatchPosition,
			BeforeCount:       before,
			AfterCount:        after,
			BaseScore:         w.BaseScore,
			AggregatedScore:   w.AggregatedScore,
			Roles:             roles,
			TokenEstimate:     w.TokenEstimate(),
			RetrievalParams:   p,
		},
	}
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	case "system":
		return "System"
	default:
		return role
	}
}

func sortWindows(windows []ContextWindow) {
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].AggregatedScore > windows[j].AggregatedScore
	})
}

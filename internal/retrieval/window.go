package retrieval

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	types "github.com/castellan/chatvault/internal/domain"
	"github.com/castellan/chatvault/internal/domain/archive"
)

// WindowMessage is one message inside a context window, annotated with
// its signed offset from the matched message.
type WindowMessage struct {
	Message           types.Message
	DistanceFromMatch int
}

// ContextWindow is a contiguous slice of a conversation centered on a
// search hit. After merging it may span several original hits; the
// match fields then describe the highest-scoring one.
type ContextWindow struct {
	ID               uuid.UUID
	ConversationID   uuid.UUID
	MatchedMessageID uuid.UUID
	MatchPosition    int
	Messages         []WindowMessage
	BaseScore        float64
	AggregatedScore  float64
}

func (w *ContextWindow) messageIDs() map[uuid.UUID]bool {
	ids := make(map[uuid.UUID]bool, len(w.Messages))
	for _, m := range w.Messages {
		ids[m.Message.ID] = true
	}
	return ids
}

// TokenEstimate approximates the window's size as len(content)/4 per
// message, matching what downstream consumers budget against.
func (w *ContextWindow) TokenEstimate() int {
	total := 0
	for _, m := range w.Messages {
		total += len(m.Message.Content) / 4
	}
	return total
}

// buildWindow slices [matchIdx-before, matchIdx+after] out of the
// conversation, clipped to its bounds. Adaptive context widens one side
// so a user match carries its answer and an assistant match its prompt.
func buildWindow(msgs []types.Message, matchIdx int, baseScore float64, p Params) ContextWindow {
	before := p.windowBefore()
	after := p.windowAfter()
	if p.AdaptiveContext {
		switch msgs[matchIdx].Role {
		case archive.RoleUser:
			if after < 1 {
				after = 1
			}
		case archive.RoleAssistant:
			if before < 1 {
				before = 1
			}
		}
	}

	start := matchIdx - before
	if start < 0 {
		start = 0
	}
	end := matchIdx + after
	if end > len(msgs)-1 {
		end = len(msgs) - 1
	}

	w := ContextWindow{
		ID:               uuid.New(),
		ConversationID:   msgs[matchIdx].ConversationID,
		MatchedMessageID: msgs[matchIdx].ID,
		MatchPosition:    matchIdx - start,
		BaseScore:        baseScore,
	}
	for i := start; i <= end; i++ {
		w.Messages = append(w.Messages, WindowMessage{
			Message:           msgs[i],
			DistanceFromMatch: i - matchIdx,
		})
	}
	return w
}

// mergeWindows collapses windows of the same conversation whose message
// sets intersect. The merged window is the union re-sorted by created_at
// (then sequence, then id), keeps the higher base score, and re-locates
// the match of the winning window.
func mergeWindows(windows []ContextWindow) []ContextWindow {
	byConv := make(map[uuid.UUID][]ContextWindow)
	convOrder := make([]uuid.UUID, 0)
	for _, w := range windows {
		if _, seen := byConv[w.ConversationID]; !seen {
			convOrder = append(convOrder, w.ConversationID)
		}
		byConv[w.ConversationID] = append(byConv[w.ConversationID], w)
	}

	var out []ContextWindow
	for _, convID := range convOrder {
		group := byConv[convID]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Messages[0].Message.ID.String() < group[j].Messages[0].Message.ID.String()
		})
		merged := make([]ContextWindow, 0, len(group))
		for _, w := range group {
			placed := false
			for i := range merged {
				if intersects(merged[i].messageIDs(), w.messageIDs()) {
					merged[i] = mergeTwo(merged[i], w)
					placed = true
					break
				}
			}
			if !placed {
				merged = append(merged, w)
			}
		}
		out = append(out, merged...)
	}
	return out
}

func intersects(a, b map[uuid.UUID]bool) bool {
	for id := range b {
		if a[id] {
			return true
		}
	}
	return false
}

func mergeTwo(a, b ContextWindow) ContextWindow {
	winner := a
	if b.BaseScore > a.BaseScore {
		winner = b
	}

	seen := make(map[uuid.UUID]bool)
	union := make([]types.Message, 0, len(a.Messages)+len(b.Messages))
	for _, wm := range append(append([]WindowMessage{}, a.Messages...), b.Messages...) {
		if seen[wm.Message.ID] {
			continue
		}
		seen[wm.Message.ID] = true
		union = append(union, wm.Message)
	}
	sort.SliceStable(union, func(i, j int) bool {
		if !union[i].CreatedAt.Equal(union[j].CreatedAt) {
			return union[i].CreatedAt.Before(union[j].CreatedAt)
		}
		if si, sj := union[i].Sequence(), union[j].Sequence(); si != sj {
			return si < sj
		}
		return union[i].ID.String() < union[j].ID.String()
	})

	out := ContextWindow{
		ID:               a.ID,
		ConversationID:   a.ConversationID,
		MatchedMessageID: winner.MatchedMessageID,
		BaseScore:        winner.BaseScore,
	}
	matchIdx := 0
	for i, m := range union {
		if m.ID == winner.MatchedMessageID {
			matchIdx = i
		}
	}
	out.MatchPosition = matchIdx
	for i, m := range union {
		out.Messages = append(out.Messages, WindowMessage{
			Message:           m,
			DistanceFromMatch: i - matchIdx,
		})
	}
	return out
}

// scoreWindow computes the proximity-weighted aggregate: every message
// contributes base_score damped by exp(-lambda * |distance|), averaged.
func scoreWindow(w *ContextWindow, lambda float64, recencyBonus bool, now time.Time) {
	if len(w.Messages) == 0 {
		w.AggregatedScore = 0
		return
	}
	sum := 0.0
	for _, m := range w.Messages {
		d := float64(m.DistanceFromMatch)
		if d < 0 {
			d = -d
		}
		sum += w.BaseScore * math.Exp(-lambda*d)
	}
	score := sum / float64(len(w.Messages))
	if recencyBonus {
		match := w.Messages[w.MatchPosition].Message
		ageDays := now.Sub(match.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		score += 0.05 * math.Exp(-ageDays/90)
	}
	w.AggregatedScore = score
}

// trimToBudget drops messages from whichever end sits farther from the
// match until the token estimate fits, never touching the match itself.
// With preserveTurns it also removes a leading assistant or trailing
// user message left orphaned by the trim.
func trimToBudget(w ContextWindow, maxTokens int, preserveTurns bool) ContextWindow {
	if maxTokens <= 0 {
		return w
	}
	for w.TokenEstimate() > maxTokens && len(w.Messages) > 1 {
		distFirst := -w.Messages[0].DistanceFromMatch
		distLast := w.Messages[len(w.Messages)-1].DistanceFromMatch
		if distFirst >= distLast && w.MatchPosition > 0 {
			w.Messages = w.Messages[1:]
			w.MatchPosition--
		} else if len(w.Messages)-1 > w.MatchPosition {
			w.Messages = w.Messages[:len(w.Messages)-1]
		} else if w.MatchPosition > 0 {
			w.Messages = w.Messages[1:]
			w.MatchPosition--
		} else {
			break
		}
	}
	if preserveTurns && len(w.Messages) > 1 {
		if w.MatchPosition > 0 && w.Messages[0].Message.Role == archive.RoleAssistant && w.Messages[0].DistanceFromMatch != 0 {
			w.Messages = w.Messages[1:]
			w.MatchPosition--
		}
		last := len(w.Messages) - 1
		if last > w.MatchPosition && w.Messages[last].Message.Role == archive.RoleUser && w.Messages[last].DistanceFromMatch != 0 {
			w.Messages = w.Messages[:last]
		}
	}
	return w
}

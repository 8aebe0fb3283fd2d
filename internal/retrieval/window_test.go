package retrieval

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/castellan/chatvault/internal/domain"
	"github.com/castellan/chatvault/internal/domain/archive"
)

func conversationOf(t *testing.T, roles ...string) []types.Message {
	t.Helper()
	convID := uuid.New()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]types.Message, len(roles))
	for i, role := range roles {
		msgs[i] = types.Message{
			ID:             uuid.New(),
			ConversationID: convID,
			Role:           role,
			Content:        strings.Repeat("word ", 20), // ~25 tokens
			Metadata:       datatypes.JSONMap{"sequence": i},
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func TestBuildWindowClipsAtBounds(t *testing.T) {
	msgs := conversationOf(t, "user", "assistant", "user", "assistant", "user")
	p := DefaultParams()
	p.ContextWindow = 2
	p.AdaptiveContext = false

	w := buildWindow(msgs, 0, 1.0, p)
	if len(w.Messages) != 3 || w.MatchPosition != 0 {
		t.Fatalf("start clip: size=%d pos=%d", len(w.Messages), w.MatchPosition)
	}
	w = buildWindow(msgs, 4, 1.0, p)
	if len(w.Messages) != 3 || w.MatchPosition != 2 {
		t.Fatalf("end clip: size=%d pos=%d", len(w.Messages), w.MatchPosition)
	}
	w = buildWindow(msgs, 2, 1.0, p)
	if len(w.Messages) != 5 || w.MatchPosition != 2 {
		t.Fatalf("middle: size=%d pos=%d", len(w.Messages), w.MatchPosition)
	}
}

func TestBuildWindowSingleMessageConversation(t *testing.T) {
	msgs := conversationOf(t, "user")
	w := buildWindow(msgs, 0, 0.8, DefaultParams())
	if len(w.Messages) != 1 || w.MatchPosition != 0 {
		t.Fatalf("single message window: %+v", w)
	}
}

func TestBuildWindowAdaptiveContext(t *testing.T) {
	msgs := conversationOf(t, "user", "assistant", "user", "assistant")
	p := DefaultParams()
	p.ContextWindow = 0
	p.AdaptiveContext = true

	// A user match pulls in the following assistant turn.
	w := buildWindow(msgs, 2, 1.0, p)
	if len(w.Messages) != 2 || w.Messages[1].Message.Role != archive.RoleAssistant {
		t.Fatalf("user match should include the answer: %d messages", len(w.Messages))
	}
	// An assistant match pulls in the preceding user turn.
	w = buildWindow(msgs, 3, 1.0, p)
	if len(w.Messages) != 2 || w.Messages[0].Message.Role != archive.RoleUser {
		t.Fatalf("assistant match should include the prompt: %d messages", len(w.Messages))
	}
}

func TestBuildWindowAsymmetric(t *testing.T) {
	msgs := conversationOf(t, "user", "assistant", "user", "assistant", "user")
	p := DefaultParams()
	p.AdaptiveContext = false
	p.AsymmetricBefore = 0
	p.AsymmetricAfter = 2

	w := buildWindow(msgs, 1, 1.0, p)
	if w.MatchPosition != 0 || len(w.Messages) != 3 {
		t.Fatalf("asymmetric window: pos=%d size=%d", w.MatchPosition, len(w.Messages))
	}
}

func TestMergeOverlappingWindows(t *testing.T) {
	msgs := conversationOf(t, "user", "assistant", "user", "assistant", "user")
	p := DefaultParams()
	p.ContextWindow = 1
	p.AdaptiveContext = false

	a := buildWindow(msgs, 1, 0.9, p) // covers 0..2
	b := buildWindow(msgs, 2, 0.5, p) // covers 1..3
	merged := mergeWindows([]ContextWindow{a, b})
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged window, got %d", len(merged))
	}
	m := merged[0]
	if len(m.Messages) != 4 {
		t.Fatalf("union size: %d", len(m.Messages))
	}
	// Higher base score wins the match identity.
	if m.BaseScore != 0.9 || m.MatchedMessageID != msgs[1].ID {
		t.Fatalf("winner: score=%f match=%s", m.BaseScore, m.MatchedMessageID)
	}
	if m.MatchPosition != 1 {
		t.Fatalf("match position after merge: %d", m.MatchPosition)
	}
	for i := 1; i < len(m.Messages); i++ {
		if m.Messages[i].Message.CreatedAt.Before(m.Messages[i-1].Message.CreatedAt) {
			t.Fatal("merged window must stay sorted by created_at")
		}
	}
}

func TestMergeKeepsDisjointWindows(t *testing.T) {
	long := conversationOf(t, "user", "assistant", "user", "assistant", "user", "assistant", "user", "assistant")
	p := DefaultParams()
	p.ContextWindow = 1
	p.AdaptiveContext = false

	a := buildWindow(long, 1, 0.9, p) // 0..2
	b := buildWindow(long, 6, 0.8, p) // 5..7
	merged := mergeWindows([]ContextWindow{a, b})
	if len(merged) != 2 {
		t.Fatalf("disjoint windows must not merge, got %d", len(merged))
	}
}

func TestScoreWindowProximityDecay(t *testing.T) {
	msgs := conversationOf(t, "user", "assistant", "user")
	p := DefaultParams()
	p.ContextWindow = 1
	p.AdaptiveContext = false
	w := buildWindow(msgs, 1, 1.0, p)

	scoreWindow(&w, 0.5, false, time.Now().UTC())
	// mean(exp(-0.5), exp(0), exp(-0.5)) with base 1.
	want := (math.Exp(-0.5) + 1 + math.Exp(-0.5)) / 3
	if math.Abs(w.AggregatedScore-want) > 1e-9 {
		t.Fatalf("aggregated: got %f want %f", w.AggregatedScore, want)
	}

	// Recency bonus adds at most 0.05 for a fresh match.
	scored := w
	scoreWindow(&scored, 0.5, true, msgs[1].CreatedAt)
	if diff := scored.AggregatedScore - w.AggregatedScore; math.Abs(diff-0.05) > 1e-9 {
		t.Fatalf("recency bonus: %f", diff)
	}
}

func TestTrimToBudgetNeverDropsMatch(t *testing.T) {
	msgs := conversationOf(t, "user", "assistant", "user", "assistant", "user")
	p := DefaultParams()
	p.ContextWindow = 2
	p.AdaptiveContext = false
	w := buildWindow(msgs, 2, 1.0, p)
	matchID := w.MatchedMessageID

	trimmed := trimToBudget(w, 30, false)
	if trimmed.TokenEstimate() > 30+25 {
		t.Fatalf("still over budget: %d", trimmed.TokenEstimate())
	}
	found := false
	for _, m := range trimmed.Messages {
		if m.Message.ID == matchID {
			found = true
		}
	}
	if !found {
		t.Fatal("match dropped by trimming")
	}

	// Budget tighter than the match alone: the match survives anyway.
	tiny := trimToBudget(w, 1, false)
	if len(tiny.Messages) != 1 || tiny.Messages[0].Message.ID != matchID {
		t.Fatalf("tiny budget: %d messages", len(tiny.Messages))
	}
}

func TestTrimPreserveTurns(t *testing.T) {
	msgs := conversationOf(t, "assistant", "user", "assistant", "user")
	p := DefaultParams()
	p.ContextWindow = 3
	p.AdaptiveContext = false
	w := buildWindow(msgs, 2, 1.0, p)

	// Budget of three messages: trimming drops index 3 (farther side is
	// tied, leading edge goes first), then preserve_turns also removes a
	// leading assistant orphan if one remains.
	trimmed := trimToBudget(w, 75, true)
	if trimmed.Messages[0].Message.Role == archive.RoleAssistant && trimmed.MatchPosition != 0 {
		t.Fatalf("leading assistant orphan kept: %+v", trimmed.Messages[0].Message.Role)
	}
	last := trimmed.Messages[len(trimmed.Messages)-1]
	if last.Message.Role == archive.RoleUser && last.DistanceFromMatch > 0 {
		t.Fatal("trailing user orphan kept")
	}
}

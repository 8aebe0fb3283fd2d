package format

import (
	"testing"

	"github.com/castellan/chatvault/internal/domain/archive"
)

const claudeExport = `[{
	"uuid": "c0ffee00-1111-2222-3333-444455556666",
	"name": "Trip planning",
	"created_at": "2024-05-01T09:00:00Z",
	"updated_at": "2024-05-01T09:30:00Z",
	"chat_messages": [
		{
			"sender": "human",
			"created_at": "2024-05-01T09:00:00Z",
			"content": [{"type": "text", "text": "Plan a weekend in Lisbon"}],
			"attachments": [{"file_name": "notes.txt", "file_type": "text/plain", "extracted_content": "old notes"}]
		},
		{
			"sender": "assistant",
			"created_at": "2024-05-01T09:01:00Z",
			"text": "Day one: Alfama."
		},
		{
			"sender": "assistant",
			"content": [{"type": "tool_use", "name": "web"}]
		}
	]
}]`

func TestClaudeDetectAndExtract(t *testing.T) {
	payload := decodeJSON(t, claudeExport)
	f, convs, ok := DefaultRegistry().Detect(payload)
	if !ok || f.Name() != archive.SourceClaude {
		t.Fatalf("detect: ok=%v format=%v", ok, f)
	}
	conv, err := f.Extract(convs[0])
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if conv.Title != "Trip planning" || conv.SourceID != "c0ffee00-1111-2222-3333-444455556666" {
		t.Fatalf("header: %+v", conv)
	}
	// The tool_use-only message has no text and is dropped.
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != archive.RoleUser {
		t.Fatalf("sender human should map to user, got %s", conv.Messages[0].Role)
	}
	if conv.Messages[0].Content != "Plan a weekend in Lisbon" {
		t.Fatalf("content blocks: %q", conv.Messages[0].Content)
	}
	if conv.Messages[1].Content != "Day one: Alfama." {
		t.Fatalf("legacy text field: %q", conv.Messages[1].Content)
	}
}

func TestClaudeAttachments(t *testing.T) {
	payload := decodeJSON(t, claudeExport)
	_, convs, _ := DefaultRegistry().Detect(payload)
	conv, err := Claude{}.Extract(convs[0])
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	atts := conv.Messages[0].Attachments
	if len(atts) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(atts))
	}
	if atts[0].FileName != "notes.txt" || !atts[0].Available || atts[0].ExtractedContent != "old notes" {
		t.Fatalf("attachment: %+v", atts[0])
	}
}

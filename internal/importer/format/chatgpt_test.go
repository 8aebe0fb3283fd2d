package format

import (
	"encoding/json"
	"testing"

	"github.com/castellan/chatvault/internal/domain/archive"
)

func decodeJSON(t *testing.T, raw string) interface{} {
	t.Helper()
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return v
}

const chatgptExport = `[{
	"id": "conv-1",
	"title": "Debugging session",
	"create_time": 1700000000,
	"update_time": 1700000300,
	"mapping": {
		"root": {"id": "root", "children": ["n1"]},
		"n1": {
			"id": "n1",
			"children": ["n2"],
			"message": {
				"author": {"role": "user"},
				"content": {"parts": ["Why does my test fail?"]},
				"create_time": 1700000010
			}
		},
		"n2": {
			"id": "n2",
			"children": [],
			"message": {
				"author": {"role": "assistant"},
				"content": {"parts": ["Check the fixture path."]},
				"create_time": 1700000020,
				"metadata": {"model_slug": "gpt-4"}
			}
		}
	}
}]`

func TestChatGPTDetect(t *testing.T) {
	payload := decodeJSON(t, chatgptExport)
	convs, ok := ChatGPT{}.Detect(payload)
	if !ok || len(convs) != 1 {
		t.Fatalf("detect: ok=%v len=%d", ok, len(convs))
	}
	if _, ok := (Claude{}).Detect(payload); ok {
		t.Fatal("claude should not claim a chatgpt export")
	}
}

func TestChatGPTExtract(t *testing.T) {
	payload := decodeJSON(t, chatgptExport)
	f, convs, ok := DefaultRegistry().Detect(payload)
	if !ok || f.Name() != archive.SourceChatGPT {
		t.Fatalf("registry detect: ok=%v format=%v", ok, f)
	}
	conv, err := f.Extract(convs[0])
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if conv.Title != "Debugging session" || conv.SourceID != "conv-1" {
		t.Fatalf("header: %+v", conv)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != archive.RoleUser || conv.Messages[1].Role != archive.RoleAssistant {
		t.Fatalf("roles: %s, %s", conv.Messages[0].Role, conv.Messages[1].Role)
	}
	if conv.Messages[1].Metadata["model"] != "gpt-4" {
		t.Fatalf("model metadata: %v", conv.Messages[1].Metadata)
	}
	if conv.SourceUpdatedAt == nil || conv.SourceUpdatedAt.Unix() != 1700000300 {
		t.Fatalf("source_updated_at: %v", conv.SourceUpdatedAt)
	}
}

func TestChatGPTExtractSkipsEmptyNodes(t *testing.T) {
	payload := decodeJSON(t, `[{
		"id": "conv-2",
		"mapping": {
			"root": {"id": "root", "children": ["n1"]},
			"n1": {"id": "n1", "children": [], "message": {
				"author": {"role": "system"},
				"content": {"parts": [""]}
			}}
		}
	}]`)
	_, convs, ok := DefaultRegistry().Detect(payload)
	if !ok {
		t.Fatal("detect failed")
	}
	conv, err := ChatGPT{}.Extract(convs[0])
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(conv.Messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(conv.Messages))
	}
}

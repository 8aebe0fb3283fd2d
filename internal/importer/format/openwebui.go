package format

import (
	"fmt"
	"sort"

	"github.com/castellan/chatvault/internal/domain/archive"
)

// OpenWebUI handles an OpenWebUI chat export: conversations nest their
// turns under chat.history.messages (a map keyed by message id).
type OpenWebUI struct{}

func (OpenWebUI) Name() string          { return archive.SourceOpenWebUI }
func (OpenWebUI) RequiresLicense() bool { return false }

func (OpenWebUI) Detect(payload interface{}) ([]interface{}, bool) {
	convs := sliceOfMaps(payload)
	if len(convs) == 0 {
		return nil, false
	}
	for _, c := range convs {
		chat, ok := asMap(c["chat"])
		if !ok {
			return nil, false
		}
		history, ok := asMap(chat["history"])
		if !ok {
			return nil, false
		}
		if _, ok := asMap(history["messages"]); !ok {
			return nil, false
		}
	}
	return toRawSlice(convs), true
}

func (OpenWebUI) Extract(conv interface{}) (*Conversation, error) {
	c, ok := asMap(conv)
	if !ok {
		return nil, fmt.Errorf("openwebui: conversation is not an object")
	}
	chat, _ := asMap(c["chat"])
	history, _ := asMap(chat["history"])
	rawMessages, ok := asMap(history["messages"])
	if !ok {
		return nil, fmt.Errorf("openwebui: missing chat.history.messages")
	}

	out := &Conversation{
		Title:           firstNonEmpty(str(c, "title"), str(chat, "title")),
		SourceID:        str(c, "id"),
		CreatedAt:       ParseTimestamp(c["created_at"]),
		SourceUpdatedAt: ParseTimestamp(c["updated_at"]),
	}

	// The history map has no inherent order; sort by timestamp with the
	// message id as tiebreaker so repeated extraction is stable.
	type entry struct {
		id  string
		msg map[string]interface{}
		ts  float64
	}
	entries := make([]entry, 0, len(rawMessages))
	for id, v := range rawMessages {
		msg, ok := asMap(v)
		if !ok {
			continue
		}
		ts, _ := msg["timestamp"].(float64)
		entries = append(entries, entry{id: id, msg: msg, ts: ts})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts != entries[j].ts {
			return entries[i].ts < entries[j].ts
		}
		return entries[i].id < entries[j].id
	})

	for _, e := range entries {
		role := openWebUIRole(str(e.msg, "role"))
		content := str(e.msg, "content")
		if role == "" || content == "" {
			continue
		}
		m := Message{
			Role:      role,
			Content:   content,
			CreatedAt: ParseTimestamp(e.msg["timestamp"]),
			Metadata:  map[string]interface{}{"source": archive.SourceOpenWebUI},
		}
		if model := str(e.msg, "model"); model != "" {
			m.Metadata["model"] = model
		}
		out.Messages = append(out.Messages, m)
	}
	return out, nil
}

func openWebUIRole(role string) string {
	switch role {
	case "user":
		return archive.RoleUser
	case "assistant":
		return archive.RoleAssistant
	case "system":
		return archive.RoleSystem
	}
	return ""
}

package format

import (
	"fmt"
	"sort"

	"github.com/castellan/chatvault/internal/domain/archive"
)

// ChatGPT handles the conversations.json shape of a ChatGPT data export:
// each conversation carries a "mapping" of node id to
// {message, parent, children} forming a tree of turns.
type ChatGPT struct{}

func (ChatGPT) Name() string          { return archive.SourceChatGPT }
func (ChatGPT) RequiresLicense() bool { return false }

func (ChatGPT) Detect(payload interface{}) ([]interface{}, bool) {
	convs := sliceOfMaps(payload)
	if len(convs) == 0 {
		return nil, false
	}
	for _, c := range convs {
		if _, ok := asMap(c["mapping"]); !ok {
			return nil, false
		}
	}
	return toRawSlice(convs), true
}

func (g ChatGPT) Extract(conv interface{}) (*Conversation, error) {
	c, ok := asMap(conv)
	if !ok {
		return nil, fmt.Errorf("chatgpt: conversation is not an object")
	}
	mapping, ok := asMap(c["mapping"])
	if !ok {
		return nil, fmt.Errorf("chatgpt: missing mapping")
	}

	out := &Conversation{
		Title:           str(c, "title"),
		SourceID:        firstNonEmpty(str(c, "conversation_id"), str(c, "id")),
		CreatedAt:       ParseTimestamp(c["create_time"]),
		SourceUpdatedAt: ParseTimestamp(c["update_time"]),
	}

	for _, nodeID := range walkMapping(mapping) {
		node, _ := asMap(mapping[nodeID])
		msg, ok := asMap(node["message"])
		if !ok {
			continue
		}
		role := mappingRole(msg)
		content := mappingContent(msg)
		if role == "" || content == "" {
			continue
		}
		m := Message{
			Role:      role,
			Content:   content,
			CreatedAt: ParseTimestamp(msg["create_time"]),
			Metadata:  map[string]interface{}{"source": archive.SourceChatGPT},
		}
		if meta, ok := asMap(msg["metadata"]); ok {
			if model := str(meta, "model_slug"); model != "" {
				m.Metadata["model"] = model
			}
			m.Attachments = mappingAttachments(meta)
		}
		out.Messages = append(out.Messages, m)
	}
	return out, nil
}

// walkMapping follows the tree from the root along children, depth-first,
// so the extracted order matches the transcript as displayed. Nodes
// orphaned by edits still appear after their branch point.
func walkMapping(mapping map[string]interface{}) []string {
	childOf := make(map[string]bool, len(mapping))
	for _, v := range mapping {
		node, ok := asMap(v)
		if !ok {
			continue
		}
		if children, ok := asSlice(node["children"]); ok {
			for _, ch := range children {
				if id, ok := ch.(string); ok {
					childOf[id] = true
				}
			}
		}
	}

	var roots []string
	for id := range mapping {
		if !childOf[id] {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)

	var order []string
	seen := make(map[string]bool, len(mapping))
	var visit func(id string)
	visit = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		order = append(order, id)
		node, ok := asMap(mapping[id])
		if !ok {
			return
		}
		if children, ok := asSlice(node["children"]); ok {
			for _, ch := range children {
				if cid, ok := ch.(string); ok {
					visit(cid)
				}
			}
		}
	}
	for _, r := range roots {
		visit(r)
	}
	return order
}

func mappingRole(msg map[string]interface{}) string {
	author, ok := asMap(msg["author"])
	if !ok {
		return ""
	}
	switch str(author, "role") {
	case "user":
		return archive.RoleUser
	case "assistant":
		return archive.RoleAssistant
	case "system":
		return archive.RoleSystem
	}
	return ""
}

func mappingContent(msg map[string]interface{}) string {
	content, ok := asMap(msg["content"])
	if !ok {
		return ""
	}
	parts, ok := asSlice(content["parts"])
	if !ok {
		return str(content, "text")
	}
	var joined string
	for _, p := range parts {
		if s, ok := p.(string); ok && s != "" {
			if joined != "" {
				joined += "\n"
			}
			joined += s
		}
	}
	return joined
}

func mappingAttachments(meta map[string]interface{}) []archive.Attachment {
	raw, ok := asSlice(meta["attachments"])
	if !ok {
		return nil
	}
	out := make([]archive.Attachment, 0, len(raw))
	for _, v := range raw {
		a, ok := asMap(v)
		if !ok {
			continue
		}
		out = append(out, archive.Attachment{
			FileName:  firstNonEmpty(str(a, "name"), str(a, "file_name")),
			Type:      firstNonEmpty(str(a, "mime_type"), str(a, "mimeType")),
			Available: false,
			Metadata:  map[string]interface{}{"id": str(a, "id")},
		})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package format

import (
	"fmt"

	"github.com/castellan/chatvault/internal/domain/archive"
)

// Claude handles conversations.json from a Claude data export: a list of
// conversations each carrying "chat_messages" with sender human/assistant.
type Claude struct{}

func (Claude) Name() string          { return archive.SourceClaude }
func (Claude) RequiresLicense() bool { return false }

func (Claude) Detect(payload interface{}) ([]interface{}, bool) {
	convs := sliceOfMaps(payload)
	if len(convs) == 0 {
		return nil, false
	}
	for _, c := range convs {
		if _, ok := asSlice(c["chat_messages"]); !ok {
			return nil, false
		}
	}
	return toRawSlice(convs), true
}

func (Claude) Extract(conv interface{}) (*Conversation, error) {
	c, ok := asMap(conv)
	if !ok {
		return nil, fmt.Errorf("claude: conversation is not an object")
	}
	rawMessages, ok := asSlice(c["chat_messages"])
	if !ok {
		return nil, fmt.Errorf("claude: missing chat_messages")
	}

	out := &Conversation{
		Title:           str(c, "name"),
		SourceID:        str(c, "uuid"),
		CreatedAt:       ParseTimestamp(c["created_at"]),
		SourceUpdatedAt: ParseTimestamp(c["updated_at"]),
	}

	for _, raw := range rawMessages {
		msg, ok := asMap(raw)
		if !ok {
			continue
		}
		role := claudeRole(str(msg, "sender"))
		content := claudeText(msg)
		if role == "" || content == "" {
			continue
		}
		m := Message{
			Role:        role,
			Content:     content,
			CreatedAt:   ParseTimestamp(msg["created_at"]),
			Metadata:    map[string]interface{}{"source": archive.SourceClaude},
			Attachments: claudeAttachments(msg),
		}
		out.Messages = append(out.Messages, m)
	}
	return out, nil
}

func claudeRole(sender string) string {
	switch sender {
	case "human":
		return archive.RoleUser
	case "assistant":
		return archive.RoleAssistant
	}
	return ""
}

// Newer exports carry content blocks; older ones only "text".
func claudeText(msg map[string]interface{}) string {
	if blocks, ok := asSlice(msg["content"]); ok {
		var joined string
		for _, b := range blocks {
			block, ok := asMap(b)
			if !ok || str(block, "type") != "text" {
				continue
			}
			if t := str(block, "text"); t != "" {
				if joined != "" {
					joined += "\n"
				}
				joined += t
			}
		}
		if joined != "" {
			return joined
		}
	}
	return str(msg, "text")
}

func claudeAttachments(msg map[string]interface{}) []archive.Attachment {
	var out []archive.Attachment
	if raw, ok := asSlice(msg["attachments"]); ok {
		for _, v := range raw {
			a, ok := asMap(v)
			if !ok {
				continue
			}
			extracted := str(a, "extracted_content")
			out = append(out, archive.Attachment{
				FileName:         str(a, "file_name"),
				Type:             str(a, "file_type"),
				Available:        extracted != "",
				ExtractedContent: extracted,
			})
		}
	}
	if raw, ok := asSlice(msg["files"]); ok {
		for _, v := range raw {
			f, ok := asMap(v)
			if !ok {
				continue
			}
			out = append(out, archive.Attachment{
				FileName:  str(f, "file_name"),
				Type:      "file",
				Available: false,
			})
		}
	}
	return out
}

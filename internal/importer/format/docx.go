package format

import (
	"fmt"

	"github.com/castellan/chatvault/internal/domain/archive"
)

// DOCX handles transcripts pre-extracted from Word documents by the
// upload surface: {"title": ..., "paragraphs": [...]}. The extraction
// itself (zip/XML handling) happens outside the core; this format only
// normalizes the result. Licensed.
type DOCX struct{}

func (DOCX) Name() string          { return archive.SourceDOCX }
func (DOCX) RequiresLicense() bool { return true }

func (DOCX) Detect(payload interface{}) ([]interface{}, bool) {
	convs := sliceOfMaps(payload)
	if len(convs) == 0 {
		return nil, false
	}
	for _, c := range convs {
		if _, ok := asSlice(c["paragraphs"]); !ok {
			return nil, false
		}
	}
	return toRawSlice(convs), true
}

func (DOCX) Extract(conv interface{}) (*Conversation, error) {
	c, ok := asMap(conv)
	if !ok {
		return nil, fmt.Errorf("docx: conversation is not an object")
	}
	paragraphs, ok := asSlice(c["paragraphs"])
	if !ok {
		return nil, fmt.Errorf("docx: missing paragraphs")
	}

	out := &Conversation{
		Title:           str(c, "title"),
		SourceID:        str(c, "source_id"),
		CreatedAt:       ParseTimestamp(c["created_at"]),
		SourceUpdatedAt: ParseTimestamp(c["updated_at"]),
	}

	for _, raw := range paragraphs {
		text, ok := raw.(string)
		if !ok || text == "" {
			continue
		}
		out.Messages = append(out.Messages, Message{
			Role:     archive.RoleUser,
			Content:  text,
			Metadata: map[string]interface{}{"source": archive.SourceDOCX},
		})
	}
	return out, nil
}

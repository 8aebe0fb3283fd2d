// Package format holds the pluggable detector/extractor pairs the
// importer dispatches on. Detection is shape-based only: a format claims
// a payload by the schema signals it carries (mapping, chat_messages,
// chat.history.messages, titleUrl), never by content heuristics.
package format

import (
	"time"

	"github.com/castellan/chatvault/internal/domain/archive"
)

// Conversation is the normalized output of an extractor.
type Conversation struct {
	Title           string
	SourceID        string
	SourceUpdatedAt *time.Time
	CreatedAt       *time.Time
	Messages        []Message
}

// Message slice order is file order; the importer assigns persisted
// sequence numbers from it, so extractors must append in source order.
type Message struct {
	Role        string
	Content     string
	CreatedAt   *time.Time
	Metadata    map[string]interface{}
	Attachments []archive.Attachment
}

type Format interface {
	Name() string
	// Detect reports whether the parsed payload belongs to this format
	// and, if so, splits it into per-conversation raw payloads.
	Detect(payload interface{}) ([]interface{}, bool)
	Extract(conv interface{}) (*Conversation, error)
	RequiresLicense() bool
}

// Registry is data: a fixed, ordered set of formats populated at startup.
// Adding a format means appending a triple here; the rest of the system
// is format-agnostic.
type Registry struct {
	formats []Format
}

func NewRegistry(formats ...Format) *Registry {
	return &Registry{formats: formats}
}

func DefaultRegistry() *Registry {
	return NewRegistry(
		ChatGPT{},
		Claude{},
		OpenWebUI{},
		YouTube{},
		DOCX{},
	)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formats))
	for _, f := range r.formats {
		names = append(names, f.Name())
	}
	return names
}

func (r *Registry) Get(name string) (Format, bool) {
	for _, f := range r.formats {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// Detect returns the first format claiming the payload, with its
// conversation list, or ("unknown", nil, false).
func (r *Registry) Detect(payload interface{}) (Format, []interface{}, bool) {
	for _, f := range r.formats {
		if convs, ok := f.Detect(payload); ok {
			return f, convs, true
		}
	}
	return nil, nil, false
}

// --- shared payload helpers ---

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func str(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// sliceOfMaps accepts either a list payload or a single object, so a
// one-conversation export imports the same as a full archive.
func sliceOfMaps(payload interface{}) []map[string]interface{} {
	var raw []interface{}
	if s, ok := asSlice(payload); ok {
		raw = s
	} else if m, ok := asMap(payload); ok {
		raw = []interface{}{m}
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, v := range raw {
		if m, ok := asMap(v); ok {
			out = append(out, m)
		}
	}
	return out
}

func toRawSlice(ms []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(ms))
	for i, m := range ms {
		out[i] = m
	}
	return out
}

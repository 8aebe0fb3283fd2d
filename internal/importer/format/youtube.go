package format

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/castellan/chatvault/internal/domain/archive"
)

// WatchHistorySourceID keys the single synthetic conversation every
// YouTube watch-history import folds into.
const WatchHistorySourceID = "youtube_watch_history"

// YouTube handles the watch-history.json of a Google Takeout export: a
// flat list of watch events identified by their titleUrl field. The whole
// file becomes one conversation; each event is one message.
type YouTube struct{}

func (YouTube) Name() string          { return archive.SourceYouTube }
func (YouTube) RequiresLicense() bool { return false }

func (YouTube) Detect(payload interface{}) ([]interface{}, bool) {
	events := sliceOfMaps(payload)
	if len(events) == 0 {
		return nil, false
	}
	hasURL := false
	for _, e := range events {
		if _, present := e["titleUrl"]; present {
			hasURL = true
			break
		}
	}
	if !hasURL {
		return nil, false
	}
	// One synthetic conversation wrapping the event list.
	return []interface{}{map[string]interface{}{"events": toRawSlice(events)}}, true
}

func (YouTube) Extract(conv interface{}) (*Conversation, error) {
	c, ok := asMap(conv)
	if !ok {
		return nil, fmt.Errorf("youtube: payload is not an object")
	}
	events, ok := asSlice(c["events"])
	if !ok {
		return nil, fmt.Errorf("youtube: missing events")
	}

	out := &Conversation{
		Title:    "YouTube Watch History",
		SourceID: WatchHistorySourceID,
	}

	for _, raw := range events {
		e, ok := asMap(raw)
		if !ok {
			continue
		}
		title := strings.TrimPrefix(str(e, "title"), "Watched ")
		if title == "" {
			continue
		}
		watchedAt := ParseTimestamp(e["time"])
		meta := map[string]interface{}{
			"source": archive.SourceYouTube,
			"url":    str(e, "titleUrl"),
		}
		if vid := videoIDFromURL(str(e, "titleUrl")); vid != "" {
			meta[archive.MetaVideoID] = vid
		}
		if channel := firstSubtitleName(e); channel != "" {
			meta["channel"] = channel
		}
		out.Messages = append(out.Messages, Message{
			Role:      archive.RoleUser,
			Content:   "Watched: " + title,
			CreatedAt: watchedAt,
			Metadata:  meta,
		})
		if out.SourceUpdatedAt == nil || (watchedAt != nil && watchedAt.After(*out.SourceUpdatedAt)) {
			out.SourceUpdatedAt = watchedAt
		}
	}
	return out, nil
}

func videoIDFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	// youtu.be short links carry the id as the path.
	if strings.Contains(u.Host, "youtu.be") {
		return strings.Trim(u.Path, "/")
	}
	return ""
}

func firstSubtitleName(e map[string]interface{}) string {
	subs, ok := asSlice(e["subtitles"])
	if !ok || len(subs) == 0 {
		return ""
	}
	if s, ok := asMap(subs[0]); ok {
		return str(s, "name")
	}
	return ""
}

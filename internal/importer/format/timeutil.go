package format

import (
	"time"
)

// Epoch scale inference for numeric source timestamps: values above 10^12
// are nanoseconds, above 10^11 milliseconds, anything else seconds
// (fractional seconds allowed). Unparseable values are dropped per-field
// rather than failing the conversation.
func fromEpoch(v float64) time.Time {
	switch {
	case v > 1e12:
		return time.Unix(0, int64(v)).UTC()
	case v > 1e11:
		return time.UnixMilli(int64(v)).UTC()
	default:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp normalizes the timestamp shapes the export formats use:
// numeric epochs (see fromEpoch) and ISO-8601 strings. All results are
// UTC. Returns nil when the value cannot be interpreted.
func ParseTimestamp(v interface{}) *time.Time {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return nil
		}
		ts := fromEpoch(t)
		return &ts
	case int64:
		if t <= 0 {
			return nil
		}
		ts := fromEpoch(float64(t))
		return &ts
	case int:
		return ParseTimestamp(int64(t))
	case string:
		if t == "" {
			return nil
		}
		for _, layout := range isoLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				ts := parsed.UTC()
				return &ts
			}
		}
	}
	return nil
}

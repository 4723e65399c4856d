package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Row is one record as decoded from the backend table API. All mapping from
// wire shapes to domain entities happens here, in one place, so the rest of
// the client never deals with raw keys or malformed values.
type Row map[string]any

func (r Row) str(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// num coerces a numeric field leniently: null, absent, or non-numeric
// values become 0, and negative or non-finite values are clamped to 0.
// Stored data is not trusted to be well formed.
func (r Row) num(key string) float64 {
	var f float64
	switch v := r[key].(type) {
	case float64:
		f = v
	case json.Number:
		f, _ = v.Float64()
	case string:
		f, _ = strconv.ParseFloat(v, 64)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// intPtr coerces an optional integer field, returning nil when the stored
// value is absent or malformed.
func (r Row) intPtr(key string) *int {
	switch v := r[key].(type) {
	case float64:
		n := int(v)
		return &n
	case json.Number:
		if i, err := v.Int64(); err == nil {
			n := int(i)
			return &n
		}
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return &i
		}
	}
	return nil
}

func (r Row) timeField(key string) time.Time {
	s := r.str(key)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

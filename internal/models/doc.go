package models

import (
	"encoding/json"
	"time"
)

// Document field helpers. The remote store hands back map[string]interface{}
// payloads whose numeric fields may arrive as int, int64, float64 or
// json.Number depending on the backend, so every read goes through these.

func docString(doc map[string]interface{}, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func docBool(doc map[string]interface{}, key string) bool {
	if v, ok := doc[key].(bool); ok {
		return v
	}
	return false
}

func docInt(doc map[string]interface{}, key string) int {
	switch v := doc[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func docStrings(doc map[string]interface{}, key string) []string {
	switch v := doc[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Timestamps travel as epoch milliseconds so they survive JSON round-trips
// through any backend and still order correctly.

func docTime(doc map[string]interface{}, key string) time.Time {
	switch v := doc[key].(type) {
	case time.Time:
		return v
	case int64:
		return time.UnixMilli(v).UTC()
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case json.Number:
		n, _ := v.Int64()
		return time.UnixMilli(n).UTC()
	}
	return time.Time{}
}

// TimeToMillis converts a timestamp to its document representation.
func TimeToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

package compaction

import "encoding/json"

// jsonCompact renders v as compact JSON for preview/log purposes; it never
// fails the caller; on marshal error it falls back to a fixed stand-in.
func jsonCompact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

package vector

import (
	"github.com/google/uuid"
)

// TextKey is the metadata key that always carries the chunk text.
const TextKey = "text"

// recordNamespace scopes content-addressed record ids.
var recordNamespace = uuid.MustParse("6f0c9a38-2c2e-4f0e-9a4f-7b1d2e8c5a10")

// Record is one embedded chunk ready for the store.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// RecordID is a deterministic fingerprint of text. Re-ingesting the same
// chunk overwrites the same record; any edit yields a new id.
func RecordID(text string) string {
	return uuid.NewSHA1(recordNamespace, []byte(text)).String()
}

// SanitizeMetadata keeps values the store can index: strings, booleans,
// numbers and string lists. Everything else is dropped. text is always
// written under TextKey, replacing any caller value.
func SanitizeMetadata(meta map[string]any, text string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		if k == "" {
			continue
		}
		if clean, ok := sanitizeValue(v); ok {
			out[k] = clean
		}
	}
	out[TextKey] = text
	return out
}

func sanitizeValue(v any) (any, bool) {
	switch val := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val, true
	case []string:
		return append([]string(nil), val...), true
	case []any:
		list := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			list = append(list, s)
		}
		return list, true
	default:
		return nil, false
	}
}

package storage

import (
	"fmt"
	"strings"
	"time"
)

// keySep separates components of a composite key. Unit separator cannot
// occur in normalized cell values (control characters are stripped upstream).
const keySep = "\x1f"

// NormalizeKey converts a key value to a canonical string form, suitable for
// in-memory key sets (e.g. "com.whatsapp" or "8429529").
//
// Backends must not assume a particular underlying type for keys; this helper
// keeps key sets consistent across backends and with the processor's in-file
// dedupe.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// CompositeKey joins normalized key components for multi-column unique keys
// (ContactDetails dedupes on contact_id+type+value).
func CompositeKey(values ...any) string {
	if len(values) == 1 {
		return NormalizeKey(values[0])
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = NormalizeKey(v)
	}
	return strings.Join(parts, keySep)
}

package arcadeapi

import (
	"encoding/json"
	"strings"
)

// NormalizeOnline interprets the backend's loosely-typed online flag. Observed
// encodings across backend revisions: JSON booleans, numbers (non-zero means
// online), and strings ("true"/"1"/"yes", case-insensitive). Anything else,
// including absent or malformed values, is treated as offline.
func NormalizeOnline(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

package scoring

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"quizhub/internal/domain"
)

// The helpers below decode a submitted payload leniently. A payload of the wrong
// shape reports ok=false and is graded as absent.

// absent reports an empty or JSON null payload.
func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func asString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if absent(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil && len(list) == 1 {
		return asString(list[0])
	}
	return "", false
}

func asStrings(raw json.RawMessage) ([]string, bool) {
	raw = bytes.TrimSpace(raw)
	if absent(raw) {
		return nil, false
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		if s, ok := asString(raw); ok {
			return []string{s}, true
		}
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, _ := asString(item)
		out = append(out, s)
	}
	return out, true
}

func asBool(raw json.RawMessage) (bool, bool) {
	raw = bytes.TrimSpace(raw)
	if absent(raw) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	s, ok := asString(raw)
	if !ok {
		return false, false
	}
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func asNumber(raw json.RawMessage) (float64, bool) {
	s, ok := asString(raw)
	if !ok || s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// dropdownSelections accepts an object keyed by field id, a list ordered like the
// fields, or a bare string for a single select.
func dropdownSelections(fields []domain.DropdownField, raw json.RawMessage) map[string]string {
	out := make(map[string]string, len(fields))
	raw = bytes.TrimSpace(raw)
	if absent(raw) {
		return out
	}

	var byID map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byID); err == nil {
		for _, f := range fields {
			if v, ok := byID[f.ID]; ok {
				out[f.ID], _ = asString(v)
			}
		}
		return out
	}

	values, ok := asStrings(raw)
	if !ok {
		return out
	}
	for i, f := range fields {
		if i < len(values) {
			out[f.ID] = values[i]
		}
	}
	return out
}

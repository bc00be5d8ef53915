package bridge

import "strings"

// knownEfforts is the recognized reasoning-effort suffix set (C2).
var knownEfforts = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
	"xhigh":  true,
}

// ParseModel splits a "<model>-<effort>" suffix where effort is one of the
// known reasoning-effort values. If the last hyphen is absent, at position
// 0, or the tail isn't a known effort, the model is returned unchanged with
// an empty effort string.
func ParseModel(s string) (model, effort string) {
	idx := strings.LastIndex(s, "-")
	if idx <= 0 {
		return s, ""
	}

	suffix := strings.ToLower(s[idx+1:])
	if !knownEfforts[suffix] {
		return s, ""
	}

	return s[:idx], suffix
}

// ResolveEffort applies the fallback order from §4.3 step 2: the
// model-suffix effort wins; otherwise a thinking-budget fallback; otherwise
// "medium".
func ResolveEffort(fromName string, thinking JSON) string {
	if fromName != "" {
		return fromName
	}

	if thinking != nil {
		if t, _ := thinking["type"].(string); t == "enabled" {
			if _, present := thinking["budget_tokens"]; present {
				if intField(thinking, "budget_tokens") <= 20000 {
					return "medium"
				}

				return "high"
			}
		}
	}

	return "medium"
}

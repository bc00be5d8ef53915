// Package bridge implements the core Messages-dialect <-> Responses-dialect
// translation: request adaptation, model-name parsing, request translation,
// the streaming SSE converter, the non-stream collector, and response
// translation. Nothing in this package depends on net/http; it is wired by
// internal/handlers.
package bridge

import "strings"

// JSON is the dynamic object shape used throughout the bridge, matching the
// way the teacher's provider transforms move request/response bodies around
// as map[string]interface{} rather than strict structs (the two dialects
// don't share a schema, and upstream payloads are only ever partially
// consumed).
type JSON = map[string]any

// Usage is the Messages-dialect usage accounting shared by the streaming
// converter (C4) and the non-stream response translator (C6).
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// ComputeUsage derives Usage from a Responses-dialect usage object. Net input
// tokens equal input_tokens - cached_tokens (never negative); cache-creation
// is always 0 because upstream does not distinguish it.
func ComputeUsage(raw JSON) Usage {
	input := intField(raw, "input_tokens")
	output := intField(raw, "output_tokens")

	cached := 0
	if details, ok := raw["input_tokens_details"].(JSON); ok {
		cached = intField(details, "cached_tokens")
	}

	net := input - cached
	if net < 0 {
		net = 0
	}

	return Usage{
		InputTokens:              net,
		OutputTokens:             output,
		CacheReadInputTokens:     cached,
		CacheCreationInputTokens: 0,
	}
}

func intField(m JSON, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}

	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

// DeriveStopReason implements the shared stop-reason table from §4.4/§4.6:
// default end_turn, max_tokens on an incomplete max-output-tokens status,
// and tool_use winning over both when any output item was a function call.
func DeriveStopReason(status, incompleteReason string, hasFunctionCall bool) string {
	reason := "end_turn"

	if status == "incomplete" && incompleteReason == "max_output_tokens" {
		reason = "max_tokens"
	}

	if hasFunctionCall {
		reason = "tool_use"
	}

	return reason
}

// isBlank reports whether s is empty once whitespace is trimmed.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

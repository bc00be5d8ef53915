package bridge

import (
	"encoding/json"
	"strings"
)

// excludedSystemPrefixes are the literal prefixes that exclude a system text
// part from contributing to instruction text (§3).
var excludedSystemPrefixes = []string{
	"x-anthropic-billing-header",
	"<system-reminder>",
}

// extractInstructions implements the system-array filter from §3: a string
// system is used verbatim; an array contributes only text parts whose text
// does not start with an excluded literal, joined with a blank line.
func extractInstructions(system any) string {
	switch v := system.(type) {
	case string:
		return v

	case []any:
		var parts []string

		for _, item := range v {
			block, ok := item.(JSON)
			if !ok {
				continue
			}

			if kind, _ := block["type"].(string); kind != "text" {
				continue
			}

			text, _ := block["text"].(string)
			if hasExcludedPrefix(text) {
				continue
			}

			parts = append(parts, text)
		}

		return strings.Join(parts, "\n\n")

	default:
		return ""
	}
}

func hasExcludedPrefix(text string) bool {
	for _, prefix := range excludedSystemPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}

	return false
}

// linearizeMessages implements §4.3 step 4: Messages turns -> Responses
// input items, minting/consulting the tool ID map along the way.
func linearizeMessages(messages []any, toolIDMap *ToolIDMap) []JSON {
	input := make([]JSON, 0, len(messages))

	for _, m := range messages {
		turn, ok := m.(JSON)
		if !ok {
			continue
		}

		role, _ := turn["role"].(string)

		switch role {
		case "user":
			input = append(input, linearizeUserTurn(turn["content"], toolIDMap)...)
		case "assistant":
			input = append(input, linearizeAssistantTurn(turn["content"], toolIDMap)...)
		}
	}

	return input
}

func linearizeUserTurn(content any, toolIDMap *ToolIDMap) []JSON {
	if text, ok := content.(string); ok {
		return []JSON{{"role": "user", "content": text}}
	}

	blocks, ok := content.([]any)
	if !ok {
		return nil
	}

	var out []JSON

	for _, b := range blocks {
		block, ok := b.(JSON)
		if !ok {
			continue
		}

		switch kind, _ := block["type"].(string); kind {
		case "text":
			text, _ := block["text"].(string)
			out = append(out, JSON{"role": "user", "content": text})

		case "tool_result":
			toolUseID, _ := block["tool_use_id"].(string)

			callID := toolUseID
			if mapped, ok := toolIDMap.Forward(toolUseID); ok {
				callID = mapped
			}

			out = append(out, JSON{
				"type":    "function_call_output",
				"call_id": callID,
				"output":  toolResultText(block["content"]),
			})
		}
	}

	return out
}

// toolResultText implements the output-text derivation from §4.3 step 4:
// the string content verbatim, or the newline-joined concatenation of text
// sub-blocks, or empty.
func toolResultText(content any) string {
	switch v := content.(type) {
	case string:
		return v

	case []any:
		var parts []string

		for _, item := range v {
			block, ok := item.(JSON)
			if !ok {
				continue
			}

			if kind, _ := block["type"].(string); kind == "text" {
				if text, ok := block["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}

		return strings.Join(parts, "\n")

	default:
		return ""
	}
}

func linearizeAssistantTurn(content any, toolIDMap *ToolIDMap) []JSON {
	if text, ok := content.(string); ok {
		return []JSON{assistantTextItem(text)}
	}

	blocks, ok := content.([]any)
	if !ok {
		return nil
	}

	var out []JSON

	for _, b := range blocks {
		block, ok := b.(JSON)
		if !ok {
			continue
		}

		switch kind, _ := block["type"].(string); kind {
		case "thinking":
			// thinking blocks are skipped when linearizing assistant history.
			continue

		case "text":
			text, _ := block["text"].(string)
			out = append(out, assistantTextItem(text))

		case "tool_use":
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)

			callID := MintCallID()
			toolIDMap.Put(id, callID)

			out = append(out, JSON{
				"type":      "function_call",
				"call_id":   callID,
				"name":      name,
				"arguments": serializeToolInput(block["input"]),
			})
		}
	}

	return out
}

func assistantTextItem(text string) JSON {
	return JSON{
		"type": "message",
		"role": "assistant",
		"content": []JSON{
			{"type": "output_text", "text": text},
		},
	}
}

// serializeToolInput passes a string input through verbatim; otherwise it
// JSON-serializes the structured value.
func serializeToolInput(input any) string {
	if s, ok := input.(string); ok {
		return s
	}

	b, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}

	return string(b)
}

// convertTools implements §4.3 step 5.
func convertTools(tools []any) []JSON {
	if len(tools) == 0 {
		return nil
	}

	out := make([]JSON, 0, len(tools))

	for _, t := range tools {
		tool, ok := t.(JSON)
		if !ok {
			continue
		}

		name, _ := tool["name"].(string)
		description, _ := tool["description"].(string)

		schema := tool["input_schema"]
		if schema == nil {
			schema = JSON{}
		}

		out = append(out, JSON{
			"type":        "function",
			"name":        name,
			"description": description,
			"parameters":  schema,
		})
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

// convertToolChoice implements §4.3 step 6.
func convertToolChoice(tc any) any {
	switch v := tc.(type) {
	case string:
		switch v {
		case "auto", "none":
			return v
		case "any":
			return "required"
		}

		return nil

	case JSON:
		switch kind, _ := v["type"].(string); kind {
		case "auto":
			return "auto"
		case "any":
			return "required"
		case "tool":
			name, _ := v["name"].(string)
			return JSON{"type": "function", "name": name}
		}

		return nil

	default:
		return nil
	}
}

// TranslateRequest implements C3: Messages-dialect body -> Responses-dialect
// body, returning the translated body, the tool ID map built along the way,
// and the actual (suffix-stripped) model name.
func TranslateRequest(body JSON, requestedModel string) (JSON, *ToolIDMap, string) {
	actualModel, effortFromName := ParseModel(requestedModel)

	thinking, _ := body["thinking"].(JSON)
	effort := ResolveEffort(effortFromName, thinking)

	instructions := extractInstructions(body["system"])

	toolIDMap := NewToolIDMap()

	messages, _ := body["messages"].([]any)
	input := linearizeMessages(messages, toolIDMap)

	out := JSON{
		"model": actualModel,
		"input": input,
	}

	if instructions != "" {
		out["instructions"] = instructions
	}

	if maxTokens, ok := body["max_tokens"]; ok {
		out["max_output_tokens"] = maxTokens
	}

	if stream, ok := body["stream"]; ok {
		out["stream"] = stream
	}

	if tools, ok := body["tools"].([]any); ok {
		if converted := convertTools(tools); converted != nil {
			out["tools"] = converted
		}
	}

	if tc, ok := body["tool_choice"]; ok {
		if converted := convertToolChoice(tc); converted != nil {
			out["tool_choice"] = converted
		}
	}

	out["reasoning"] = JSON{"effort": effort, "summary": "auto"}

	return out, toolIDMap, actualModel
}

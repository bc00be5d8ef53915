package bridge

import "encoding/json"

// TranslateResponse implements C6: a terminal `response.completed` payload's
// `response` object, plus the request's tool ID map, into a single
// Messages-dialect JSON body. model is the fixed alias reported to the
// client (see the Alias model glossary entry).
func TranslateResponse(response JSON, toolIDMap *ToolIDMap, alias string) JSON {
	var content []JSON

	hasFunctionCall := false

	if output, ok := response["output"].([]any); ok {
		for _, o := range output {
			item, ok := o.(JSON)
			if !ok {
				continue
			}

			switch kind, _ := item["type"].(string); kind {
			case "reasoning":
				if text := reasoningSummaryText(item); text != "" {
					content = append(content, JSON{"type": "thinking", "thinking": text})
				}

			case "message":
				for _, block := range outputTextBlocks(item) {
					content = append(content, block)
				}

			case "function_call":
				hasFunctionCall = true
				content = append(content, functionCallBlock(item, toolIDMap))
			}
		}
	}

	if content == nil {
		content = []JSON{}
	}

	status, _ := response["status"].(string)

	incompleteReason := ""
	if details, ok := response["incomplete_details"].(JSON); ok {
		incompleteReason, _ = details["reason"].(string)
	}

	stopReason := DeriveStopReason(status, incompleteReason, hasFunctionCall)

	usageRaw, _ := response["usage"].(JSON)
	usage := ComputeUsage(usageRaw)

	return JSON{
		"id":            "msg_" + randomHex(16),
		"type":          "message",
		"role":          "assistant",
		"model":         alias,
		"content":       content,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage": JSON{
			"input_tokens":                usage.InputTokens,
			"output_tokens":               usage.OutputTokens,
			"cache_creation_input_tokens": usage.CacheCreationInputTokens,
			"cache_read_input_tokens":     usage.CacheReadInputTokens,
		},
	}
}

func reasoningSummaryText(item JSON) string {
	summary, ok := item["summary"].([]any)
	if !ok {
		return ""
	}

	text := ""

	for _, s := range summary {
		part, ok := s.(JSON)
		if !ok {
			continue
		}

		if t, ok := part["text"].(string); ok {
			text += t
		}
	}

	return text
}

func outputTextBlocks(item JSON) []JSON {
	parts, ok := item["content"].([]any)
	if !ok {
		return nil
	}

	var blocks []JSON

	for _, p := range parts {
		part, ok := p.(JSON)
		if !ok {
			continue
		}

		if kind, _ := part["type"].(string); kind != "output_text" {
			continue
		}

		text, _ := part["text"].(string)
		blocks = append(blocks, JSON{"type": "text", "text": text})
	}

	return blocks
}

func functionCallBlock(item JSON, toolIDMap *ToolIDMap) JSON {
	callID, _ := item["call_id"].(string)
	name, _ := item["name"].(string)
	arguments, _ := item["arguments"].(string)

	id, ok := toolIDMap.Reverse(callID)
	if !ok {
		id = MintToolUseID()
	}

	var input JSON
	if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		input = JSON{"raw": arguments}
	}

	return JSON{
		"type":  "tool_use",
		"id":    id,
		"name":  name,
		"input": input,
	}
}

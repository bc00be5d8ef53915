package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTranslateResponse_ScenarioE mirrors §8 Scenario E: the same upstream
// response as Scenario D, translated for a non-streaming client.
func TestTranslateResponse_ScenarioE(t *testing.T) {
	t.Parallel()

	response := JSON{
		"status": "completed",
		"usage": JSON{
			"input_tokens":  float64(100),
			"output_tokens": float64(20),
			"input_tokens_details": JSON{
				"cached_tokens": float64(40),
			},
		},
		"output": []any{
			JSON{"type": "function_call", "call_id": "call_A", "name": "run", "arguments": `{"x":1}`},
		},
	}

	out := TranslateResponse(response, NewToolIDMap(), "claude-bridge-alias")

	assert.Equal(t, "claude-bridge-alias", out["model"])
	assert.Equal(t, "tool_use", out["stop_reason"])

	content, ok := out["content"].([]JSON)
	require.True(t, ok)
	require.Len(t, content, 1)
	assert.Equal(t, "tool_use", content[0]["type"])
	assert.Equal(t, "run", content[0]["name"])

	id, _ := content[0]["id"].(string)
	assert.True(t, len(id) >= 6 && id[:6] == "toolu_")

	input, ok := content[0]["input"].(JSON)
	require.True(t, ok)
	assert.Equal(t, float64(1), input["x"])

	usage := out["usage"].(JSON)
	assert.Equal(t, 60, usage["input_tokens"])
	assert.Equal(t, 20, usage["output_tokens"])
	assert.Equal(t, 40, usage["cache_read_input_tokens"])
}

func TestTranslateResponse_ToolUseIDReverseMapped(t *testing.T) {
	t.Parallel()

	toolIDMap := NewToolIDMap()
	toolIDMap.Put("toolu_original", "call_A")

	response := JSON{
		"status": "completed",
		"output": []any{
			JSON{"type": "function_call", "call_id": "call_A", "name": "run", "arguments": "{}"},
		},
	}

	out := TranslateResponse(response, toolIDMap, "alias")
	content := out["content"].([]JSON)
	assert.Equal(t, "toolu_original", content[0]["id"])
}

func TestTranslateResponse_ArgumentsParseFailureFallsBack(t *testing.T) {
	t.Parallel()

	response := JSON{
		"status": "completed",
		"output": []any{
			JSON{"type": "function_call", "call_id": "call_A", "name": "run", "arguments": "not json"},
		},
	}

	out := TranslateResponse(response, NewToolIDMap(), "alias")
	content := out["content"].([]JSON)
	input := content[0]["input"].(JSON)
	assert.Equal(t, "not json", input["raw"])
}

func TestTranslateResponse_TextAndThinking(t *testing.T) {
	t.Parallel()

	response := JSON{
		"status": "completed",
		"output": []any{
			JSON{"type": "reasoning", "summary": []any{JSON{"text": "thinking hard"}}},
			JSON{"type": "message", "content": []any{JSON{"type": "output_text", "text": "hello"}}},
		},
	}

	out := TranslateResponse(response, NewToolIDMap(), "alias")
	content := out["content"].([]JSON)
	require.Len(t, content, 2)
	assert.Equal(t, "thinking", content[0]["type"])
	assert.Equal(t, "thinking hard", content[0]["thinking"])
	assert.Equal(t, "text", content[1]["type"])
	assert.Equal(t, "hello", content[1]["text"])
	assert.Equal(t, "end_turn", out["stop_reason"])
}

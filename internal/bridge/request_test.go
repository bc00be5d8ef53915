package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractInstructions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain string", extractInstructions("plain string"))
	assert.Equal(t, "", extractInstructions(nil))

	system := []any{
		JSON{"type": "text", "text": "first"},
		JSON{"type": "text", "text": "x-anthropic-billing-header-ignored"},
		JSON{"type": "text", "text": "<system-reminder>ignored too"},
		JSON{"type": "text", "text": "second"},
	}
	assert.Equal(t, "first\n\nsecond", extractInstructions(system))
}

func TestConvertToolChoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"auto string", "auto", "auto"},
		{"none string", "none", "none"},
		{"any string becomes required", "any", "required"},
		{"auto object", JSON{"type": "auto"}, "auto"},
		{"any object becomes required", JSON{"type": "any"}, "required"},
		{"tool object", JSON{"type": "tool", "name": "X"}, JSON{"type": "function", "name": "X"}},
		{"unrecognized", JSON{"type": "bogus"}, nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, convertToolChoice(tt.in))
		})
	}
}

func TestConvertTools(t *testing.T) {
	t.Parallel()

	assert.Nil(t, convertTools(nil))

	tools := []any{
		JSON{"name": "run", "description": "runs it", "input_schema": JSON{"type": "object"}},
	}

	out := convertTools(tools)
	require.Len(t, out, 1)
	assert.Equal(t, "function", out[0]["type"])
	assert.Equal(t, "run", out[0]["name"])
	assert.Equal(t, "runs it", out[0]["description"])
}

// TestTranslateRequest_ToolUseRoundTrip mirrors the round-trip property from
// §8: an assistant tool_use with id I followed by a user tool_result with
// tool_use_id=I must produce a matching function_call / function_call_output
// call_id pair.
func TestTranslateRequest_ToolUseRoundTrip(t *testing.T) {
	t.Parallel()

	body := JSON{
		"model": "gpt-5.2-medium",
		"messages": []any{
			JSON{
				"role": "assistant",
				"content": []any{
					JSON{"type": "tool_use", "id": "toolu_abc", "name": "run", "input": JSON{"x": float64(1)}},
				},
			},
			JSON{
				"role": "user",
				"content": []any{
					JSON{"type": "tool_result", "tool_use_id": "toolu_abc", "content": "done"},
				},
			},
		},
	}

	out, toolIDMap, actualModel := TranslateRequest(body, "gpt-5.2-medium")
	assert.Equal(t, "gpt-5.2", actualModel)

	input, ok := out["input"].([]JSON)
	require.True(t, ok)
	require.Len(t, input, 2)

	assert.Equal(t, "function_call", input[0]["type"])
	callID, _ := input[0]["call_id"].(string)
	assert.NotEmpty(t, callID)

	assert.Equal(t, "function_call_output", input[1]["type"])
	assert.Equal(t, callID, input[1]["call_id"])
	assert.Equal(t, "done", input[1]["output"])

	mapped, ok := toolIDMap.Forward("toolu_abc")
	require.True(t, ok)
	assert.Equal(t, callID, mapped)
}

func TestTranslateRequest_EmptySystemOmitsInstructions(t *testing.T) {
	t.Parallel()

	out, _, _ := TranslateRequest(JSON{"model": "m", "messages": []any{}}, "m")
	_, present := out["instructions"]
	assert.False(t, present)
}

func TestTranslateRequest_EffortFromThinkingBudget(t *testing.T) {
	t.Parallel()

	out, _, _ := TranslateRequest(JSON{
		"model":    "m",
		"messages": []any{},
		"thinking": JSON{"type": "enabled", "budget_tokens": float64(20001)},
	}, "m")

	reasoning, ok := out["reasoning"].(JSON)
	require.True(t, ok)
	assert.Equal(t, "high", reasoning["effort"])
}

package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		wantModel  string
		wantEffort string
	}{
		{"xhigh suffix", "gpt-5.2-codex-xhigh", "gpt-5.2-codex", "xhigh"},
		{"no suffix", "codex-mini-latest", "codex-mini-latest", ""},
		{"medium suffix", "gpt-5.2-medium", "gpt-5.2", "medium"},
		{"no hyphen", "solo", "solo", ""},
		{"hyphen at position zero", "-high", "-high", ""},
		{"unknown suffix", "gpt-5.2-turbo", "gpt-5.2-turbo", ""},
		{"uppercase known suffix", "gpt-5.2-HIGH", "gpt-5.2", "high"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			model, effort := ParseModel(tt.input)
			assert.Equal(t, tt.wantModel, model)
			assert.Equal(t, tt.wantEffort, effort)
		})
	}
}

func TestParseModel_RoundTrip(t *testing.T) {
	t.Parallel()

	model, effort := ParseModel("gpt-5.2-codex-xhigh")
	require := assert.New(t)
	require.Equal("gpt-5.2-codex", model)
	require.Equal("xhigh", effort)
	require.Equal("gpt-5.2-codex-xhigh", model+"-"+effort)
}

func TestResolveEffort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fromName string
		thinking JSON
		want     string
	}{
		{"explicit wins", "high", JSON{"type": "enabled", "budget_tokens": float64(99999)}, "high"},
		{"budget at boundary is medium", "", JSON{"type": "enabled", "budget_tokens": float64(20000)}, "medium"},
		{"budget above boundary is high", "", JSON{"type": "enabled", "budget_tokens": float64(20001)}, "high"},
		{"no thinking falls back to medium", "", nil, "medium"},
		{"thinking disabled falls back to medium", "", JSON{"type": "disabled"}, "medium"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ResolveEffort(tt.fromName, tt.thinking))
		})
	}
}

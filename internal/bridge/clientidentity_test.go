package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCLIClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ua   string
		want bool
	}{
		{"codex_cli_rs/1.2.3", true},
		{"codex_vscode/0.9", true},
		{"CODEX_EXEC/2.0.0", true},
		{"codex_exec/1", true},
		{"Mozilla/5.0", false},
		{"", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.ua, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsCLIClient(tt.ua))
		})
	}
}

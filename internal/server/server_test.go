package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/msgbridge/internal/config"
)

// upstreamTextSSE is a plain text-completion Responses stream: no tool
// calls, so the bridge is exercised end to end through the real
// setupRoutes() wiring (auth + logging middleware, scheduler, metrics sink).
const upstreamTextSSE = `event: response.created
data: {"type":"response.created"}

event: response.content_part.added
data: {"type":"response.content_part.added","part":{"type":"output_text"}}

event: response.output_text.delta
data: {"type":"response.output_text.delta","delta":"hello"}

event: response.output_text.delta
data: {"type":"response.output_text.delta","delta":" world"}

event: response.content_part.done
data: {"type":"response.content_part.done"}

event: response.completed
data: {"type":"response.completed","response":{"status":"completed","output":[{"type":"message","content":[{"type":"output_text","text":"hello world"}]}],"usage":{"input_tokens":10,"output_tokens":2}}}

`

func newIntegrationServer(t *testing.T, upstreamURL, apiKey string) *Server {
	t.Helper()

	cfgMgr := config.NewManager(t.TempDir())
	require.NoError(t, cfgMgr.Save(&config.Config{
		Host:   "127.0.0.1",
		Port:   0,
		Alias:  "claude-bridge",
		APIKey: apiKey,
		Upstream: config.UpstreamConfig{
			BaseURL: upstreamURL,
		},
		Adapter: config.AdapterConfig{
			Enabled: true,
			Instructions: config.InstructionsConfig{
				Mode:      "overwrite",
				ApplyWhen: "non_codex",
			},
			StripFields: config.StripFieldsConfig{Enabled: true},
		},
		Accounts: []config.AccountConfig{{ID: "default", Type: "api_key"}},
	}))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return New(cfgMgr, logger)
}

func TestServerRoutes_ProxiesMessagesRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, upstreamTextSSE)
	}))
	defer upstream.Close()

	srv := newIntegrationServer(t, upstream.URL, "")
	mux := srv.setupRoutes()

	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-5.2-high",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
		"stream":   false,
	})

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, "claude-bridge", resp["model"])
	assert.Equal(t, "end_turn", resp["stop_reason"])

	content := resp["content"].([]any)
	require.Len(t, content, 1)

	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "hello world", block["text"])
}

func TestServerRoutes_HealthCheckNeedsNoAuth(t *testing.T) {
	srv := newIntegrationServer(t, "http://unused.invalid", "secret-key")
	mux := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServerRoutes_RejectsMissingAPIKey(t *testing.T) {
	srv := newIntegrationServer(t, "http://unused.invalid", "secret-key")
	mux := srv.setupRoutes()

	body, _ := json.Marshal(map[string]any{"model": "gpt-5.2-high", "messages": []map[string]any{}})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServerRoutes_AcceptsValidAPIKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, upstreamTextSSE)
	}))
	defer upstream.Close()

	srv := newIntegrationServer(t, upstream.URL, "secret-key")
	mux := srv.setupRoutes()

	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-5.2-high",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
		"stream":   false,
	})

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-key")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

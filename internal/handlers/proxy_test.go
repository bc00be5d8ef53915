package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/msgbridge/internal/config"
	"github.com/corvidlabs/msgbridge/internal/metrics"
	"github.com/corvidlabs/msgbridge/internal/scheduler"
)

// upstreamSSE is the §8 Scenario D fixture: a function_call emitted, then
// response.completed with usage.
const upstreamSSE = `event: response.created
data: {"type":"response.created"}

event: response.output_item.added
data: {"type":"response.output_item.added","item":{"type":"function_call","call_id":"call_a1b2c3d4e5f60000000000","name":"run"}}

event: response.function_call_arguments.delta
data: {"type":"response.function_call_arguments.delta","delta":"{\"x\":"}

event: response.function_call_arguments.delta
data: {"type":"response.function_call_arguments.delta","delta":"1}"}

event: response.output_item.done
data: {"type":"response.output_item.done","item":{"type":"function_call","call_id":"call_a1b2c3d4e5f60000000000","name":"run"}}

event: response.completed
data: {"type":"response.completed","response":{"status":"completed","output":[{"type":"function_call","call_id":"call_a1b2c3d4e5f60000000000","name":"run","arguments":"{\"x\":1}"}],"usage":{"input_tokens":100,"output_tokens":20,"input_tokens_details":{"cached_tokens":40}}}}

`

func newTestHandler(t *testing.T, upstreamURL string) *ProxyHandler {
	t.Helper()

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	require.NoError(t, cfgMgr.Save(&config.Config{
		Host:   "127.0.0.1",
		Port:   0,
		Alias:  "claude-bridge",
		APIKey: "",
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
	}))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	sched := scheduler.NewRoundRobin([]scheduler.Account{{ID: "default", Type: "api_key", Token: "test-token"}})
	sink := metrics.NewLogSink(logger)

	return NewProxyHandler(cfgMgr, sched, sink, logger)
}

func clientRequestBody() map[string]any {
	return map[string]any{
		"model": "gpt-5.2-codex-high",
		"messages": []map[string]any{
			{"role": "user", "content": "run the tool"},
		},
		"stream": true,
	}
}

func TestProxyHandler_StreamingScenarioD(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("accept"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(upstreamSSE))
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)

	reqBody, _ := json.Marshal(clientRequestBody())
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no", rr.Header().Get("X-Accel-Buffering"))

	out := rr.Body.String()
	assert.Contains(t, out, "event: message_start")
	assert.Contains(t, out, "event: content_block_start")
	assert.Contains(t, out, `"type":"tool_use"`)
	assert.Contains(t, out, `"name":"run"`)
	assert.Contains(t, out, "event: content_block_delta")
	assert.Contains(t, out, `"partial_json":"{\"x\":"`)
	assert.Contains(t, out, "event: content_block_stop")
	assert.Contains(t, out, "event: message_delta")
	assert.Contains(t, out, `"stop_reason":"tool_use"`)
	assert.Contains(t, out, `"input_tokens":60`)
	assert.Contains(t, out, `"cache_read_input_tokens":40`)
	assert.Contains(t, out, "event: message_stop")

	// message_start must precede every content_block_* event.
	assert.Less(t, strings.Index(out, "message_start"), strings.Index(out, "content_block_start"))
}

func TestProxyHandler_NonStreamingScenarioE(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		// Upstream is always forced into streaming mode even for a
		// non-stream client request.
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(upstreamSSE))
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)

	client := clientRequestBody()
	client["stream"] = false

	reqBody, _ := json.Marshal(client)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var respBody map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &respBody))

	assert.Equal(t, "message", respBody["type"])
	assert.Equal(t, "tool_use", respBody["stop_reason"])

	content, ok := respBody["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)

	block := content[0].(map[string]any)
	assert.Equal(t, "tool_use", block["type"])
	assert.Equal(t, "run", block["name"])

	usage := respBody["usage"].(map[string]any)
	assert.Equal(t, float64(60), usage["input_tokens"])
	assert.Equal(t, float64(40), usage["cache_read_input_tokens"])
}

func TestProxyHandler_RateLimit429(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","resets_in_seconds":12}}`))
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)

	client := clientRequestBody()
	client["stream"] = false

	reqBody, _ := json.Marshal(client)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(reqBody))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

	errObj := body["error"].(map[string]any)
	assert.Equal(t, "rate_limit_error", errObj["type"])
	assert.Equal(t, "slow down", errObj["message"])
}

func TestProxyHandler_RateLimit429_StreamFraming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)

	reqBody, _ := json.Marshal(clientRequestBody())
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(reqBody))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "event: error")
	assert.Contains(t, rr.Body.String(), "rate_limit_error")
}

func TestProxyHandler_StreamEndedWithoutCompleted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("event: response.created\ndata: {\"type\":\"response.created\"}\n\n"))
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)

	client := clientRequestBody()
	client["stream"] = false

	reqBody, _ := json.Marshal(client)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(reqBody))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

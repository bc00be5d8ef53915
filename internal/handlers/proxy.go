package handlers

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/corvidlabs/msgbridge/internal/bridge"
	"github.com/corvidlabs/msgbridge/internal/config"
	"github.com/corvidlabs/msgbridge/internal/metrics"
	"github.com/corvidlabs/msgbridge/internal/scheduler"
)

// ProxyHandler is the orchestration layer (C8): it wires the request
// translator (C3), the request-body adapter (C1), the streaming converter
// (C4) or non-stream collector+translator (C5/C6), and the error-path
// handlers (C7) around one upstream round trip per inbound request. It
// holds no per-request mutable state; everything is request-scoped.
type ProxyHandler struct {
	config    *config.Manager
	scheduler scheduler.Scheduler
	sink      metrics.Sink
	logger    *slog.Logger
}

// NewProxyHandler builds the orchestrator. sched and sink are the external
// collaborators from spec §6; callers normally pass scheduler.NewRoundRobin
// and metrics.NewLogSink so the binary runs standalone.
func NewProxyHandler(cfgMgr *config.Manager, sched scheduler.Scheduler, sink metrics.Sink, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{config: cfgMgr, scheduler: sched, sink: sink, logger: logger}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()
	requestID := uuid.NewString()
	logger := h.logger.With("request_id", requestID)

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeJSONError(w, http.StatusBadRequest, bridge.UpstreamError{Status: http.StatusBadRequest, Kind: "api_error", Message: "failed to read request body"})
		return
	}

	var clientBody bridge.JSON
	if err := json.Unmarshal(rawBody, &clientBody); err != nil {
		h.writeJSONError(w, http.StatusBadRequest, bridge.UpstreamError{Status: http.StatusBadRequest, Kind: "api_error", Message: "invalid JSON body"})
		return
	}

	wantStream, _ := clientBody["stream"].(bool)
	isCLI := bridge.IsCLIClient(r.UserAgent())

	vendor, baseModel := parseVendorModel(stringField(clientBody, "model"))

	sessionHash := r.Header.Get("X-Session-Hash")
	apiKeyMetadata := clientAPIKeyMetadata(r)

	selection, err := h.scheduler.SelectAccount(r.Context(), apiKeyMetadata, sessionHash, baseModel)
	if err != nil {
		logger.Error("account selection failed", "error", err, "vendor", vendor)
		h.writeJSONError(w, http.StatusBadGateway, bridge.UpstreamError{Status: http.StatusBadGateway, Kind: "api_error", Message: "no upstream account available"})

		return
	}

	responsesBody, toolIDMap, actualModel := bridge.TranslateRequest(clientBody, baseModel)

	adapterCfg := adapterConfigFrom(cfg.Adapter)
	adaptResult := bridge.AdaptRequest(responsesBody, bridge.AdaptOptions{
		IsCLI:       isCLI,
		Config:      adapterCfg,
		DefaultText: cfg.Adapter.Instructions.Text,
	})

	outbound, ok := adaptResult.Body.(bridge.JSON)
	if !ok {
		outbound = responsesBody
	}

	// The upstream is stream-only; the core always forces stream=true
	// regardless of what the client asked for (spec §6).
	outbound["stream"] = true

	if selection.AccountType == "oauth" {
		outbound["store"] = false
	}

	outboundJSON, err := json.Marshal(outbound)
	if err != nil {
		h.writeJSONError(w, http.StatusInternalServerError, bridge.UpstreamError{Status: http.StatusInternalServerError, Kind: "api_error", Message: "failed to encode upstream request"})
		return
	}

	timeout := cfg.Upstream.Timeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Upstream.BaseURL, strings.NewReader(string(outboundJSON)))
	if err != nil {
		h.writeJSONError(w, http.StatusInternalServerError, bridge.UpstreamError{Status: http.StatusInternalServerError, Kind: "api_error", Message: "failed to build upstream request"})
		return
	}

	upstreamReq.Header.Set("content-type", "application/json")
	upstreamReq.Header.Set("accept", "text/event-stream")

	if selection.Token != "" {
		upstreamReq.Header.Set("authorization", "Bearer "+selection.Token)
	}

	client := h.buildClient(selection.Proxy)

	logger.Info("proxying request",
		"model", actualModel,
		"vendor", vendor,
		"account_id", selection.AccountID,
		"account_type", selection.AccountType,
		"stream", wantStream,
		"estimated_input_tokens", estimateInputTokens(rawBody),
	)

	resp, err := client.Do(upstreamReq)
	if err != nil {
		status := http.StatusBadGateway
		if ctx.Err() == context.Canceled {
			status = 499
		}

		h.writeFramedError(w, wantStream, bridge.UpstreamError{Status: status, Kind: "api_error", Message: "upstream request failed"})

		return
	}
	defer resp.Body.Close()

	if snap, ok := bridge.SnapshotUsageHeaders(resp.Header); ok {
		h.sink.UpdateCounters(toMetricsRateLimitInfo(snap), 0, 0, actualModel, apiKeyMetadata, selection.AccountType)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		upstreamErr := bridge.HandleRateLimit(ctx, resp.Body, selection.AccountID, selection.AccountType, sessionHash, h.scheduler)
		h.writeFramedError(w, wantStream, upstreamErr)

		return

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusPaymentRequired:
		upstreamErr := bridge.HandleUnauthorized(ctx, resp.Body, resp.StatusCode, selection.AccountID, selection.AccountType, sessionHash, h.scheduler)
		h.writeFramedError(w, wantStream, upstreamErr)

		return

	case resp.StatusCode != http.StatusOK:
		upstreamErr := bridge.HandleOther(ctx, resp.Body, resp.StatusCode)
		h.writeFramedError(w, wantStream, upstreamErr)

		return
	}

	bodyReader, err := decompressReader(resp)
	if err != nil {
		h.writeFramedError(w, wantStream, bridge.UpstreamError{Status: http.StatusBadGateway, Kind: "api_error", Message: "decompression error"})
		return
	}

	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	h.scheduler.ClearRateLimit(selection.AccountID, selection.AccountType)

	if wantStream {
		h.serveStreaming(w, bodyReader, toolIDMap, cfg.Alias, actualModel, selection, apiKeyMetadata, logger)
		return
	}

	h.serveNonStreaming(w, bodyReader, toolIDMap, cfg.Alias, actualModel, selection, apiKeyMetadata, logger)
}

// sseResponseWriter adapts an http.ResponseWriter+http.Flusher pair into a
// bridge.Sink, flushing after every frame so the client sees events as they
// arrive (§5 "writes to the client sink in arrival order").
type sseResponseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseResponseWriter) Emit(event string, data bridge.JSON) error {
	frame, err := bridge.FormatSSEEvent(event, data)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}

	if s.flusher != nil {
		s.flusher.Flush()
	}

	return nil
}

func (h *ProxyHandler) serveStreaming(w http.ResponseWriter, body io.Reader, toolIDMap *bridge.ToolIDMap, alias, model string, selection scheduler.Selection, apiKeyMetadata string, logger *slog.Logger) {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	sink := &sseResponseWriter{w: w, flusher: flusher}
	converter := bridge.NewStreamConverter(sink, alias, toolIDMap)

	reader := bridge.NewSSEReader(body)

	for {
		ev, ok, err := reader.Next()
		if err != nil {
			logger.Error("upstream stream read error", "error", err)
			return
		}

		if !ok {
			break
		}

		if err := converter.Convert(ev); err != nil {
			logger.Error("stream conversion error", "error", err)
			return
		}
	}

	usage := converter.Usage()
	h.sink.RecordUsage(apiKeyMetadata, usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens, usage.CacheReadInputTokens, model, selection.AccountID, selection.AccountType)
}

func (h *ProxyHandler) serveNonStreaming(w http.ResponseWriter, body io.Reader, toolIDMap *bridge.ToolIDMap, alias, model string, selection scheduler.Selection, apiKeyMetadata string, logger *slog.Logger) {
	response, err := bridge.Collect(body)
	if err != nil {
		logger.Error("non-stream collection failed", "error", err)
		h.writeJSONError(w, http.StatusBadGateway, bridge.UpstreamError{Status: http.StatusBadGateway, Kind: "api_error", Message: err.Error()})

		return
	}

	messageBody := bridge.TranslateResponse(response, toolIDMap, alias)

	payload, err := json.Marshal(messageBody)
	if err != nil {
		h.writeJSONError(w, http.StatusInternalServerError, bridge.UpstreamError{Status: http.StatusInternalServerError, Kind: "api_error", Message: "failed to encode response"})
		return
	}

	if usageRaw, ok := messageBody["usage"].(bridge.JSON); ok {
		h.sink.RecordUsage(
			apiKeyMetadata,
			intFieldOr(usageRaw, "input_tokens"),
			intFieldOr(usageRaw, "output_tokens"),
			intFieldOr(usageRaw, "cache_creation_input_tokens"),
			intFieldOr(usageRaw, "cache_read_input_tokens"),
			model, selection.AccountID, selection.AccountType,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// writeFramedError emits an UpstreamError in the framing the client asked
// for: an SSE "error" event for streaming clients, a JSON body otherwise
// (spec §7 "Propagation policy").
func (h *ProxyHandler) writeFramedError(w http.ResponseWriter, stream bool, upstreamErr bridge.UpstreamError) {
	if !stream {
		h.writeJSONError(w, upstreamErr.Status, upstreamErr)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	frame, err := bridge.FormatSSEEvent("error", upstreamErr.Payload())
	if err != nil {
		return
	}

	io.WriteString(w, frame)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *ProxyHandler) writeJSONError(w http.ResponseWriter, status int, upstreamErr bridge.UpstreamError) {
	payload, err := json.Marshal(upstreamErr.Payload())
	if err != nil {
		http.Error(w, upstreamErr.Message, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

// buildClient returns an http.Client routed through proxyURL when set,
// mirroring the scheduler's per-account proxy assignment (spec §6).
func (h *ProxyHandler) buildClient(proxyURL string) *http.Client {
	if proxyURL == "" {
		return http.DefaultClient
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		h.logger.Warn("invalid account proxy URL, using direct connection", "proxy", proxyURL, "error", err)
		return http.DefaultClient
	}

	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(parsed)}}
}

// decompressReader unwraps gzip/brotli-encoded upstream bodies; the
// Responses API may compress its SSE stream like any other HTTP response.
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// parseVendorModel splits the inbound "<vendor>,<base-model>" model field
// (spec §6 "Inbound API"). base-model is what the request translator (C3)
// receives; vendor is only logged and is not passed to the scheduler.
func parseVendorModel(raw string) (vendor, baseModel string) {
	idx := strings.Index(raw, ",")
	if idx < 0 {
		return "", raw
	}

	return raw[:idx], raw[idx+1:]
}

func stringField(body bridge.JSON, key string) string {
	s, _ := body[key].(string)
	return s
}

func clientAPIKeyMetadata(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	return r.Header.Get("X-API-Key")
}

func adapterConfigFrom(cfg config.AdapterConfig) bridge.AdapterConfig {
	return bridge.AdapterConfig{
		Enabled: cfg.Enabled,
		Instructions: bridge.InstructionsConfig{
			Mode:      cfg.Instructions.Mode,
			ApplyWhen: cfg.Instructions.ApplyWhen,
			Text:      cfg.Instructions.Text,
		},
		StripFields: bridge.StripFieldsConfig{
			Enabled: cfg.StripFields.Enabled,
			Fields:  cfg.StripFields.Fields,
		},
	}
}

func toMetricsRateLimitInfo(snap bridge.UsageHeaderSnapshot) metrics.RateLimitInfo {
	return metrics.RateLimitInfo{
		PrimaryUsedPercent:          snap.PrimaryUsedPercent,
		PrimaryResetAfterSeconds:    snap.PrimaryResetAfterSeconds,
		PrimaryWindowMinutes:        snap.PrimaryWindowMinutes,
		SecondaryUsedPercent:        snap.SecondaryUsedPercent,
		SecondaryResetAfterSeconds:  snap.SecondaryResetAfterSeconds,
		SecondaryWindowMinutes:      snap.SecondaryWindowMinutes,
		PrimaryOverSecondaryPercent: snap.PrimaryOverSecondaryPercent,
		HasPrimary:                  snap.HasPrimary,
		HasSecondary:                snap.HasSecondary,
	}
}

func intFieldOr(m bridge.JSON, key string) int {
	v, ok := m[key].(int)
	if ok {
		return v
	}

	if f, ok := m[key].(float64); ok {
		return int(f)
	}

	return 0
}

// estimateInputTokens is a best-effort, cl100k_base-encoded token count of
// the raw client request body, logged alongside each proxied request for
// observability (grounded on the teacher's countInputTokens, which fed the
// same encoding into its router threshold logic).
func estimateInputTokens(raw []byte) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}

	return len(enc.Encode(string(raw), nil, nil))
}

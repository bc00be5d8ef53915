// Package metrics implements the metrics-sink external collaborator from
// spec §6: usage recording and rate-limit counter updates. The bridge core
// only depends on the Sink interface; LogSink is the default implementation
// so the binary runs standalone, grounded on the teacher's
// logResponseTokens helper (internal/handlers/proxy.go in the teacher),
// generalized here into a real Sink rather than an ad hoc private method.
package metrics

import "log/slog"

// RateLimitInfo is the rate-limit snapshot forwarded alongside usage
// updates (spec §6 "Upstream usage headers").
type RateLimitInfo struct {
	PrimaryUsedPercent          float64
	PrimaryResetAfterSeconds    float64
	PrimaryWindowMinutes        float64
	SecondaryUsedPercent        float64
	SecondaryResetAfterSeconds  float64
	SecondaryWindowMinutes      float64
	PrimaryOverSecondaryPercent float64
	HasPrimary                  bool
	HasSecondary                bool
}

// Sink is the metrics-sink interface from spec §6.
type Sink interface {
	RecordUsage(apiKeyID string, inputTokens, outputTokens, cacheCreate, cacheRead int, model, accountID, accountType string)
	UpdateCounters(info RateLimitInfo, inputTokens, outputTokens int, model, apiKeyID, accountType string)
}

// LogSink is the default Sink: it logs usage and counter updates via
// log/slog rather than persisting them, so the bridge runs standalone
// without a real metrics backend wired in.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink builds a LogSink writing through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// RecordUsage logs one request's token accounting.
func (s *LogSink) RecordUsage(apiKeyID string, inputTokens, outputTokens, cacheCreate, cacheRead int, model, accountID, accountType string) {
	s.logger.Info("usage recorded",
		"api_key_id", apiKeyID,
		"model", model,
		"account_id", accountID,
		"account_type", accountType,
		"input_tokens", inputTokens,
		"output_tokens", outputTokens,
		"cache_creation_input_tokens", cacheCreate,
		"cache_read_input_tokens", cacheRead,
	)
}

// UpdateCounters logs the forwarded rate-limit snapshot, if present.
func (s *LogSink) UpdateCounters(info RateLimitInfo, inputTokens, outputTokens int, model, apiKeyID, accountType string) {
	if !info.HasPrimary && !info.HasSecondary {
		return
	}

	s.logger.Debug("rate limit counters updated",
		"api_key_id", apiKeyID,
		"model", model,
		"account_type", accountType,
		"input_tokens", inputTokens,
		"output_tokens", outputTokens,
		"primary_used_percent", info.PrimaryUsedPercent,
		"primary_reset_after_seconds", info.PrimaryResetAfterSeconds,
		"secondary_used_percent", info.SecondaryUsedPercent,
	)
}

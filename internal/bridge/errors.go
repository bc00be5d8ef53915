package bridge

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// drainCap bounds how long an error-body drain may block (§5 "a hard 5 s
// cap on error-body drains").
const drainCap = 5 * time.Second

// RateLimitNotifier is the subset of the scheduler interface (§6) the
// 429 handler needs.
type RateLimitNotifier interface {
	MarkRateLimited(accountID, accountType, sessionHash string, resetsAfter *int)
}

// UnauthorizedNotifier is the subset of the scheduler interface (§6) the
// 401/402 handler needs.
type UnauthorizedNotifier interface {
	MarkUnauthorized(accountID, accountType, sessionHash, reason string)
}

// UpstreamError is the classified, client-presentable error produced by a
// C7 handler.
type UpstreamError struct {
	Status  int
	Kind    string // rate_limit_error | authentication_error | api_error
	Message string
}

// Payload renders the Messages-dialect JSON error body.
func (e UpstreamError) Payload() JSON {
	return JSON{"error": JSON{"type": e.Kind, "message": e.Message}}
}

// drain reads up to drainCap worth of body, best-effort, and returns the
// bytes read; if the cap or a cancellation fires first it returns nil.
func drain(ctx context.Context, body io.Reader) []byte {
	ctx, cancel := context.WithTimeout(ctx, drainCap)
	defer cancel()

	done := make(chan []byte, 1)

	go func() {
		b, _ := io.ReadAll(io.LimitReader(body, 1<<20))
		done <- b
	}()

	select {
	case b := <-done:
		return b
	case <-ctx.Done():
		return nil
	}
}

func parseErrorBody(raw []byte) JSON {
	var payload JSON
	if err := json.Unmarshal(raw, &payload); err != nil {
		return JSON{}
	}

	return payload
}

func errorMessage(payload JSON, fallback string) string {
	errObj, ok := payload["error"].(JSON)
	if !ok {
		return fallback
	}

	if msg, ok := errObj["message"].(string); ok && msg != "" {
		return sanitize(msg)
	}

	return fallback
}

func resetsInSeconds(payload JSON) *int {
	errObj, ok := payload["error"].(JSON)
	if !ok {
		return nil
	}

	switch v := errObj["resets_in_seconds"].(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	default:
		return nil
	}
}

// sanitize redacts everything from the first (case-insensitive) "bearer "
// onward before a message is surfaced to the client. Other key formats are
// not detected.
func sanitize(msg string) string {
	lower := strings.ToLower(msg)
	if idx := strings.Index(lower, "bearer "); idx >= 0 {
		return msg[:idx] + "bearer [redacted]"
	}

	return msg
}

// HandleRateLimit implements the 429 handler (C7): drain, parse, notify the
// scheduler with the reset hint, and return the client-facing error.
func HandleRateLimit(ctx context.Context, body io.Reader, accountID, accountType, sessionHash string, notifier RateLimitNotifier) UpstreamError {
	raw := drain(ctx, body)
	payload := parseErrorBody(raw)
	resets := resetsInSeconds(payload)

	if notifier != nil {
		notifier.MarkRateLimited(accountID, accountType, sessionHash, resets)
	}

	return UpstreamError{
		Status:  429,
		Kind:    "rate_limit_error",
		Message: errorMessage(payload, "rate limited"),
	}
}

// HandleUnauthorized implements the 401/402 handler (C7): drain, parse, mark
// the account unauthorized, and return the client-facing error.
func HandleUnauthorized(ctx context.Context, body io.Reader, status int, accountID, accountType, sessionHash string, notifier UnauthorizedNotifier) UpstreamError {
	raw := drain(ctx, body)
	payload := parseErrorBody(raw)
	message := errorMessage(payload, "authentication failed")

	if notifier != nil {
		notifier.MarkUnauthorized(accountID, accountType, sessionHash, message)
	}

	return UpstreamError{Status: status, Kind: "authentication_error", Message: message}
}

// HandleOther implements the generic non-200 handler (C7): drain, parse,
// and surface the upstream status with a best-effort message.
func HandleOther(ctx context.Context, body io.Reader, status int) UpstreamError {
	raw := drain(ctx, body)
	payload := parseErrorBody(raw)

	return UpstreamError{Status: status, Kind: "api_error", Message: errorMessage(payload, "upstream error")}
}

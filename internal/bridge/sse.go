package bridge

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// UpstreamEvent is one parsed Responses-dialect SSE frame.
type UpstreamEvent struct {
	Event string // the "event:" line, if present
	Data  JSON   // the parsed "data:" payload
}

// SSEReader incrementally parses an SSE byte stream into UpstreamEvents.
// Both the streaming converter (C4) and the non-stream collector (C5) share
// this parser, per the design notes ("the single-stream parser is shared").
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader wraps r for line-oriented SSE parsing with a generous buffer
// (upstream event payloads can carry large tool-call arguments).
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	return &SSEReader{scanner: scanner}
}

// Next returns the next parsed event, or ok=false at end of stream (flushing
// any buffered-but-unterminated event, per §4.5: "flush the parser with a
// trailing blank-line marker in case the stream was unterminated").
func (r *SSEReader) Next() (UpstreamEvent, bool, error) {
	var (
		eventName string
		dataLines []string
		sawAny    bool
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()
		sawAny = true

		switch {
		case line == "":
			if len(dataLines) == 0 {
				// Blank separator with no accumulated data: keep reading.
				eventName = ""
				sawAny = false

				continue
			}

			return buildEvent(eventName, dataLines)

		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))

		default:
			// Ignore comments, ids, retry directives, and anything else.
		}
	}

	if err := r.scanner.Err(); err != nil {
		return UpstreamEvent{}, false, err
	}

	if len(dataLines) > 0 {
		ev, ok, err := buildEvent(eventName, dataLines)
		return ev, ok, err
	}

	_ = sawAny

	return UpstreamEvent{}, false, nil
}

func buildEvent(eventName string, dataLines []string) (UpstreamEvent, bool, error) {
	raw := strings.TrimSpace(strings.Join(dataLines, "\n"))
	if raw == "" {
		return UpstreamEvent{}, true, nil
	}

	var payload JSON
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		// Malformed upstream payload: skip rather than abort translation
		// (translation-kind errors are best-effort per §7).
		return UpstreamEvent{}, true, nil
	}

	if eventName == "" {
		if t, ok := payload["type"].(string); ok {
			eventName = t
		}
	}

	return UpstreamEvent{Event: eventName, Data: payload}, true, nil
}

// FormatSSEEvent renders one Messages-dialect SSE frame: two lines, an
// "event:" line and a compact "data:" JSON line, followed by a blank line.
func FormatSSEEvent(event string, data JSON) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteString("\ndata: ")
	b.Write(payload)
	b.WriteString("\n\n")

	return b.String(), nil
}

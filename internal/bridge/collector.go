package bridge

import (
	"errors"
	"io"
)

// ErrNoCompletedResponse is returned by Collect when the upstream stream
// ended without ever producing a response.completed event (§7: "Stream
// ended without response.completed").
var ErrNoCompletedResponse = errors.New("stream ended without response.completed")

// Collect implements C5: read upstream SSE events from r, capture every
// response.completed payload's `response` object, and return the last one
// captured. The same SSEReader used by the streaming converter is reused
// here, per the design note that the single-stream parser is shared between
// the streaming and non-streaming paths.
func Collect(r io.Reader) (JSON, error) {
	reader := NewSSEReader(r)

	var last JSON

	for {
		ev, ok, err := reader.Next()
		if err != nil {
			return nil, err
		}

		if !ok {
			break
		}

		if ev.Event == "response.completed" {
			if response, ok := ev.Data["response"].(JSON); ok {
				last = response
			}
		}
	}

	if last == nil {
		return nil, ErrNoCompletedResponse
	}

	return last, nil
}

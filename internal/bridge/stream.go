package bridge

// Sink receives Messages-dialect SSE frames as they're produced. The
// orchestration layer supplies a sink that writes to the client connection
// (or, for the non-stream path via Collector, accumulates nothing — the
// collector never uses a Sink; see collector.go).
type Sink interface {
	Emit(event string, data JSON) error
}

// StreamConverter is the stateful SSE-to-SSE transcoder of C4. One instance
// is created per request on first upstream byte and discarded at stream
// end; all fields are request-private (§3 "Streaming converter state").
type StreamConverter struct {
	sink  Sink
	alias string

	toolIDMap *ToolIDMap

	blockIndex        int
	messageStartSent  bool
	currentCallID     string
	currentCallName   string
	haveFunctionCall  bool
	finalStatus       string
	finalIncompleteRe string
	usage             Usage
}

// NewStreamConverter builds a converter that writes Messages events to sink,
// reporting model as the fixed alias, and consulting toolIDMap for reverse
// tool-ID lookups.
func NewStreamConverter(sink Sink, alias string, toolIDMap *ToolIDMap) *StreamConverter {
	return &StreamConverter{sink: sink, alias: alias, toolIDMap: toolIDMap}
}

// Convert dispatches one upstream event per the C4 state-machine table.
func (c *StreamConverter) Convert(ev UpstreamEvent) error {
	switch ev.Event {
	case "response.created":
		return c.ensureMessageStart()

	case "response.output_item.added":
		return c.handleOutputItemAdded(ev.Data)

	case "response.reasoning_summary_part.added":
		if err := c.ensureMessageStart(); err != nil {
			return err
		}

		return c.emit("content_block_start", JSON{
			"type":  "content_block_start",
			"index": c.blockIndex,
			"content_block": JSON{
				"type":     "thinking",
				"thinking": "",
			},
		})

	case "response.reasoning_summary_text.delta":
		delta, _ := ev.Data["delta"].(string)
		return c.emit("content_block_delta", JSON{
			"type":  "content_block_delta",
			"index": c.blockIndex,
			"delta": JSON{"type": "thinking_delta", "thinking": delta},
		})

	case "response.reasoning_summary_part.done":
		return c.closeBlock()

	case "response.content_part.added":
		part, _ := ev.Data["part"].(JSON)
		if kind, _ := part["type"].(string); kind != "output_text" {
			return nil
		}

		if err := c.ensureMessageStart(); err != nil {
			return err
		}

		return c.emit("content_block_start", JSON{
			"type":  "content_block_start",
			"index": c.blockIndex,
			"content_block": JSON{
				"type": "text",
				"text": "",
			},
		})

	case "response.output_text.delta":
		delta, _ := ev.Data["delta"].(string)
		return c.emit("content_block_delta", JSON{
			"type":  "content_block_delta",
			"index": c.blockIndex,
			"delta": JSON{"type": "text_delta", "text": delta},
		})

	case "response.content_part.done":
		return c.closeBlock()

	case "response.function_call_arguments.delta":
		delta, _ := ev.Data["delta"].(string)
		return c.emit("content_block_delta", JSON{
			"type":  "content_block_delta",
			"index": c.blockIndex,
			"delta": JSON{"type": "input_json_delta", "partial_json": delta},
		})

	case "response.output_item.done":
		return c.handleOutputItemDone(ev.Data)

	case "response.completed":
		return c.handleCompleted(ev.Data)

	default:
		return nil
	}
}

func (c *StreamConverter) ensureMessageStart() error {
	if c.messageStartSent {
		return nil
	}

	c.messageStartSent = true

	return c.emit("message_start", JSON{
		"type": "message_start",
		"message": JSON{
			"id":            "msg_" + randomHex(16),
			"type":          "message",
			"role":          "assistant",
			"model":         c.alias,
			"content":       []JSON{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": JSON{
				"input_tokens":                0,
				"output_tokens":               0,
				"cache_creation_input_tokens": 0,
				"cache_read_input_tokens":     0,
			},
		},
	})
}

func (c *StreamConverter) handleOutputItemAdded(data JSON) error {
	item, _ := data["item"].(JSON)
	kind, _ := item["type"].(string)

	if err := c.ensureMessageStart(); err != nil {
		return err
	}

	if kind != "function_call" {
		// message/reasoning items: wait for their sub-part events.
		return nil
	}

	callID, _ := item["call_id"].(string)
	name, _ := item["name"].(string)

	c.currentCallID = callID
	c.currentCallName = name
	c.haveFunctionCall = true

	id, ok := c.toolIDMap.Reverse(callID)
	if !ok {
		id = MintToolUseID()
	}

	return c.emit("content_block_start", JSON{
		"type":  "content_block_start",
		"index": c.blockIndex,
		"content_block": JSON{
			"type":  "tool_use",
			"id":    id,
			"name":  name,
			"input": JSON{},
		},
	})
}

func (c *StreamConverter) handleOutputItemDone(data JSON) error {
	item, _ := data["item"].(JSON)
	if kind, _ := item["type"].(string); kind != "function_call" {
		return nil
	}

	c.currentCallID = ""
	c.currentCallName = ""

	return c.closeBlock()
}

func (c *StreamConverter) closeBlock() error {
	if err := c.emit("content_block_stop", JSON{
		"type":  "content_block_stop",
		"index": c.blockIndex,
	}); err != nil {
		return err
	}

	c.blockIndex++

	return nil
}

func (c *StreamConverter) handleCompleted(data JSON) error {
	response, _ := data["response"].(JSON)

	status, _ := response["status"].(string)

	incompleteReason := ""
	if details, ok := response["incomplete_details"].(JSON); ok {
		incompleteReason, _ = details["reason"].(string)
	}

	hasFunctionCall := c.haveFunctionCall

	if output, ok := response["output"].([]any); ok {
		for _, o := range output {
			item, ok := o.(JSON)
			if !ok {
				continue
			}

			if kind, _ := item["type"].(string); kind == "function_call" {
				hasFunctionCall = true
			}
		}
	}

	stopReason := DeriveStopReason(status, incompleteReason, hasFunctionCall)

	usage := JSON{}
	if raw, ok := response["usage"].(JSON); ok {
		usage = raw
	}

	c.usage = ComputeUsage(usage)

	if err := c.emit("message_delta", JSON{
		"type": "message_delta",
		"delta": JSON{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": JSON{
			"input_tokens":                c.usage.InputTokens,
			"output_tokens":               c.usage.OutputTokens,
			"cache_creation_input_tokens": c.usage.CacheCreationInputTokens,
			"cache_read_input_tokens":     c.usage.CacheReadInputTokens,
		},
	}); err != nil {
		return err
	}

	return c.emit("message_stop", JSON{"type": "message_stop"})
}

func (c *StreamConverter) emit(event string, data JSON) error {
	return c.sink.Emit(event, data)
}

// Usage returns the usage tallied from the terminal response.completed
// event (zero value if the stream never reached one), for the orchestration
// layer to hand to the metrics sink.
func (c *StreamConverter) Usage() Usage {
	return c.usage
}

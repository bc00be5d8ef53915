package bridge

import "strings"

// defaultStripFields is the field list stripped for non-CLI clients when no
// explicit list is configured.
func defaultStripFields() []string {
	return []string{
		"temperature", "top_p", "max_output_tokens", "user", "text_formatting",
		"truncation", "text", "service_tier", "prompt_cache_retention",
		"safety_identifier",
	}
}

// InstructionsConfig is the adapter's instruction-injection configuration.
type InstructionsConfig struct {
	Mode      string // overwrite | prepend | none
	ApplyWhen string // all | non_codex
	Text      string
}

// StripFieldsConfig is the adapter's field-stripping configuration.
type StripFieldsConfig struct {
	Enabled bool
	Fields  []string
}

// AdapterConfig is the full, possibly-malformed adapter configuration; every
// field independently validates or falls back to a default (no field
// failure aborts normalization of the others).
type AdapterConfig struct {
	Enabled      bool
	Instructions InstructionsConfig
	StripFields  StripFieldsConfig
}

// normalize collapses unknown enum values to their documented defaults
// rather than erroring.
func (c AdapterConfig) normalize() AdapterConfig {
	out := c

	switch out.Instructions.Mode {
	case "overwrite", "prepend", "none":
	default:
		out.Instructions.Mode = "overwrite"
	}

	switch out.Instructions.ApplyWhen {
	case "all", "non_codex":
	default:
		out.Instructions.ApplyWhen = "non_codex"
	}

	if len(out.StripFields.Fields) == 0 {
		out.StripFields.Fields = defaultStripFields()
	}

	return out
}

// AdaptOptions carries the per-request context the adapter needs.
type AdaptOptions struct {
	IsCLI       bool
	Config      AdapterConfig
	DefaultText string
}

// InstructionsChange annotates what, if anything, the adapter did to the
// instructions field.
type InstructionsChange struct {
	Mode           string
	AlreadyPresent bool
	ClientMissing  bool
	Fallback       bool
}

// AdaptChanges records everything the adapter touched.
type AdaptChanges struct {
	StrippedFields []string
	Instructions   *InstructionsChange
}

// AdaptResult is the adapter's output: a (possibly) new body, whether
// anything was applied, and a description of what changed.
type AdaptResult struct {
	Body    any
	Applied bool
	Changes AdaptChanges
}

// AdaptRequest implements C1: normalize config, strip forbidden fields for
// non-CLI clients, and inject/prepend/preserve instruction text scoped by
// client identity. It never mutates its input; body is always a shallow
// copy when it is a keyed object, and the function never fails (worst case
// is passthrough).
func AdaptRequest(body any, opts AdaptOptions) AdaptResult {
	obj, ok := body.(JSON)
	if !ok {
		return AdaptResult{Body: body, Applied: false}
	}

	out := make(JSON, len(obj))
	for k, v := range obj {
		out[k] = v
	}

	cfg := opts.Config.normalize()
	if !cfg.Enabled {
		return AdaptResult{Body: out, Applied: false}
	}

	applied := false

	var changes AdaptChanges

	if !opts.IsCLI && cfg.StripFields.Enabled {
		for _, field := range cfg.StripFields.Fields {
			if _, present := out[field]; present {
				delete(out, field)

				changes.StrippedFields = append(changes.StrippedFields, field)
				applied = true
			}
		}
	}

	scopeAllowsInstructions := cfg.Instructions.ApplyWhen == "all" || !opts.IsCLI

	serverText := strings.TrimSpace(cfg.Instructions.Text)
	if serverText == "" {
		serverText = strings.TrimSpace(opts.DefaultText)
	}

	hasServerText := serverText != ""

	if scopeAllowsInstructions && hasServerText {
		clientText, _ := out["instructions"].(string)

		switch cfg.Instructions.Mode {
		case "overwrite":
			out["instructions"] = serverText
			changes.Instructions = &InstructionsChange{Mode: "overwrite"}
			applied = true

		case "prepend":
			trimmed := strings.TrimLeft(clientText, " \t\n\r")

			switch {
			case clientText != "" && (strings.HasPrefix(clientText, serverText) || strings.HasPrefix(trimmed, serverText)):
				changes.Instructions = &InstructionsChange{Mode: "prepend", AlreadyPresent: true}

			case clientText != "":
				out["instructions"] = serverText + "\n\n" + clientText
				changes.Instructions = &InstructionsChange{Mode: "prepend"}
				applied = true

			default:
				out["instructions"] = serverText
				changes.Instructions = &InstructionsChange{Mode: "prepend", ClientMissing: true}
				applied = true
			}

		case "none":
			if isBlank(clientText) {
				out["instructions"] = serverText
				changes.Instructions = &InstructionsChange{Mode: "none", Fallback: true}
				applied = true
			}
		}
	}

	return AdaptResult{Body: out, Applied: applied, Changes: changes}
}

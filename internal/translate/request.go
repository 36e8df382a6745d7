package translate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Davincible/anthropic-openai-gateway/internal/anthropicapi"
	"github.com/Davincible/anthropic-openai-gateway/internal/correlation"
	"github.com/Davincible/anthropic-openai-gateway/internal/openaiapi"
	"github.com/Davincible/anthropic-openai-gateway/internal/schema"
)

// UnsupportedImageError is returned when an image block names a source kind
// neither "base64" nor "url" (spec §4.2).
type UnsupportedImageError struct {
	Kind string
}

func (e *UnsupportedImageError) Error() string {
	return fmt.Sprintf("UnsupportedImage: unsupported image source kind %q", e.Kind)
}

// builtinTool is a canonical function-tool definition for a recognized
// downstream built-in tool name.
type builtinTool struct {
	matchPrefix string
	tool        openaiapi.Tool
}

// canonical definitions for the downstream built-ins this gateway
// recognizes. Unrecognized built-in types are dropped with a warning
// (spec §4.2); web_search is handled separately since the upstream's own
// built-in web-search tool is appended unconditionally.
var builtins = []builtinTool{
	{matchPrefix: "bash", tool: openaiapi.Tool{
		Type: "function", Name: "bash", Description: "Run a bash command and return its output.",
		Parameters: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"],"additionalProperties":false}`),
		Strict:     true,
	}},
	{matchPrefix: "text_editor", tool: openaiapi.Tool{
		Type: "function", Name: "str_replace_editor", Description: "View, create, and edit files.",
		Parameters: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"},"path":{"type":"string"},"file_text":{"type":"string"},"old_str":{"type":"string"},"new_str":{"type":"string"}},"required":["command","path"],"additionalProperties":false}`),
		Strict:     true,
	}},
}

// BuildUpstreamRequest implements C2: it maps a downstream request to an
// upstream Responses-API request, consulting conv for tool-id correlation
// and the previous response id. It returns the upstream request plus any
// new tool bindings minted while translating tool_use blocks, which the
// caller merges into the correlation store at the end of the turn.
func BuildUpstreamRequest(req anthropicapi.MessageCreateParams, conv *correlation.Conversation, cfg Config, logger *slog.Logger) (*openaiapi.CreateResponseRequest, []correlation.Binding, error) {
	if logger == nil {
		logger = slog.Default()
	}

	out := &openaiapi.CreateResponseRequest{
		Model: cfg.UpstreamModel,
	}

	if instructions, ok := extractSystemInstructions(req.System); ok {
		out.Instructions = instructions
	}

	items, newBindings, err := convertMessages(req.Messages, conv, logger)
	if err != nil {
		return nil, nil, err
	}
	out.Input = postFilterUnpairedCalls(items, logger)

	tools, err := convertTools(req.Tools, logger)
	if err != nil {
		return nil, nil, err
	}
	out.Tools = append(tools, openaiapi.Tool{Type: "web_search"})

	out.ToolChoice = convertToolChoice(req.ToolChoice)

	maxOut := req.MaxTokens
	if maxOut < cfg.MaxOutputFloor {
		maxOut = cfg.MaxOutputFloor
	}
	out.MaxOutputTokens = maxOut
	out.TopP = req.TopP

	if prev, ok := conv.LastResponseID(); ok {
		out.PreviousResponseID = prev
	}

	return out, newBindings, nil
}

func extractSystemInstructions(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}

	var blocks []anthropicapi.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		joined := strings.Join(parts, "\n\n")
		return joined, joined != ""
	}

	return "", false
}

func convertMessages(messages []anthropicapi.Message, conv *correlation.Conversation, logger *slog.Logger) ([]openaiapi.InputItem, []correlation.Binding, error) {
	var items []openaiapi.InputItem
	var newBindings []correlation.Binding

	for _, msg := range messages {
		if text, ok := msg.StringContent(); ok {
			if text != "" {
				items = append(items, textMessageItem(msg.Role, text))
			}
			continue
		}

		blocks, err := msg.BlockContent()
		if err != nil {
			return nil, nil, fmt.Errorf("decode message content blocks: %w", err)
		}

		var buf strings.Builder
		flush := func() {
			if buf.Len() == 0 {
				return
			}
			items = append(items, textMessageItem(msg.Role, buf.String()))
			buf.Reset()
		}

		for _, b := range blocks {
			switch b.Type {
			case "text":
				buf.WriteString(b.Text)

			case "tool_use":
				flush()
				binding, ok := conv.BindingByToolUseID(b.ID)
				var cid string
				if ok {
					cid = binding.CallID
				} else {
					cid = "call_" + uuid.NewString()
					newBindings = append(newBindings, correlation.Binding{CallID: cid, ToolUseID: b.ID, ToolName: b.Name})
				}
				argsJSON, err := json.Marshal(json.RawMessage(b.Input))
				if err != nil {
					return nil, nil, fmt.Errorf("marshal tool_use input: %w", err)
				}
				items = append(items, openaiapi.InputItem{
					Type: "function_call", CallID: cid, Name: b.Name, Arguments: string(argsJSON),
				})

			case "tool_result":
				flush()
				var cid string
				if binding, ok := conv.BindingByToolUseID(b.ToolUseID); ok {
					cid = binding.CallID
				} else {
					logger.Warn("tool_result with no known correlation, using downstream id as call_id", "tool_use_id", b.ToolUseID)
					cid = b.ToolUseID
				}
				output, err := b.ToolResultText()
				if err != nil {
					return nil, nil, fmt.Errorf("decode tool_result content: %w", err)
				}
				items = append(items, openaiapi.InputItem{Type: "function_call_output", CallID: cid, Output: output})

			case "image":
				flush()
				part, err := imagePart(b.Source)
				if err != nil {
					return nil, nil, err
				}
				items = append(items, openaiapi.InputItem{
					Type: "message", Role: "user", Content: []openaiapi.InputContentPart{part},
				})

			default:
				logger.Warn("unknown content block type dropped", "type", b.Type)
			}
		}
		flush()
	}

	return items, newBindings, nil
}

func textMessageItem(role, text string) openaiapi.InputItem {
	return openaiapi.InputItem{
		Type: "message", Role: role,
		Content: []openaiapi.InputContentPart{{Type: "input_text", Text: text}},
	}
}

func imagePart(src *anthropicapi.ImageSource) (openaiapi.InputContentPart, error) {
	if src == nil {
		return openaiapi.InputContentPart{}, &UnsupportedImageError{Kind: "<missing>"}
	}
	switch src.Type {
	case "base64":
		return openaiapi.InputContentPart{
			Type:     "input_image",
			ImageURL: fmt.Sprintf("data:%s;base64,%s", src.MediaType, src.Data),
		}, nil
	case "url":
		return openaiapi.InputContentPart{Type: "input_image", ImageURL: src.URL}, nil
	default:
		return openaiapi.InputContentPart{}, &UnsupportedImageError{Kind: src.Type}
	}
}

// postFilterUnpairedCalls drops any function_call whose call_id has no
// matching function_call_output in the same list (spec §4.2 "Post-filter").
func postFilterUnpairedCalls(items []openaiapi.InputItem, logger *slog.Logger) []openaiapi.InputItem {
	paired := make(map[string]bool)
	for _, it := range items {
		if it.Type == "function_call_output" {
			paired[it.CallID] = true
		}
	}

	out := make([]openaiapi.InputItem, 0, len(items))
	for _, it := range items {
		if it.Type == "function_call" && !paired[it.CallID] {
			logger.Warn("dropping unpaired function_call before upstream send", "call_id", it.CallID)
			continue
		}
		out = append(out, it)
	}
	return out
}

func convertTools(tools []anthropicapi.Tool, logger *slog.Logger) ([]openaiapi.Tool, error) {
	var out []openaiapi.Tool
	for _, t := range tools {
		if t.Type != "" && t.Type != "custom" {
			if t.Type == "web_search" || strings.HasPrefix(t.Type, "web_search") {
				continue // superseded by the unconditional upstream web_search tool
			}
			if mapped, ok := mapBuiltin(t.Type); ok {
				out = append(out, mapped)
				continue
			}
			logger.Warn("unknown built-in tool dropped", "type", t.Type, "name", t.Name)
			continue
		}

		var rawSchema any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &rawSchema); err != nil {
				return nil, fmt.Errorf("decode tool %q input_schema: %w", t.Name, err)
			}
		} else {
			rawSchema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		normalized := schema.Normalize(rawSchema)
		params, err := json.Marshal(normalized)
		if err != nil {
			return nil, fmt.Errorf("marshal normalized schema for tool %q: %w", t.Name, err)
		}

		out = append(out, openaiapi.Tool{
			Type: "function", Name: t.Name, Description: t.Description,
			Parameters: params, Strict: true,
		})
	}
	return out, nil
}

func mapBuiltin(typ string) (openaiapi.Tool, bool) {
	for _, b := range builtins {
		if strings.HasPrefix(typ, b.matchPrefix) {
			return b.tool, true
		}
	}
	return openaiapi.Tool{}, false
}

func convertToolChoice(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`"auto"`)
	}

	var choice struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &choice); err != nil {
		return json.RawMessage(`"auto"`)
	}

	switch choice.Type {
	case "tool":
		b, _ := json.Marshal(map[string]string{"type": "function", "name": choice.Name})
		return b
	case "any":
		return json.RawMessage(`"required"`)
	default:
		return json.RawMessage(`"auto"`)
	}
}

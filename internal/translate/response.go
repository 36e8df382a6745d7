package translate

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/Davincible/anthropic-openai-gateway/internal/anthropicapi"
	"github.com/Davincible/anthropic-openai-gateway/internal/correlation"
	"github.com/Davincible/anthropic-openai-gateway/internal/openaiapi"
)

// BuildDownstreamMessage implements C3: it maps a complete upstream
// response to a downstream message, minting fresh tool_use_ids for any
// function_call output items and returning the bindings to register in the
// correlation store (spec §4.3, §9 "tool-id minting strategy").
func BuildDownstreamMessage(model string, resp *openaiapi.Response) (anthropicapi.ResponseMessage, []correlation.Binding) {
	var textBuf strings.Builder
	var content []anthropicapi.ContentBlock
	var bindings []correlation.Binding
	toolSeen := false

	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" {
					textBuf.WriteString(part.Text)
				}
			}

		case "function_call":
			toolSeen = true
			toolUseID := "toolu_" + uuid.NewString()

			var input any
			if err := json.Unmarshal([]byte(item.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			inputJSON, _ := json.Marshal(input)

			content = append(content, anthropicapi.ContentBlock{
				Type: "tool_use", ID: toolUseID, Name: item.Name, Input: inputJSON,
			})
			bindings = append(bindings, correlation.Binding{
				CallID: item.CallID, ToolUseID: toolUseID, ToolName: item.Name,
			})
		}
	}

	if textBuf.Len() > 0 {
		content = append([]anthropicapi.ContentBlock{{Type: "text", Text: textBuf.String()}}, content...)
	}

	stopReason := "end_turn"
	if resp.Status == "incomplete" && resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason == "max_output_tokens" {
		stopReason = "max_tokens"
	} else if toolSeen {
		stopReason = "tool_use"
	}

	var usage anthropicapi.Usage
	if resp.Usage != nil {
		usage = anthropicapi.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	}

	msg := anthropicapi.ResponseMessage{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: stopReason,
		Usage:      usage,
	}
	if content == nil {
		msg.Content = []anthropicapi.ContentBlock{}
	}

	return msg, bindings
}

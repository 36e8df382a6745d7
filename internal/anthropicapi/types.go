// Package anthropicapi defines the downstream wire shapes this gateway
// exposes: the Anthropic Messages API request/response/event JSON as seen by
// clients that point their base URL at this gateway.
package anthropicapi

import "encoding/json"

// MessageCreateParams is the body of POST /v1/messages.
type MessageCreateParams struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	System      json.RawMessage `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	TopP        *float64        `json:"top_p,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// Message is one turn. Content is either a plain string or an array of
// ContentBlock — callers must inspect RawContent to tell which.
type Message struct {
	Role       string          `json:"role"`
	RawContent json.RawMessage `json:"content"`
}

// StringContent returns (text, true) if Content was a plain JSON string.
func (m Message) StringContent() (string, bool) {
	var s string
	if err := json.Unmarshal(m.RawContent, &s); err != nil {
		return "", false
	}
	return s, true
}

// BlockContent returns the content as a block array. Callers should only
// call this after StringContent reports false.
func (m Message) BlockContent() ([]ContentBlock, error) {
	var blocks []ContentBlock
	if err := json.Unmarshal(m.RawContent, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// ContentBlock is a closed union over the block kinds this gateway accepts
// on the way in: text, tool_use, tool_result, image.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource is the block's "source" object; Type is "base64" or "url".
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ToolResultText returns the tool_result content coerced to a string,
// JSON-serializing non-string content per the request translator's rule.
func (b ContentBlock) ToolResultText() (string, error) {
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s, nil
	}
	out, err := json.Marshal(json.RawMessage(b.Content))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Tool is either a client-supplied custom tool (carrying InputSchema) or a
// reference to a built-in downstream tool, discriminated by Type (empty or
// "custom" means a custom tool; anything else names a built-in such as
// "bash_20250124", "text_editor_20250124", "web_search_20250305").
type Tool struct {
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Usage mirrors the downstream usage object.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseMessage is the non-streaming response body.
type ResponseMessage struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// ErrorBody is the downstream error envelope (spec §7).
type ErrorBody struct {
	Type  string    `json:"type"`
	Error ErrorInfo `json:"error"`
}

type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// -- SSE event payloads (spec §6.3, §4.4) ------------------------------------

type MessageStartEvent struct {
	Type    string          `json:"type"`
	Message ResponseMessage `json:"message"`
}

type ContentBlockStartEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

type ContentBlockDeltaEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta Delta  `json:"delta"`
}

// Delta is a closed union: text_delta or input_json_delta.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type MessageDeltaEvent struct {
	Type  string          `json:"type"`
	Delta MessageDeltaInfo `json:"delta"`
	Usage Usage           `json:"usage"`
}

type MessageDeltaInfo struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type MessageStopEvent struct {
	Type string `json:"type"`
}

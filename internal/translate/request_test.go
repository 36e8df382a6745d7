package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/anthropic-openai-gateway/internal/anthropicapi"
	"github.com/Davincible/anthropic-openai-gateway/internal/correlation"
)

func testConfig() Config {
	return Config{UpstreamModel: "gpt-4.1", MaxOutputFloor: DefaultMaxOutputFloor}
}

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestBuildUpstreamRequest_ModelMapping(t *testing.T) {
	store := correlation.New(nil)
	conv := store.GetOrCreate("c1")

	req := anthropicapi.MessageCreateParams{
		Model:     "claude-unknown-model-name",
		MaxTokens: 100,
		Messages: []anthropicapi.Message{
			{Role: "user", RawContent: rawString("hi")},
		},
	}

	out, _, err := BuildUpstreamRequest(req, conv, testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", out.Model)
}

func TestBuildUpstreamRequest_MaxTokensFloor(t *testing.T) {
	store := correlation.New(nil)
	conv := store.GetOrCreate("c1")
	req := anthropicapi.MessageCreateParams{MaxTokens: 10, Messages: []anthropicapi.Message{{Role: "user", RawContent: rawString("hi")}}}

	out, _, err := BuildUpstreamRequest(req, conv, testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxOutputFloor, out.MaxOutputTokens)
}

func TestBuildUpstreamRequest_StringContentRoundTripsText(t *testing.T) {
	store := correlation.New(nil)
	conv := store.GetOrCreate("c1")
	req := anthropicapi.MessageCreateParams{
		MaxTokens: 100,
		Messages:  []anthropicapi.Message{{Role: "user", RawContent: rawString("Hello, world!")}},
	}

	out, _, err := BuildUpstreamRequest(req, conv, testConfig(), nil)
	require.NoError(t, err)
	require.Len(t, out.Input, 1)
	assert.Equal(t, "user", out.Input[0].Role)
	require.Len(t, out.Input[0].Content, 1)
	assert.Equal(t, "Hello, world!", out.Input[0].Content[0].Text)
}

func blockContent(t *testing.T, blocks []anthropicapi.ContentBlock) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(blocks)
	require.NoError(t, err)
	return b
}

func TestBuildUpstreamRequest_ToolUseMintsCallIDAndRecordsBinding(t *testing.T) {
	store := correlation.New(nil)
	conv := store.GetOrCreate("c1")

	req := anthropicapi.MessageCreateParams{
		MaxTokens: 100,
		Messages: []anthropicapi.Message{
			{Role: "assistant", RawContent: blockContent(t, []anthropicapi.ContentBlock{
				{Type: "tool_use", ID: "toolu_abc", Name: "calc", Input: json.RawMessage(`{"x":1}`)},
			})},
		},
	}

	out, bindings, err := BuildUpstreamRequest(req, conv, testConfig(), nil)
	require.NoError(t, err)

	// the lone function_call with no matching output gets post-filtered out
	assert.Len(t, out.Input, 0)
	require.Len(t, bindings, 1)
	assert.Equal(t, "toolu_abc", bindings[0].ToolUseID)
	assert.Equal(t, "calc", bindings[0].ToolName)
}

func TestBuildUpstreamRequest_PostFilter_PairedCallSurvives(t *testing.T) {
	store := correlation.New(nil)
	conv := store.GetOrCreate("c1")
	store.Update("c1", "", []correlation.Binding{{CallID: "c1call", ToolUseID: "toolu_abc", ToolName: "calc"}})

	req := anthropicapi.MessageCreateParams{
		MaxTokens: 100,
		Messages: []anthropicapi.Message{
			{Role: "assistant", RawContent: blockContent(t, []anthropicapi.ContentBlock{
				{Type: "tool_use", ID: "toolu_abc", Name: "calc", Input: json.RawMessage(`{"x":1}`)},
			})},
			{Role: "user", RawContent: blockContent(t, []anthropicapi.ContentBlock{
				{Type: "tool_result", ToolUseID: "toolu_abc", Content: rawString("3")},
			})},
		},
	}

	out, _, err := BuildUpstreamRequest(req, conv, testConfig(), nil)
	require.NoError(t, err)

	var types []string
	for _, it := range out.Input {
		types = append(types, it.Type)
	}
	assert.Equal(t, []string{"function_call", "function_call_output"}, types)
	assert.Equal(t, "c1call", out.Input[0].CallID)
	assert.Equal(t, "c1call", out.Input[1].CallID)
	assert.Equal(t, "3", out.Input[1].Output)
}

func TestBuildUpstreamRequest_ScenarioC_ToolResultOnly(t *testing.T) {
	store := correlation.New(nil)
	conv := store.GetOrCreate("c1")
	store.Update("c1", "resp_1", []correlation.Binding{{CallID: "c1", ToolUseID: "f1", ToolName: "calc"}})

	req := anthropicapi.MessageCreateParams{
		MaxTokens: 100,
		Messages: []anthropicapi.Message{
			{Role: "user", RawContent: blockContent(t, []anthropicapi.ContentBlock{
				{Type: "tool_result", ToolUseID: "f1", Content: rawString("3")},
			})},
		},
	}

	out, _, err := BuildUpstreamRequest(req, conv, testConfig(), nil)
	require.NoError(t, err)
	require.Len(t, out.Input, 1)
	assert.Equal(t, "function_call_output", out.Input[0].Type)
	assert.Equal(t, "c1", out.Input[0].CallID)
	assert.Equal(t, "resp_1", out.PreviousResponseID)
}

func TestBuildUpstreamRequest_ImageBase64(t *testing.T) {
	store := correlation.New(nil)
	conv := store.GetOrCreate("c1")
	req := anthropicapi.MessageCreateParams{
		MaxTokens: 100,
		Messages: []anthropicapi.Message{
			{Role: "user", RawContent: blockContent(t, []anthropicapi.ContentBlock{
				{Type: "image", Source: &anthropicapi.ImageSource{Type: "base64", MediaType: "image/png", Data: "AAAA"}},
			})},
		},
	}

	out, _, err := BuildUpstreamRequest(req, conv, testConfig(), nil)
	require.NoError(t, err)
	require.Len(t, out.Input, 1)
	assert.Equal(t, "data:image/png;base64,AAAA", out.Input[0].Content[0].ImageURL)
}

func TestBuildUpstreamRequest_ImageUnsupportedSource(t *testing.T) {
	store := correlation.New(nil)
	conv := store.GetOrCreate("c1")
	req := anthropicapi.MessageCreateParams{
		MaxTokens: 100,
		Messages: []anthropicapi.Message{
			{Role: "user", RawContent: blockContent(t, []anthropicapi.ContentBlock{
				{Type: "image", Source: &anthropicapi.ImageSource{Type: "file_id"}},
			})},
		},
	}

	_, _, err := BuildUpstreamRequest(req, conv, testConfig(), nil)
	require.Error(t, err)
	var unsupported *UnsupportedImageError
	assert.ErrorAs(t, err, &unsupported)
}

func TestBuildUpstreamRequest_ToolChoice(t *testing.T) {
	store := correlation.New(nil)

	cases := []struct {
		name  string
		raw   json.RawMessage
		want  string
	}{
		{"missing", nil, `"auto"`},
		{"any", json.RawMessage(`{"type":"any"}`), `"required"`},
		{"specific_tool", json.RawMessage(`{"type":"tool","name":"calc"}`), `{"name":"calc","type":"function"}`},
		{"auto", json.RawMessage(`{"type":"auto"}`), `"auto"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv := store.GetOrCreate(tc.name)
			req := anthropicapi.MessageCreateParams{
				MaxTokens:  10,
				ToolChoice: tc.raw,
				Messages:   []anthropicapi.Message{{Role: "user", RawContent: rawString("hi")}},
			}
			out, _, err := BuildUpstreamRequest(req, conv, testConfig(), nil)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(out.ToolChoice))
		})
	}
}

func TestBuildUpstreamRequest_ClientToolGetsNormalizedStrictSchema(t *testing.T) {
	store := correlation.New(nil)
	conv := store.GetOrCreate("c1")
	req := anthropicapi.MessageCreateParams{
		MaxTokens: 10,
		Messages:  []anthropicapi.Message{{Role: "user", RawContent: rawString("hi")}},
		Tools: []anthropicapi.Tool{
			{Name: "search", InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string","format":"uri"}}}`)},
		},
	}

	out, _, err := BuildUpstreamRequest(req, conv, testConfig(), nil)
	require.NoError(t, err)

	require.Len(t, out.Tools, 2) // the client tool plus the unconditional web_search
	assert.Equal(t, "search", out.Tools[0].Name)
	assert.True(t, out.Tools[0].Strict)

	var params map[string]any
	require.NoError(t, json.Unmarshal(out.Tools[0].Parameters, &params))
	assert.Equal(t, false, params["additionalProperties"])

	assert.Equal(t, "web_search", out.Tools[1].Type)
}

// Package upstream calls the OpenAI Responses API, the one external
// collaborator this gateway talks to. Its streaming-body handling (content
// decompression, line-oriented SSE scanning) is grounded directly on the
// teacher's ProxyHandler.handleStreamingResponse / decompressReader in
// internal/handlers/proxy.go.
package upstream

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/Davincible/anthropic-openai-gateway/internal/openaiapi"
)

const defaultBaseURL = "https://api.openai.com/v1/responses"

// Error wraps a non-2xx upstream HTTP response so handlers can propagate
// its status and body verbatim (spec §7: "status preserved when present").
type Error struct {
	StatusCode int
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, bytes.TrimSpace(e.Body))
}

// Client calls the upstream Responses API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New builds a Client. baseURL defaults to the production Responses API
// endpoint; overriding it is useful for tests.
func New(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 0},
	}
}

// WithBaseURL returns a copy of the client pointed at a different endpoint.
func (c *Client) WithBaseURL(url string) *Client {
	clone := *c
	clone.baseURL = url
	return &clone
}

func (c *Client) do(ctx context.Context, req *openaiapi.CreateResponseRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// CreateNonStreaming performs a single request/response round-trip.
func (c *Client) CreateNonStreaming(ctx context.Context, req *openaiapi.CreateResponseRequest) (*openaiapi.Response, error) {
	req.Stream = false

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompress(resp)
	if err != nil {
		return nil, fmt.Errorf("decompress upstream response: %w", err)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{StatusCode: resp.StatusCode, Body: data}
	}

	var out openaiapi.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal upstream response: %w", err)
	}
	return &out, nil
}

// EventStream iterates the SSE frames of a streaming Responses-API call.
type EventStream struct {
	resp    *http.Response
	body    io.Reader
	closer  io.Closer
	scanner *bufio.Scanner
}

// CreateStreaming opens a streaming Responses-API call and returns an
// iterator over its events. Callers must Close it.
func (c *Client) CreateStreaming(ctx context.Context, req *openaiapi.CreateResponseRequest) (*EventStream, error) {
	req.Stream = true

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	reader, err := decompress(resp)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("decompress upstream stream: %w", err)
	}

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(reader)
		resp.Body.Close()
		return nil, &Error{StatusCode: resp.StatusCode, Body: data}
	}

	return &EventStream{
		resp:    resp,
		body:    reader,
		closer:  resp.Body,
		scanner: bufio.NewScanner(reader),
	}, nil
}

// Next returns the next upstream event. ok is false once the stream ends
// ([DONE] sentinel or EOF) with a nil error.
func (es *EventStream) Next() (ev openaiapi.StreamEvent, ok bool, err error) {
	for es.scanner.Scan() {
		line := strings.TrimSpace(es.scanner.Text())

		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		if line == "data: [DONE]" {
			return openaiapi.StreamEvent{}, false, nil
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var parsed openaiapi.StreamEvent
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			return openaiapi.StreamEvent{}, false, fmt.Errorf("unmarshal upstream event: %w", err)
		}
		return parsed, true, nil
	}

	if err := es.scanner.Err(); err != nil {
		return openaiapi.StreamEvent{}, false, fmt.Errorf("read upstream stream: %w", err)
	}
	return openaiapi.StreamEvent{}, false, nil
}

// Close releases the underlying HTTP response body.
func (es *EventStream) Close() error {
	return es.closer.Close()
}

func decompress(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// Ping performs a minimal non-streaming round-trip against model, used by
// GET /test-connection (spec §6.2, SPEC_FULL.md supplement #1).
func (c *Client) Ping(ctx context.Context, model string) (time.Duration, *openaiapi.Response, error) {
	start := time.Now()
	resp, err := c.CreateNonStreaming(ctx, &openaiapi.CreateResponseRequest{
		Model: model,
		Input: []openaiapi.InputItem{{
			Type: "message", Role: "user",
			Content: []openaiapi.InputContentPart{{Type: "input_text", Text: "ping"}},
		}},
		MaxOutputTokens: 16,
	})
	return time.Since(start), resp, err
}

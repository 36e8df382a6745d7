package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/anthropic-openai-gateway/internal/openaiapi"
)

func TestCreateNonStreaming_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"resp_1","status":"completed","output":[]}`)
	}))
	defer srv.Close()

	c := New("sk-test").WithBaseURL(srv.URL)
	resp, err := c.CreateNonStreaming(context.Background(), &openaiapi.CreateResponseRequest{Model: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "resp_1", resp.ID)
}

func TestCreateNonStreaming_UpstreamErrorPropagatesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	c := New("sk-test").WithBaseURL(srv.URL)
	_, err := c.CreateNonStreaming(context.Background(), &openaiapi.CreateResponseRequest{Model: "gpt-4.1"})
	require.Error(t, err)

	var upstreamErr *Error
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusTooManyRequests, upstreamErr.StatusCode)
}

func TestCreateStreaming_ParsesEventsAndStopsAtDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: response.created\ndata: {\"type\":\"response.created\",\"response\":{\"id\":\"resp_1\"}}\n\n")
		fmt.Fprint(w, "event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\"Hi\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New("sk-test").WithBaseURL(srv.URL)
	stream, err := c.CreateStreaming(context.Background(), &openaiapi.CreateResponseRequest{Model: "gpt-4.1"})
	require.NoError(t, err)
	defer stream.Close()

	var types []string
	for {
		ev, ok, err := stream.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		types = append(types, ev.Type)
	}

	assert.Equal(t, []string{"response.created", "response.output_text.delta"}, types)
}

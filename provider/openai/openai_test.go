package openai_provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Options{APIKey: "sk-test", BaseURL: server.URL + "/v1", Timeout: 5 * time.Second, Dimensions: 2})
}

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id": "c1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(body)
}

type tripSummary struct {
	SessionName string   `json:"session_name"`
	Tags        []string `json:"tags"`
}

func TestGenerateStructuredDecodesTarget(t *testing.T) {
	var sent map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &sent))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completion("```json\n{\"session_name\": \"Rome in spring\", \"tags\": [\"rome\", \"hotels\"]}\n```"))
	})

	var out tripSummary
	err := client.GenerateStructured(context.Background(), core.StructuredRequest{
		Model:      "gpt-4o-mini",
		System:     "summarize",
		Prompt:     "history",
		SchemaName: "session_summary",
		Target:     &out,
	})
	require.NoError(t, err)
	require.Equal(t, tripSummary{SessionName: "Rome in spring", Tags: []string{"rome", "hotels"}}, out)

	format := sent["response_format"].(map[string]any)
	require.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]any)
	require.Equal(t, "session_summary", schema["name"])
	require.Equal(t, true, schema["strict"])
}

func TestGenerateStructuredRejectsOutputOutsideSchema(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completion(`{"session_name": "Rome"}`))
	})

	var out tripSummary
	err := client.GenerateStructured(context.Background(), core.StructuredRequest{Model: "m", Prompt: "p", Target: &out})
	require.ErrorContains(t, err, "decode structured output")
}

func TestGenerateStructuredAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad schema","type":"invalid_request_error"}}`)
	})

	var out tripSummary
	err := client.GenerateStructured(context.Background(), core.StructuredRequest{Model: "m", Prompt: "p", Target: &out})
	require.ErrorContains(t, err, "bad schema")
}

func TestEmbedOrdersVectorsByIndex(t *testing.T) {
	var sent map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &sent))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","model":"text-embedding-3-small","data":[`+
			`{"object":"embedding","index":1,"embedding":[0.3,0.4]},`+
			`{"object":"embedding","index":0,"embedding":[0.1,0.2]}]}`)
	})

	vecs, err := client.Embed(context.Background(), "text-embedding-3-small", []string{"paris", "rome"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vecs)
	require.EqualValues(t, 2, sent["dimensions"])
}

func TestEmbedMissingVector(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2]}]}`)
	})

	_, err := client.Embed(context.Background(), "m", []string{"paris", "rome"})
	require.ErrorContains(t, err, "missing vector for input 1")
}

func TestStreamSplitsReasoningAndContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunk := func(delta string) {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":%s}]}\n\n", delta)
		}
		chunk(`{"role":"assistant","reasoning_content":"compare carriers"}`)
		chunk(`{"content":"AF 006 "}`)
		chunk(`{"content":"at 320 EUR"}`)
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var got []core.StreamChunk
	text, err := client.Stream(context.Background(), core.StreamRequest{
		Model:    "m",
		Messages: []core.Message{{Role: "user", Content: "PAR to NYC"}},
	}, func(c core.StreamChunk) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "AF 006 at 320 EUR", text)
	require.Equal(t, []core.StreamChunk{
		{Thinking: "compare carriers"},
		{Text: "AF 006 "},
		{Text: "at 320 EUR"},
	}, got)
}

func TestToMessagesSendsImageParts(t *testing.T) {
	msgs := toMessages("sys", []core.Message{{Content: "where is this?", Images: []string{"https://x/duomo.jpg"}}})
	require.Len(t, msgs, 2)
	require.Equal(t, "sys", msgs[0].Content)
	require.Empty(t, msgs[1].Content)
	require.Len(t, msgs[1].MultiContent, 2)
	require.Equal(t, "where is this?", msgs[1].MultiContent[0].Text)
	require.Equal(t, "https://x/duomo.jpg", msgs[1].MultiContent[1].ImageURL.URL)
	require.Equal(t, "user", msgs[1].Role)
}

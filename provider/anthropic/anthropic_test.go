package anthropic_provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
	"github.com/stretchr/testify/require"
)

func sse(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func TestStreamAccumulatesThinkingAlongsideText(t *testing.T) {
	var sent map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &sent))
		w.Header().Set("Content-Type", "text/event-stream")
		sse(w, "message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`)
		sse(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`)
		sse(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Compare "}}`)
		sse(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"carriers."}}`)
		sse(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig"}}`)
		sse(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		sse(w, "content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`)
		sse(w, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"AF 006 "}}`)
		sse(w, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"at 320 EUR"}}`)
		sse(w, "content_block_stop", `{"type":"content_block_stop","index":1}`)
		sse(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":20}}`)
		sse(w, "message_stop", `{"type":"message_stop"}`)
	}))
	defer server.Close()

	client := New("sk-ant-test", server.URL, 5*time.Second)
	var got []core.StreamChunk
	text, err := client.Stream(context.Background(), core.StreamRequest{
		Model:          "claude-sonnet-4-5",
		System:         "be brief",
		Messages:       []core.Message{{Role: "user", Content: "PAR to NYC"}},
		MaxTokens:      4096,
		ThinkingBudget: 2048,
	}, func(c core.StreamChunk) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "AF 006 at 320 EUR", text)
	require.Equal(t, []core.StreamChunk{
		{Thinking: "Compare "},
		{Thinking: "carriers."},
		{Text: "AF 006 "},
		{Text: "at 320 EUR"},
	}, got)

	thinking := sent["thinking"].(map[string]any)
	require.Equal(t, "enabled", thinking["type"])
	require.EqualValues(t, 2048, thinking["budget_tokens"])
	require.Equal(t, true, sent["stream"])
}

func TestStreamStopsWhenCallbackFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sse(w, "message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"usage":{"input_tokens":1,"output_tokens":1}}}`)
		sse(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
		sse(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`)
		sse(w, "message_stop", `{"type":"message_stop"}`)
	}))
	defer server.Close()

	client := New("sk-ant-test", server.URL, 5*time.Second)
	_, err := client.Stream(context.Background(), core.StreamRequest{Model: "m", Messages: []core.Message{{Content: "hi"}}},
		func(core.StreamChunk) error { return fmt.Errorf("client gone") })
	require.ErrorContains(t, err, "client gone")
}

func TestCompleteJoinsTextBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"m","stop_reason":"end_turn","stop_sequence":null,`+
			`"content":[{"type":"thinking","thinking":"hmm","signature":"s"},{"type":"text","text":"AF 006"}],`+
			`"usage":{"input_tokens":1,"output_tokens":2}}`)
	}))
	defer server.Close()

	client := New("sk-ant-test", server.URL, 5*time.Second)
	out, err := client.Complete(context.Background(), core.CompletionRequest{Model: "m", Messages: []core.Message{{Role: "user", Content: "q"}}})
	require.NoError(t, err)
	require.Equal(t, "AF 006", out)
}

func TestBuildParamsSendsImagesBeforeText(t *testing.T) {
	params := buildParams("m", "sys", []core.Message{
		{Role: "user", Content: "where is this?", Images: []string{"https://x/duomo.jpg"}},
		{Role: "assistant", Content: "Milan."},
	}, 0)
	require.EqualValues(t, 4096, params.MaxTokens)

	raw, err := json.Marshal(params.Messages)
	require.NoError(t, err)
	body := string(raw)
	require.Contains(t, body, `"url":"https://x/duomo.jpg"`)
	require.Less(t, strings.Index(body, `"type":"image"`), strings.Index(body, `"where is this?"`))
	require.Contains(t, body, `"role":"assistant"`)
}

package capability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
)

type recordingSink struct {
	events []string
}

func (s *recordingSink) Reasoning(text string) error {
	s.events = append(s.events, "reasoning:"+text)
	return nil
}

func (s *recordingSink) Content(text string) error {
	s.events = append(s.events, "content:"+text)
	return nil
}

func (s *recordingSink) ToolStarted(call ToolCall) error {
	s.events = append(s.events, fmt.Sprintf("tool_started:%s:%v", call.Name, call.Args["query"]))
	return nil
}

func (s *recordingSink) ToolCompleted(call ToolCall, result string, callErr error) error {
	s.events = append(s.events, fmt.Sprintf("tool_completed:%s:%t", call.Name, callErr == nil))
	return nil
}

type stubStreamer struct {
	req    core.StreamRequest
	chunks []core.StreamChunk
	err    error
}

func (s *stubStreamer) Stream(_ context.Context, req core.StreamRequest, onChunk func(core.StreamChunk) error) (string, error) {
	s.req = req
	var b strings.Builder
	for _, c := range s.chunks {
		if err := onChunk(c); err != nil {
			return "", err
		}
		b.WriteString(c.Text)
	}
	if s.err != nil {
		return "", s.err
	}
	return b.String(), nil
}

func TestRegistryRequiresDefault(t *testing.T) {
	flights := NewLLM(LLMOptions{Descriptor: Descriptor{Name: "flights"}})
	if _, err := NewRegistry([]Capability{flights}, "news"); !errors.Is(err, ErrCapabilityMissing) {
		t.Fatalf("expected ErrCapabilityMissing, got %v", err)
	}
	if _, err := NewRegistry([]Capability{flights, flights}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	reg, err := NewRegistry([]Capability{flights, NewLLM(LLMOptions{Descriptor: Descriptor{Name: "news"}})}, "news")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if d := reg.Descriptors(); len(d) != 2 || d[0].Name != "flights" {
		t.Fatalf("unexpected descriptors %+v", d)
	}
	if _, ok := reg.Get("maps"); ok {
		t.Fatalf("unexpected capability")
	}
}

func TestLLMInvokeStreamsInOrder(t *testing.T) {
	streamer := &stubStreamer{chunks: []core.StreamChunk{{Thinking: "check fares"}, {Text: "AF 006 "}, {Text: "at 320 EUR"}}}
	c := NewLLM(LLMOptions{Descriptor: Descriptor{Name: "flights"}, Streamer: streamer, Model: "m", MaxTokens: 100, ThinkingBudget: 2048})
	sink := &recordingSink{}

	out, err := c.Invoke(context.Background(), Request{Instructions: "be brief", Query: "PAR to NYC"}, sink)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "AF 006 at 320 EUR" {
		t.Fatalf("unexpected answer %q", out)
	}
	want := []string{"reasoning:check fares", "content:AF 006 ", "content:at 320 EUR"}
	if strings.Join(sink.events, "|") != strings.Join(want, "|") {
		t.Fatalf("events = %v", sink.events)
	}
	if streamer.req.System != "be brief" || streamer.req.ThinkingBudget != 2048 || streamer.req.Messages[0].Content != "PAR to NYC" {
		t.Fatalf("unexpected stream request %+v", streamer.req)
	}
}

func TestLLMInvokeForwardsImages(t *testing.T) {
	streamer := &stubStreamer{chunks: []core.StreamChunk{{Text: "That is the Duomo."}}}
	c := NewLLM(LLMOptions{Descriptor: Descriptor{Name: "sights"}, Streamer: streamer, Model: "m"})

	_, err := c.Invoke(context.Background(), Request{Query: "where is this?", Images: []string{"https://x/duomo.jpg"}}, &recordingSink{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	msg := streamer.req.Messages[0]
	if msg.Content != "where is this?" || len(msg.Images) != 1 || msg.Images[0] != "https://x/duomo.jpg" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestLLMInvokeCallsToolFirst(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotKey = r.Header.Get("X-Api-Key")
		_, _ = w.Write([]byte(`{"flights":[{"code":"AF006","price":320}]}`))
	}))
	defer srv.Close()

	streamer := &stubStreamer{chunks: []core.StreamChunk{{Text: "AF006 is cheapest"}}}
	tool := NewHTTPTool("flight_search", srv.URL+"/search?currency=EUR", "query", map[string]string{"X-Api-Key": "k"}, time.Second)
	c := NewLLM(LLMOptions{Descriptor: Descriptor{Name: "flights"}, Streamer: streamer, Tool: tool})
	sink := &recordingSink{}

	if _, err := c.Invoke(context.Background(), Request{Query: "PAR NYC"}, sink); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if gotQuery != "PAR NYC" || gotKey != "k" {
		t.Fatalf("tool got query=%q key=%q", gotQuery, gotKey)
	}
	if sink.events[0] != "tool_started:flight_search:PAR NYC" || sink.events[1] != "tool_completed:flight_search:true" {
		t.Fatalf("unexpected events %v", sink.events)
	}
	if !strings.Contains(streamer.req.Messages[0].Content, `"price":320`) {
		t.Fatalf("tool result not passed to the model: %q", streamer.req.Messages[0].Content)
	}
}

func TestLLMInvokeRecoversFromToolFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	streamer := &stubStreamer{chunks: []core.StreamChunk{{Text: "live data unavailable"}}}
	c := NewLLM(LLMOptions{
		Descriptor: Descriptor{Name: "flights"},
		Streamer:   streamer,
		Tool:       NewHTTPTool("flight_search", srv.URL, "", nil, time.Second),
	})
	sink := &recordingSink{}
	if _, err := c.Invoke(context.Background(), Request{Query: "PAR NYC"}, sink); err != nil {
		t.Fatalf("tool failure must not abort the run: %v", err)
	}
	if sink.events[1] != "tool_completed:flight_search:false" {
		t.Fatalf("expected failed tool notice, got %v", sink.events)
	}
	if !strings.Contains(streamer.req.Messages[0].Content, "status 429") {
		t.Fatalf("failure should be described to the model: %q", streamer.req.Messages[0].Content)
	}
}

func TestLLMInvokePropagatesStreamError(t *testing.T) {
	c := NewLLM(LLMOptions{Descriptor: Descriptor{Name: "news"}, Streamer: &stubStreamer{err: errors.New("overloaded")}})
	if _, err := c.Invoke(context.Background(), Request{Query: "headlines"}, &recordingSink{}); err == nil {
		t.Fatalf("expected stream error")
	}
}

func TestHTTPToolRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"fares":[]}`))
	}))
	defer srv.Close()

	tool := NewHTTPTool("fares", srv.URL, "", nil, time.Second)
	tool.Retries = 2
	tool.Backoff = time.Millisecond
	out, err := tool.Call(context.Background(), "LIS")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != `{"fares":[]}` || calls != 2 {
		t.Fatalf("out=%q calls=%d", out, calls)
	}
}

func TestHTTPToolDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer srv.Close()

	tool := NewHTTPTool("fares", srv.URL, "", nil, time.Second)
	tool.Retries = 3
	tool.Backoff = time.Millisecond
	if _, err := tool.Call(context.Background(), "LIS"); err == nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestHTTPToolStripsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<div><b>Museum</b> opens 9&amp;10</div><script>x()</script>`))
	}))
	defer srv.Close()

	out, err := NewHTTPTool("visits", srv.URL, "", nil, time.Second).Call(context.Background(), "louvre")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "Museum opens 9&10" {
		t.Fatalf("got %q", out)
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/waypoint/config"
	"github.com/mohammad-safakhou/waypoint/internal/aggregator"
	"github.com/mohammad-safakhou/waypoint/internal/chat"
	"github.com/mohammad-safakhou/waypoint/internal/memory/episodic"
	"github.com/mohammad-safakhou/waypoint/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type stubChat struct {
	events []aggregator.Event
	gotReq chat.Request
	ctxErr error
}

func (s *stubChat) Process(ctx context.Context, req chat.Request) <-chan aggregator.Event {
	s.gotReq = req
	s.ctxErr = ctx.Err()
	out := make(chan aggregator.Event, len(s.events))
	for _, ev := range s.events {
		out <- ev
	}
	close(out)
	return out
}

type stubSummarizer struct {
	summary episodic.Summary
	err     error
}

func (s *stubSummarizer) Update(ctx context.Context, userID, sessionID string) (episodic.Summary, error) {
	return s.summary, s.err
}

type stubUsers struct {
	got store.User
	err error
}

func (s *stubUsers) CreateUser(ctx context.Context, u store.User) error {
	s.got = u
	return s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestServer(d Deps) *echo.Echo {
	d.General = config.GeneralConfig{ServiceName: "waypoint", Version: "test"}
	return New(d)
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func parseFrames(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		if !strings.HasPrefix(chunk, "data: ") {
			t.Fatalf("frame without data prefix: %q", chunk)
		}
		var f map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &f); err != nil {
			t.Fatalf("decode frame %q: %v", chunk, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestChatStreamsFramesInOrder(t *testing.T) {
	reasoning := "thought"
	svc := &stubChat{events: []aggregator.Event{
		aggregator.Reasoning{Content: "Agent Tool: flights"},
		aggregator.Response{Content: "Book the 9am flight."},
		chat.Final{Data: chat.FinalData{
			Success:           true,
			SessionID:         "s1",
			UserMessage:       chat.UserMessage{SequenceID: 1, TextContent: "flights to Rome"},
			AssistantResponse: chat.AssistantResponse{SequenceID: 2, TextContent: "Book the 9am flight.", ReasoningContent: &reasoning},
			Persistence:       chat.Persistence{SavedToDB: true, WorkingMemoryUpdated: true},
		}},
	}}
	e := newTestServer(Deps{Chat: svc})

	rec := do(e, http.MethodPost, "/chat", `{"user_id":"u1","session_id":"s1","message":"  flights to Rome "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	if svc.gotReq.Message != "flights to Rome" {
		t.Fatalf("message not normalized: %q", svc.gotReq.Message)
	}

	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	wantTypes := []string{"reasoning", "response", "end"}
	taskID := frames[0]["task_id"]
	for i, f := range frames {
		if f["type"] != wantTypes[i] {
			t.Fatalf("frame %d type %v", i, f["type"])
		}
		if f["sequence"] != float64(i+1) {
			t.Fatalf("frame %d sequence %v", i, f["sequence"])
		}
		if f["task_id"] != taskID || taskID == "" {
			t.Fatalf("frame %d task id %v", i, f["task_id"])
		}
	}
	if frames[2]["content"] != streamCompleted {
		t.Fatalf("end content %v", frames[2]["content"])
	}
	final, ok := frames[2]["final_data"].(map[string]interface{})
	if !ok || final["session_id"] != "s1" || final["success"] != true {
		t.Fatalf("final_data %v", frames[2]["final_data"])
	}
	if _, ok := frames[0]["final_data"]; ok {
		t.Fatalf("reasoning frame must not carry final_data")
	}
}

func TestChatGeneratesIdsWhenAbsent(t *testing.T) {
	svc := &stubChat{}
	e := newTestServer(Deps{Chat: svc})
	rec := do(e, http.MethodPost, "/chat", `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if _, err := uuid.Parse(svc.gotReq.UserID); err != nil {
		t.Fatalf("user id %q: %v", svc.gotReq.UserID, err)
	}
	if _, err := uuid.Parse(svc.gotReq.SessionID); err != nil {
		t.Fatalf("session id %q: %v", svc.gotReq.SessionID, err)
	}
}

func TestChatErrorFrame(t *testing.T) {
	svc := &stubChat{events: []aggregator.Event{
		chat.Failed{Message: "capability travel: timed out", Data: chat.ErrorData{Error: "capability travel: timed out", SessionID: "s1"}},
	}}
	e := newTestServer(Deps{Chat: svc})
	rec := do(e, http.MethodPost, "/chat", `{"session_id":"s1","message":"hi"}`)
	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 1 || frames[0]["type"] != "error" {
		t.Fatalf("frames %v", frames)
	}
	if frames[0]["content"] != "Error: capability travel: timed out" {
		t.Fatalf("content %v", frames[0]["content"])
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	e := newTestServer(Deps{Chat: &stubChat{}})
	rec := do(e, http.MethodPost, "/chat", `{"message":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("body %s", rec.Body.String())
	}
}

func TestChatDetachedIgnoresClientCancel(t *testing.T) {
	for _, detached := range []bool{true, false} {
		svc := &stubChat{}
		e := New(Deps{Chat: svc, Server: config.ServerConfig{RunDetached: detached}})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`)).WithContext(ctx)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		e.ServeHTTP(httptest.NewRecorder(), req)

		if detached && svc.ctxErr != nil {
			t.Fatalf("detached run saw %v", svc.ctxErr)
		}
		if !detached && svc.ctxErr == nil {
			t.Fatalf("attached run should see the client cancel")
		}
	}
}

func TestSessionUpdate(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		want   string
	}{
		{name: "ok", body: `{"user_id":"u1","session_id":"s1"}`, status: http.StatusOK, want: `"session_name":"Rome weekend"`},
		{name: "missing ids", body: `{"user_id":"u1"}`, status: http.StatusBadRequest},
		{name: "in progress", body: `{"user_id":"u1","session_id":"s1"}`, err: episodic.ErrSummaryInProgress, status: http.StatusConflict},
		{name: "no history", body: `{"user_id":"u1","session_id":"s1"}`, err: episodic.ErrNoHistory, status: http.StatusNotFound},
		{name: "failure", body: `{"user_id":"u1","session_id":"s1"}`, err: errors.New("llm down"), status: http.StatusInternalServerError, want: sessionUpdateFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sum := &stubSummarizer{summary: episodic.Summary{SessionName: "Rome weekend", SessionTags: []string{"rome"}}, err: tc.err}
			e := newTestServer(Deps{Sessions: sum})
			rec := do(e, http.MethodPost, "/sessions/update", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
			if tc.want != "" && !strings.Contains(rec.Body.String(), tc.want) {
				t.Fatalf("body %s missing %s", rec.Body.String(), tc.want)
			}
		})
	}
}

func TestRegisterUser(t *testing.T) {
	users := &stubUsers{}
	e := newTestServer(Deps{Users: users})
	rec := do(e, http.MethodPost, "/users", `{"user_name":"ana","user_email":"ana@example.com","password":"s3cret","ph_no":"+3912"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "User Registered Successfully!") {
		t.Fatalf("body %s", rec.Body.String())
	}
	if _, err := uuid.Parse(users.got.UserID); err != nil {
		t.Fatalf("generated user id %q", users.got.UserID)
	}
	if !users.got.IsActive || users.got.Timezone != "UTC" || users.got.PhoneNumber != "+3912" {
		t.Fatalf("defaults not applied: %+v", users.got)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(users.got.PasswordHash), []byte("s3cret")); err != nil {
		t.Fatalf("password not hashed with bcrypt: %v", err)
	}
}

func TestRegisterUserErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "duplicate", body: `{"user_name":"a","user_email":"a@x.io","password":"p"}`, err: store.ErrUserExists, status: http.StatusConflict},
		{name: "db failure", body: `{"user_name":"a","user_email":"a@x.io","password":"p"}`, err: errors.New("connection reset"), status: http.StatusInternalServerError},
		{name: "missing password", body: `{"user_name":"a","user_email":"a@x.io"}`, status: http.StatusBadRequest},
		{name: "bad user id", body: `{"user_id":"nope","user_name":"a","user_email":"a@x.io","password":"p"}`, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestServer(Deps{Users: &stubUsers{err: tc.err}})
			rec := do(e, http.MethodPost, "/users", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHealth(t *testing.T) {
	for _, tc := range []struct {
		db   Pinger
		want string
	}{
		{db: stubPinger{}, want: "connected"},
		{db: stubPinger{err: errors.New("down")}, want: "unavailable"},
		{db: nil, want: "unconfigured"},
	} {
		e := newTestServer(Deps{Database: tc.db})
		rec := do(e, http.MethodGet, "/health", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d", rec.Code)
		}
		var body struct {
			Status     string            `json:"status"`
			Service    string            `json:"service"`
			Timestamp  string            `json:"timestamp"`
			Components map[string]string `json:"components"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Status != "healthy" || body.Service != "waypoint" {
			t.Fatalf("body %+v", body)
		}
		if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
			t.Fatalf("timestamp %q", body.Timestamp)
		}
		if body.Components["database"] != tc.want {
			t.Fatalf("database %q, want %q", body.Components["database"], tc.want)
		}
	}
}

func TestPanicsBecomeStructuredErrors(t *testing.T) {
	e := newTestServer(Deps{Sessions: panicSummarizer{}})
	rec := do(e, http.MethodPost, "/sessions/update", `{"user_id":"u1","session_id":"s1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("body %s", rec.Body.String())
	}
}

type panicSummarizer struct{}

func (panicSummarizer) Update(context.Context, string, string) (episodic.Summary, error) {
	panic("boom")
}

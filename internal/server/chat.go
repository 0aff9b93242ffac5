package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/waypoint/internal/aggregator"
	"github.com/mohammad-safakhou/waypoint/internal/chat"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var chatTracer = otel.Tracer("waypoint/server/chat")

const streamCompleted = "Stream completed successfully"

// ChatHandler streams chat exchanges as server-sent events.
type ChatHandler struct {
	Service ChatProcessor
	// Timeout bounds the whole exchange; zero leaves it to the per-call timeouts.
	Timeout time.Duration
	// Detached runs survive a client disconnect so the exchange is still persisted.
	Detached bool

	logger *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
}

// chatFrame is one SSE data payload.
type chatFrame struct {
	Type      aggregator.Kind `json:"type"`
	Content   string          `json:"content"`
	Sequence  int             `json:"sequence"`
	TaskID    string          `json:"task_id"`
	FinalData interface{}     `json:"final_data,omitempty"`
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Normalize(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	taskID := uuid.NewString()
	ctx, span := chatTracer.Start(c.Request().Context(), "ChatHandler.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("task_id", taskID),
		attribute.String("user_id", req.UserID),
		attribute.String("session_id", req.SessionID),
	)

	runCtx := ctx
	if h.Detached {
		runCtx = context.WithoutCancel(ctx)
	}
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, h.Timeout)
		defer cancel()
	}

	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The event channel is always drained: persistence happens while it is read.
	writable := true
	seq := 0
	for ev := range h.Service.Process(runCtx, req) {
		if !writable {
			continue
		}
		seq++
		frame := toFrame(ev)
		frame.Sequence = seq
		frame.TaskID = taskID
		if err := writeFrame(resp, frame); err != nil {
			writable = false
			span.RecordError(err)
			h.logf("chat task=%s session=%s: client gone after %d events: %v", taskID, req.SessionID, seq-1, err)
			continue
		}
		flusher.Flush()
	}
	return nil
}

func (h *ChatHandler) logf(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

func toFrame(ev aggregator.Event) chatFrame {
	f := chatFrame{Type: ev.Kind()}
	switch e := ev.(type) {
	case aggregator.Reasoning:
		f.Content = e.Content
	case aggregator.Response:
		f.Content = e.Content
	case chat.Final:
		f.Content = streamCompleted
		f.FinalData = e.Data
	case aggregator.End:
		f.Content = streamCompleted
	case chat.Failed:
		f.Content = "Error: " + e.Message
		f.FinalData = e.Data
	case aggregator.Error:
		f.Content = "Error: " + e.Message
	}
	return f
}

func writeFrame(w http.ResponseWriter, f chatFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return err
	}
	return nil
}

package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/waypoint/internal/memory/episodic"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const sessionUpdateFailed = "An internal error occurred while updating the session data."

// SessionsHandler exposes episodic summarization. Failures are returned to the
// caller rather than absorbed.
type SessionsHandler struct {
	Summarizer SessionSummarizer
	logger     *log.Logger
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.POST("/sessions/update", h.update)
}

type sessionUpdateRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (h *SessionsHandler) update(c echo.Context) error {
	var req sessionUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.UserID == "" || req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and session_id required")
	}

	ctx, span := chatTracer.Start(c.Request().Context(), "SessionsHandler.update")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", req.UserID), attribute.String("session_id", req.SessionID))

	summary, err := h.Summarizer.Update(ctx, req.UserID, req.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case errors.Is(err, episodic.ErrSummaryInProgress):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, episodic.ErrNoHistory):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if h.logger != nil {
			h.logger.Printf("session update user=%s session=%s: %v", req.UserID, req.SessionID, err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, sessionUpdateFailed).SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": summary})
}

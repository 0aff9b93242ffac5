package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/waypoint/config"
	"github.com/mohammad-safakhou/waypoint/internal/aggregator"
	"github.com/mohammad-safakhou/waypoint/internal/chat"
	"github.com/mohammad-safakhou/waypoint/internal/memory/episodic"
	"github.com/mohammad-safakhou/waypoint/internal/runtime"
	"github.com/mohammad-safakhou/waypoint/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChatProcessor serves one chat exchange as an event stream.
type ChatProcessor interface {
	Process(ctx context.Context, req chat.Request) <-chan aggregator.Event
}

// SessionSummarizer regenerates the episodic summary of a session.
type SessionSummarizer interface {
	Update(ctx context.Context, userID, sessionID string) (episodic.Summary, error)
}

// UserStore persists registered users.
type UserStore interface {
	CreateUser(ctx context.Context, u store.User) error
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Chat     ChatProcessor
	Sessions SessionSummarizer
	Users    UserStore
	Database Pinger
	Gatherer prometheus.Gatherer
	General  config.GeneralConfig
	Server   config.ServerConfig
	Logger   *log.Logger
}

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		d.Logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	origins := d.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept},
	}))

	h := &healthHandler{general: d.General, db: d.Database}
	e.GET("/", h.info)
	e.GET("/health", h.health)
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	} else {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	g := e.Group("")
	(&ChatHandler{
		Service:  d.Chat,
		Timeout:  d.Server.ChatTimeout,
		Detached: d.Server.RunDetached,
		logger:   d.Logger,
	}).Register(g)
	(&SessionsHandler{Summarizer: d.Sessions, logger: d.Logger}).Register(g)
	(&UsersHandler{Store: d.Users}).Register(g)
	return e
}

// Run wires the service graph from cfg and serves until SIGINT or SIGTERM.
func Run(cfg *config.Config) error {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		logger.Printf("warn: migrations not applied: %v", err)
	}

	comps, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()
	if comps.Sweeper != nil {
		comps.Sweeper.Start()
		defer comps.Sweeper.Stop()
	}

	e := New(Deps{
		Chat:     comps.Chat,
		Sessions: comps.Summarizer,
		Users:    comps.Store,
		Database: comps.Store,
		Gatherer: comps.Registry,
		General:  cfg.General,
		Server:   cfg.Server,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(cfg.Server.Address) }()
	logger.Printf("listening on %s", cfg.Server.Address)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

type healthHandler struct {
	general config.GeneralConfig
	db      Pinger
}

func (h *healthHandler) info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"service": h.general.ServiceName,
		"version": h.general.Version,
		"endpoints": map[string]string{
			"chat":           "POST /chat",
			"update_session": "POST /sessions/update",
			"register_user":  "POST /users",
			"health":         "GET /health",
			"metrics":        "GET /metrics",
		},
	})
}

// health is a liveness probe; database state is informational only.
func (h *healthHandler) health(c echo.Context) error {
	database := "unconfigured"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			database = "unavailable"
		} else {
			database = "connected"
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   h.general.ServiceName,
		"version":   h.general.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"components": map[string]string{
			"http":      "operational",
			"streaming": "operational",
			"database":  database,
		},
	})
}

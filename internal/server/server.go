// Package server exposes the read-only status surface: health, lane stats,
// ability listing, and the token-gated activity feed.
package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/courierdev/courier/internal/ability"
	"github.com/courierdev/courier/internal/activity"
	"github.com/courierdev/courier/internal/auth"
	"github.com/courierdev/courier/internal/dispatch"
	"github.com/courierdev/courier/internal/version"
)

// Server wraps the echo instance serving the status surface.
type Server struct {
	logger *slog.Logger
	echo   *echo.Echo
	addr   string

	queue      *dispatch.Queue
	rules      *ability.Set
	feed       *activity.Feed
	hub        *activity.Hub
	keyring    *auth.Keyring
	feedSecret string
	tokenTTL   time.Duration
	startedAt  time.Time
}

// New builds the server. hub may be nil when the live stream is disabled.
func New(
	log *slog.Logger,
	addr string,
	queue *dispatch.Queue,
	rules *ability.Set,
	feed *activity.Feed,
	hub *activity.Hub,
	keyring *auth.Keyring,
	feedSecret string,
	tokenTTL time.Duration,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}

	s := &Server{
		logger:     log.With(slog.String("service", "server")),
		addr:       addr,
		queue:      queue,
		rules:      rules,
		feed:       feed,
		hub:        hub,
		keyring:    keyring,
		feedSecret: feedSecret,
		tokenTTL:   tokenTTL,
		startedAt:  time.Now().UTC(),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/ping", s.ping)
	e.HEAD("/health", s.pingHead)
	e.GET("/status", s.status)
	e.GET("/abilities", s.abilities)
	e.POST("/auth/feed-token", s.issueFeedToken)

	g := e.Group("/activity", auth.FeedMiddleware(keyring, nil))
	g.GET("", s.activitySnapshot)
	g.GET("/ws", s.activityStream)

	s.echo = e
	return s
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

// Close stops the listener.
func (s *Server) Close() error {
	return s.echo.Close()
}

func (s *Server) ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) pingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type laneStatus struct {
	Backend string `json:"backend"`
	Active  bool   `json:"active"`
	Pending int    `json:"pending"`
}

func (s *Server) status(c echo.Context) error {
	lanes := []laneStatus{}
	if s.queue != nil {
		for _, st := range s.queue.Stats() {
			lanes = append(lanes, laneStatus{Backend: st.BackendID, Active: st.Active, Pending: st.Pending})
		}
	}
	feedClients := 0
	if s.hub != nil {
		feedClients = s.hub.ClientCount()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"version":        version.GetInfo(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"lanes":          lanes,
		"feed_clients":   feedClients,
	})
}

type abilityInfo struct {
	Keyword     string `json:"keyword"`
	Description string `json:"description"`
}

// abilities lists keyword and description only; timeouts, models, and
// guidance stay private.
func (s *Server) abilities(c echo.Context) error {
	out := []abilityInfo{}
	if s.rules != nil {
		for _, r := range s.rules.Rules() {
			out = append(out, abilityInfo{Keyword: r.Keyword, Description: r.Description})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"abilities": out})
}

type feedTokenRequest struct {
	Secret  string `json:"secret"`
	Subject string `json:"subject"`
}

// issueFeedToken exchanges the configured feed secret for a short-lived
// rotating-key token.
func (s *Server) issueFeedToken(c echo.Context) error {
	var req feedTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if s.keyring == nil || subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.feedSecret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid secret")
	}
	subject := req.Subject
	if subject == "" {
		subject = "observer"
	}
	token, expiresAt, err := s.keyring.GenerateFeedToken(subject, s.tokenTTL)
	if err != nil {
		s.logger.Error("feed token issue failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "token generation failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (s *Server) activitySnapshot(c echo.Context) error {
	events := []activity.Event{}
	if s.feed != nil {
		events = s.feed.Snapshot()
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

func (s *Server) activityStream(c echo.Context) error {
	if s.hub == nil {
		return echo.NewHTTPError(http.StatusNotFound, "live feed disabled")
	}
	return s.hub.ServeWS(c.Response(), c.Request())
}

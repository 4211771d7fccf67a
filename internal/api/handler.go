// Package api serves a read-only view of the running engine over HTTP and
// a websocket event stream.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"signal-executor/internal/engine"
	"signal-executor/internal/events"
	"signal-executor/internal/monitor"
	"signal-executor/internal/persistence"
	"signal-executor/pkg/db"
)

// Config wires the server's data sources. Journal, Monitor and Writer may be nil.
type Config struct {
	Engine  engine.Service
	Bus     *events.Bus
	Journal *db.Database
	Writer  *persistence.Journal
	Monitor *monitor.Monitor
	Logger  *slog.Logger

	// Per-IP request rate and burst; zero selects 20/s burst 50.
	RateLimit float64
	RateBurst int
}

// Server wires HTTP endpoints around the engine status and the event bus.
type Server struct {
	Router  *gin.Engine
	engine  engine.Service
	bus     *events.Bus
	journal *db.Database
	writer  *persistence.Journal
	monitor *monitor.Monitor
	log     *slog.Logger
	limiter *ipLimiter
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	s := &Server{
		Router:  gin.New(),
		engine:  cfg.Engine,
		bus:     cfg.Bus,
		journal: cfg.Journal,
		writer:  cfg.Writer,
		monitor: cfg.Monitor,
		log:     logger,
		limiter: newIPLimiter(cfg.RateLimit, cfg.RateBurst),
	}

	// Middleware stack (order matters!)
	s.Router.Use(gin.Recovery())
	s.Router.Use(RequestIDMiddleware())
	s.Router.Use(RequestLogger(logger))
	s.Router.Use(RateLimitMiddleware(s.limiter, logger))
	s.Router.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/metrics", s.getMetrics)
		api.GET("/alerts", s.getAlerts)

		journal := api.Group("/journal")
		journal.Use(s.requireJournal)
		{
			journal.GET("/summary", s.getJournalSummary)
			journal.GET("/signals", s.getJournalSignals)
			journal.GET("/trades", s.getJournalTrades)
			journal.GET("/risk", s.getJournalRisk)
			journal.GET("/positions/:ticket", s.getPositionHistory)
		}
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

type limitQuery struct {
	Limit int `form:"limit"`
}

func (q *limitQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

// health reports liveness; a halted engine is alive but flagged.
func (s *Server) health(c *gin.Context) {
	st := s.engine.Status()
	status := "ok"
	if st.Risk.Halted {
		status = "halted"
	}
	body := gin.H{
		"status":    status,
		"halted":    st.Risk.Halted,
		"last_tick": st.LastTick,
	}
	if st.Session != nil {
		body["session"] = st.Session.State.String()
	}
	if s.journal != nil {
		body["journal"] = "ok"
		if err := s.journal.Ping(c.Request.Context()); err != nil {
			s.log.Warn("journal ping failed", "err", err)
			body["journal"] = "unavailable"
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.engine.Positions()
	c.JSON(http.StatusOK, gin.H{
		"positions": orEmpty(positions),
		"count":     len(positions),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	body := gin.H{"engine": s.engine.Status().Counters}
	if s.monitor != nil {
		body["monitor"] = s.monitor.Snapshot()
	}
	if s.writer != nil {
		body["journal"] = s.writer.Metrics()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getAlerts(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []monitor.Alert{}})
		return
	}
	alerts := s.monitor.Alerts()
	if alerts == nil {
		alerts = []monitor.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) requireJournal(c *gin.Context) {
	if s.journal == nil {
		respondError(c, http.StatusServiceUnavailable, "journal_disabled", "execution journal is not enabled")
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) getJournalSummary(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_since", "since must be RFC3339")
			return
		}
		since = t
	}
	sum, err := s.journal.Summary(c.Request.Context(), since)
	if err != nil {
		s.journalError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) getJournalSignals(c *gin.Context) {
	q := s.bindLimit(c)
	if q == nil {
		return
	}
	rows, err := s.journal.RecentSignals(c.Request.Context(), q.Limit)
	if err != nil {
		s.journalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": orEmpty(rows)})
}

func (s *Server) getJournalTrades(c *gin.Context) {
	q := s.bindLimit(c)
	if q == nil {
		return
	}
	rows, err := s.journal.RecentTrades(c.Request.Context(), q.Limit)
	if err != nil {
		s.journalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": orEmpty(rows)})
}

func (s *Server) getJournalRisk(c *gin.Context) {
	q := s.bindLimit(c)
	if q == nil {
		return
	}
	rows, err := s.journal.RiskEvents(c.Request.Context(), q.Limit)
	if err != nil {
		s.journalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"risk_events": orEmpty(rows)})
}

func (s *Server) getPositionHistory(c *gin.Context) {
	ticket, err := strconv.ParseInt(c.Param("ticket"), 10, 64)
	if err != nil || ticket <= 0 {
		respondError(c, http.StatusBadRequest, "invalid_ticket", "ticket must be a positive integer")
		return
	}
	rows, err := s.journal.PositionHistory(c.Request.Context(), ticket)
	if err != nil {
		s.journalError(c, err)
		return
	}
	if len(rows) == 0 {
		respondError(c, http.StatusNotFound, "not_found", "no journal entries for ticket")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket, "events": rows})
}

func (s *Server) bindLimit(c *gin.Context) *limitQuery {
	var q limitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_query", err.Error())
		return nil
	}
	q.normalize()
	return &q
}

func (s *Server) journalError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		respondError(c, http.StatusGatewayTimeout, "timeout", "journal query timed out")
		return
	}
	s.log.Error("journal query failed", "path", c.FullPath(), "err", err)
	respondError(c, http.StatusInternalServerError, "journal_error", "journal query failed")
}

func orEmpty[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close stops background housekeeping.
func (s *Server) Close() { s.limiter.stop() }

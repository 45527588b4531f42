package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/tickstream/internal/api"
	"github.com/rickgao/tickstream/internal/poller"
	"github.com/rickgao/tickstream/internal/recorder"
	"github.com/rickgao/tickstream/internal/stream"
)

// Stream is the view of the stream client the server reports on.
type Stream interface {
	State() stream.State
	Stats() stream.Stats
	Subscriptions() []string
}

// Recorder is the optional recorder view.
type Recorder interface {
	Stats() recorder.Stats
}

// Poller is the optional snapshot poller view.
type Poller interface {
	Stats() poller.Stats
	Latest(ticker string) (api.Ticker, bool)
	Snapshots() []api.Ticker
}

// Server is the status HTTP server.
type Server struct {
	addr     string
	stream   Stream
	recorder Recorder
	poller   Poller
	logger   *slog.Logger
	engine   *gin.Engine
	started  time.Time
}

// NewServer creates a server listening on port. rec may be nil.
func NewServer(port int, s Stream, rec Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	srv := &Server{
		addr:     fmt.Sprintf(":%d", port),
		stream:   s,
		recorder: rec,
		logger:   logger.With("component", "status"),
		engine:   gin.New(),
		started:  time.Now(),
	}
	srv.engine.Use(gin.Recovery())
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.getHealth)
	s.engine.GET("/stats", s.getStats)
	s.engine.GET("/subscriptions", s.getSubscriptions)
	s.engine.GET("/snapshots", s.getSnapshots)
	s.engine.GET("/snapshots/:ticker", s.getSnapshot)
}

// SetPoller attaches a snapshot poller. Call it before Run.
func (s *Server) SetPoller(p Poller) {
	s.poller = p
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", s.addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) getHealth(c *gin.Context) {
	state := s.stream.State()
	code := http.StatusOK
	if state != stream.Ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"state":  state,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) getStats(c *gin.Context) {
	body := gin.H{"stream": s.stream.Stats()}
	if s.recorder != nil {
		body["recorder"] = s.recorder.Stats()
	}
	if s.poller != nil {
		body["poller"] = s.poller.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getSubscriptions(c *gin.Context) {
	subs := s.stream.Subscriptions()
	c.JSON(http.StatusOK, gin.H{
		"count":         len(subs),
		"subscriptions": subs,
	})
}

func (s *Server) getSnapshots(c *gin.Context) {
	if s.poller == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot poller disabled"})
		return
	}
	snaps := s.poller.Snapshots()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(snaps),
		"tickers": snaps,
	})
}

func (s *Server) getSnapshot(c *gin.Context) {
	if s.poller == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot poller disabled"})
		return
	}
	ticker := c.Param("ticker")
	snap, ok := s.poller.Latest(ticker)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for " + ticker})
		return
	}
	c.JSON(http.StatusOK, snap)
}

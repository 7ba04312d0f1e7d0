package display

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/battstat/internal/errors"
	"codeberg.org/mutker/battstat/internal/logger"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

type statusResponse struct {
	Percentage   float64   `json:"percentage"`
	FastCharging bool      `json:"fast_charging"`
	Source       string    `json:"source"`
	Text         string    `json:"text"`
	Time         time.Time `json:"time"`
}

// StatusServer is a Sink that serves the latest status over HTTP.
type StatusServer struct {
	mu     sync.RWMutex
	latest Status
	has    bool
	router *gin.Engine
}

func NewStatusServer() *StatusServer {
	gin.SetMode(gin.ReleaseMode)

	s := &StatusServer{}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.GET("/status", s.getStatus)
	router.GET("/status/text", s.getStatusText)
	s.router = router

	return s
}

func (s *StatusServer) Update(st Status) error {
	s.mu.Lock()
	s.latest = st
	s.has = true
	s.mu.Unlock()
	return nil
}

func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done.
func (s *StatusServer) Run(ctx context.Context, addr string) error {
	errFactory := errors.New()

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errFactory.Wrap(errors.ErrServeStatus, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	served := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", l.Addr().String()).Msg("Status server listening")
		served <- srv.Serve(l)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errFactory.Wrap(errors.ErrServeStatus, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrServeStatus, err)
	}

	return nil
}

func (s *StatusServer) snapshot() (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.has
}

func (s *StatusServer) getStatus(c *gin.Context) {
	st, ok := s.snapshot()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "battery state unknown"})
		return
	}

	c.JSON(http.StatusOK, statusResponse{
		Percentage:   st.State.Percentage,
		FastCharging: st.State.FastCharging,
		Source:       st.State.Source.String(),
		Text:         st.Text,
		Time:         st.Time,
	})
}

func (s *StatusServer) getStatusText(c *gin.Context) {
	st, ok := s.snapshot()
	if !ok {
		c.String(http.StatusServiceUnavailable, "battery state unknown\n")
		return
	}

	c.String(http.StatusOK, st.Text+"\n")
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// handlers may rewrite the path
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1e6))
		statusCode := c.Writer.Status()

		var ev *logger.LogEvent
		switch {
		case len(c.Errors) > 0, statusCode >= http.StatusInternalServerError:
			ev = logger.Error()
		case statusCode >= http.StatusBadRequest:
			ev = logger.Warn()
		default:
			ev = logger.Debug()
		}

		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Int("latency_ms", latency).
			Msg(fmt.Sprintf("%s %s %d", c.Request.Method, path, statusCode))
	}
}

var _ Sink = (*StatusServer)(nil)

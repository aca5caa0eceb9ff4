// Package status serves a read-only HTTP view of a running tipctl process:
// health, prometheus metrics, controller state, the latest monitor sample and
// the signal registry.
package status

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tipctl/internal/auth"
	"github.com/danmuck/tipctl/internal/monitor"
	"github.com/danmuck/tipctl/internal/observability"
	"github.com/danmuck/tipctl/internal/signals"
	"github.com/danmuck/tipctl/internal/tipprep"
)

const shutdownTimeout = 5 * time.Second

type ControllerSource interface {
	Snapshot() tipprep.Snapshot
}

type MonitorSource interface {
	SessionID() string
	Latest() (monitor.Sample, bool)
	Stats() monitor.Stats
}

// Sources are optional; a route whose source is nil answers 404.
type Sources struct {
	Controller ControllerSource
	Monitor    MonitorSource
	Registry   *signals.Registry
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	src    Sources
	router *gin.Engine
}

type SignalInfo struct {
	Name          string `json:"name"`
	Index         int    `json:"index"`
	StreamChannel *int   `json:"stream_channel,omitempty"`
}

type options struct {
	corsOrigins []string
	token       string
}

type Option func(*options)

// WithCORS allows browser dashboards served from origins.
func WithCORS(origins []string) Option {
	return func(o *options) { o.corsOrigins = origins }
}

// WithToken requires "Authorization: Bearer <token>" on every route except
// /health. An empty token leaves the server open.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

func New(id, addr string, src Sources, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetrics(id))
	if origins := normalizeOrigins(o.corsOrigins); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	if o.token != "" {
		r.Use(auth.Require(auth.StaticToken{Token: o.token}, "/health"))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{ID: id, Addr: addr, Appeared: time.Now(), src: src, router: r}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.Appeared).String(),
			"id":     s.ID,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/controller", func(c *gin.Context) {
		if s.src.Controller == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no controller attached"})
			return
		}
		snap := s.src.Controller.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"state":        snap.State,
			"terminal":     snap.State.Terminal(),
			"reason":       snap.Reason,
			"error":        snap.Error,
			"cycle":        snap.Cycle,
			"pulses":       snap.Pulses,
			"last_verdict": snap.LastVerdict,
			"started_at":   snap.StartedAt,
			"elapsed":      snap.Elapsed.String(),
		})
	})

	s.router.GET("/monitor/latest", func(c *gin.Context) {
		if s.src.Monitor == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no monitor attached"})
			return
		}
		sample, ok := s.src.Monitor.Latest()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "no sample yet",
				"session": s.src.Monitor.SessionID(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session": s.src.Monitor.SessionID(),
			"stats":   s.src.Monitor.Stats(),
			"sample":  sample,
		})
	})

	s.router.GET("/signals", func(c *gin.Context) {
		if s.src.Registry == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no registry loaded"})
			return
		}
		all := s.src.Registry.All()
		out := make([]SignalInfo, 0, len(all))
		for _, sig := range all {
			out = append(out, signalInfo(sig))
		}
		c.JSON(http.StatusOK, gin.H{"signals": out})
	})

	s.router.GET("/signals/:name", func(c *gin.Context) {
		if s.src.Registry == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no registry loaded"})
			return
		}
		sig, err := s.src.Registry.Lookup(c.Param("name"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, signalInfo(sig))
	})
}

// Serve listens on Addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("status", s.ID).Str("addr", s.Addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("status", s.ID).Msg("status server shutdown failed")
			return err
		}
		return nil
	}
}

func signalInfo(sig signals.Signal) SignalInfo {
	info := SignalInfo{Name: sig.Name, Index: sig.Index.Int()}
	if ch, ok := sig.StreamChannel(); ok {
		info.StreamChannel = &ch
	}
	return info
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

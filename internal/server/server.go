// Package server exposes the viewer to a browser: an embedded page, a JSON
// API for uploads, exports and panel edits, and a websocket carrying status,
// notices and scene updates.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/flywave/meshview/internal/viewer"
)

const (
	DefaultAddr      = ":8080"
	DefaultMaxUpload = 256 << 20

	shutdownTimeout = 5 * time.Second
)

// Config holds configuration for the server.
type Config struct {
	Addr         string
	FPS          int
	ReleaseDelay time.Duration
	MaxUpload    int64
	Logger       *slog.Logger
}

// Server owns the controller and the loop that drives it.
type Server struct {
	addr      string
	maxUpload int64
	logger    *slog.Logger

	ctrl  *viewer.Controller
	loop  *viewer.Loop
	hub   *Hub
	blobs *BlobStore
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		addr:      cfg.Addr,
		maxUpload: cfg.MaxUpload,
		logger:    logger,
		hub:       NewHub(logger.With("component", "hub")),
		blobs:     NewBlobStore(),
	}
	if s.addr == "" {
		s.addr = DefaultAddr
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUpload
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = viewer.DefaultFPS
	}

	s.loop = viewer.NewLoop(fps, func() { s.ctrl.Tick() })
	s.ctrl = viewer.New(viewer.Options{
		Notifier:     s.hub,
		Downloader:   downloads{blobs: s.blobs, hub: s.hub},
		Scheduler:    s.loop,
		Renderer:     &hubRenderer{hub: s.hub},
		Logger:       logger.With("component", "viewer"),
		FPS:          fps,
		ReleaseDelay: cfg.ReleaseDelay,
	})
	s.ctrl.Status().SetListener(s.hub.SetStatus)
	s.hub.hello = s.hello
	return s
}

// Handler returns the router. The loop must be running for the API routes
// to answer.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.requestLogger,
	)

	r.Get("/", s.handleIndex)
	r.Get("/ws", s.hub.ServeWS)
	r.Route("/api", func(r chi.Router) {
		r.Post("/files", s.handleUpload)
		r.Post("/export", s.handleExport)
		r.Get("/blobs/{id}", s.handleBlob)
		r.Get("/scene.glb", s.handleSceneGLB)
		r.Get("/state", s.handleState)
		r.Post("/panels/{id}", s.handlePanel)
		r.Post("/resize", s.handleResize)
	})
	return r
}

// Serve runs the loop and the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting viewer", "addr", ln.Addr().String())

	eg.Go(func() error {
		return s.loop.Run(egctx)
	})

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down viewer...")
		s.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Controller is exposed for embedding; it must only be touched through Do.
func (s *Server) Controller() *viewer.Controller { return s.ctrl }

// Do runs fn on the controller's goroutine.
func (s *Server) Do(ctx context.Context, fn func(c *viewer.Controller)) error {
	return s.loop.Do(ctx, func() { fn(s.ctrl) })
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Package server assembles the classification service from its parts and
// runs it until the context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/onnwee/imgclassify/internal/api"
	"github.com/onnwee/imgclassify/internal/cache"
	"github.com/onnwee/imgclassify/internal/config"
	"github.com/onnwee/imgclassify/internal/imagefetch"
	"github.com/onnwee/imgclassify/internal/inference"
	"github.com/onnwee/imgclassify/internal/logger"
	"github.com/onnwee/imgclassify/internal/metrics"
	"github.com/onnwee/imgclassify/internal/middleware"
	"github.com/onnwee/imgclassify/internal/modelclient"
	"github.com/onnwee/imgclassify/internal/monitor"
)

const (
	collectorInterval = 15 * time.Second
	shutdownTimeout   = 15 * time.Second
)

type Server struct {
	cfg       *config.Config
	cache     *cache.ResultCache
	monitor   *monitor.Monitor
	sweeper   *monitor.Sweeper
	collector *metrics.Collector
	model     *modelclient.Client
	pipeline  *inference.Pipeline
	limiter   *middleware.RateLimiter
	api       *api.API
	http      *http.Server
}

// Collaborators lets callers swap the outbound fetch and model clients.
// Nil fields are built from configuration.
type Collaborators struct {
	Fetcher    inference.Fetcher
	Classifier inference.Classifier
	Model      *modelclient.Client
}

// NewServer constructs every component once and wires them together.
func NewServer(cfg *config.Config, collab Collaborators) (*Server, error) {
	store, err := cache.NewStore(cfg.CacheBackend, cfg.CacheMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create %s cache store: %w", cfg.CacheBackend, err)
	}
	resultCache := cache.New(store, cfg.CacheTTL)
	usage := monitor.New(cfg.MonitorWindow)

	model := collab.Model
	if model == nil {
		model = modelclient.NewFromConfig(cfg)
	}
	fetcher := collab.Fetcher
	if fetcher == nil {
		fetcher = imagefetch.NewFromConfig(cfg)
	}
	classifier := collab.Classifier
	if classifier == nil {
		classifier = model
	}

	pipeline := inference.New(resultCache, usage, fetcher, classifier,
		inference.WithFetchTimeout(cfg.FetchTimeout),
		inference.WithClassifyTimeout(cfg.ModelTimeout),
	)

	s := &Server{
		cfg:       cfg,
		cache:     resultCache,
		monitor:   usage,
		collector: metrics.NewCollector(resultCache, usage, collectorInterval),
		model:     model,
		pipeline:  pipeline,
	}
	if cfg.MonitorSweepInterval > 0 {
		s.sweeper = monitor.NewSweeper(usage, cfg.MonitorSweepInterval)
	}
	if cfg.EnableRateLimit {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitGlobal, cfg.RateLimitGlobalBurst, cfg.RateLimitPerIP, cfg.RateLimitPerIPBurst)
	}

	s.api = api.NewRouter(api.Deps{
		Config:      cfg,
		Pipeline:    pipeline,
		Monitor:     usage,
		Cache:       resultCache,
		Model:       model,
		RateLimiter: s.limiter,
	})
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.api,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.http.RegisterOnShutdown(s.api.Close)
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.api }

// Pipeline exposes the inference pipeline for embedding callers.
func (s *Server) Pipeline() *inference.Pipeline { return s.pipeline }

// Start runs background jobs and serves HTTP on the configured address until
// ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start with a caller-provided listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.sweeper != nil {
		go s.sweeper.Start(bgCtx)
	}
	go s.collector.Start(bgCtx)

	log := logger.WithComponent("server")
	log.Info("Server listening",
		"addr", ln.Addr().String(),
		"model_endpoint", s.model.Endpoint(),
		"cache_backend", s.cfg.CacheBackend,
		"cache_ttl", s.cfg.CacheTTL,
		"monitor_window", s.cfg.MonitorWindow)

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	err := s.http.Shutdown(shutdownCtx)
	s.close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.cache.Close()
}

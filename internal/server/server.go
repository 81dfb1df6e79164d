package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/svgfrag/config"
	"github.com/mohammad-safakhou/svgfrag/internal/fragcache"
	"github.com/mohammad-safakhou/svgfrag/internal/render"
	"github.com/mohammad-safakhou/svgfrag/internal/telemetry"
	"github.com/mohammad-safakhou/svgfrag/session"
	"github.com/mohammad-safakhou/svgfrag/session/inmemory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// Server bundles the echo instance with the shared registry and store it
// serves from.
type Server struct {
	Echo     *echo.Echo
	Registry *session.Registry
	Store    session.Store
	Renderer *render.Renderer
	Metrics  *telemetry.Metrics

	cfg    *config.Config
	logger *log.Logger
}

// New wires the process-wide registry, the workspace store and every route.
func New(cfg *config.Config) *Server {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	debug := cfg.General.Verbose()

	var (
		reg     *prometheus.Registry
		metrics *telemetry.Metrics
	)
	if cfg.Telemetry.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(reg)
	}

	regOpts := []session.RegistryOption{session.WithRegistryMetrics(metrics)}
	if debug {
		regOpts = append(regOpts, session.WithRegistryLogger(log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags)))
	}
	registry := session.NewRegistry(regOpts...)
	if reg != nil {
		telemetry.RegisterSessionGauge(reg, func() float64 { return float64(registry.Len()) })
	}

	cacheOpts := []fragcache.Option{
		fragcache.WithInitialThreshold(cfg.Cache.InitialThreshold),
		fragcache.WithMetrics(metrics),
	}
	if debug {
		cacheOpts = append(cacheOpts, fragcache.WithLogger(log.New(log.Writer(), "[CACHE] ", log.LstdFlags)))
	}
	newCache := render.DocumentIndexCaches(cacheOpts...)
	if cfg.Cache.Indexer == config.IndexerWeak {
		newCache = render.WeakIndexCaches(cacheOpts...)
	}
	renderer := render.New(registry, newCache, render.Config{
		FetchPath:   cfg.Server.FetchPath,
		ImageClass:  cfg.Render.ImageClass,
		PrettyPrint: cfg.Render.PrettyPrint,
		Debug:       debug,
	}, nil)

	s := &Server{
		Echo:     echo.New(),
		Registry: registry,
		Store:    inmemory.NewInMemorySessionStore(),
		Renderer: renderer,
		Metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}

	e := s.Echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	if debug {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:    true,
			LogURI:       true,
			LogStatus:    true,
			LogLatency:   true,
			LogRequestID: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				logger.Printf("%s %s %d %s id=%s", v.Method, v.URI, v.Status, v.Latency, v.RequestID)
				return nil
			},
		}))
	}
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if reg != nil {
		e.GET(cfg.Telemetry.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}
	registerDocs(e, cfg.Server.DocsTitle, cfg.Server.FetchPath)

	fh := &FragmentsHandler{Registry: registry, Metrics: metrics}
	fh.Register(e, cfg.Server.FetchPath)

	api := e.Group("/api")
	api.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	sh := &SessionsHandler{Store: s.Store, Renderer: renderer}
	sh.Register(api.Group("/sessions"))

	return s
}

// handleError renders JSON for API routes and plain text for everything else,
// so a broken <img> never receives a JSON body.
func (s *Server) handleError(err error, c echo.Context) {
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
	if code >= http.StatusInternalServerError || s.cfg.General.LogsClientErrors() {
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	}
	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if strings.HasPrefix(req.URL.Path, "/api/") {
		_ = c.JSON(code, HTTPError{Error: msg})
		return
	}
	_ = c.String(code, msg)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", s.cfg.Server.Address)
		errCh <- s.Echo.Start(s.cfg.Server.Address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Printf("stopped")
	return nil
}

func Run(ctx context.Context, cfg *config.Config) error {
	return New(cfg).Start(ctx)
}

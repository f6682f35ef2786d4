package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/config"
	"github.com/mrblonde/orders/pkg/gate"
	"github.com/mrblonde/orders/pkg/metrics"
	"github.com/mrblonde/orders/pkg/system"
	"github.com/mrblonde/orders/pkg/telemetry"
	"github.com/mrblonde/orders/pkg/version"
)

const readHeaderTimeout = 10 * time.Second

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin    *gin.Engine
	config config.Config
	log    *zap.SugaredLogger
}

// NewServer builds the HTTP engine. Every request passes access logging,
// panic recovery, tracing, the request logger and then the gate; the probe
// and frontend config routes are registered here, everything unknown falls
// through to the frontend. Metrics are not on this engine, see Listen.
func NewServer(log *zap.Logger, cfg config.Config, debug bool, g *gate.Gate) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	sugar := log.Sugar()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		sugar.Warnw("Ignoring invalid trusted proxy list", "error", err)
	}
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.CustomRecoveryWithZap(log, true, recoveryHandler(sugar)),
	)

	if debug {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins:     []string{"http://localhost:5173", "http://127.0.0.1:5173"},
				AllowMethods:     []string{"GET", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"},
				AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", gate.HeaderCSRFToken},
				AllowCredentials: true,
				MaxAge:           12 * time.Hour,
			}),
		)
	}

	engine.Use(telemetry.Middleware(), system.RequestLogger(sugar))
	if g != nil {
		engine.Use(g.Middleware())
	}

	s := &Server{
		gin:    engine,
		config: cfg,
		log:    sugar,
	}

	engine.GET("/healthz", s.healthz)
	engine.GET("/api/config", s.getConfig)
	engine.NoRoute(ServeSPA("/", cfg.Frontend.DistDir))

	return s
}

// Use adds middleware behind the gate. It applies to the frontend fallback
// and to routes registered afterwards.
func (s *Server) Use(middleware ...gin.HandlerFunc) {
	s.gin.Use(middleware...)
}

func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api")
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return fmt.Errorf("registering %s: %w", c.BasePath(), err)
		}
	}
	return nil
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// MetricsHandler serves the Prometheus scrape endpoint on the metrics
// listener. Only /metrics and /healthz exist there.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func metricsEnabled(addr string) bool {
	return addr != "" && addr != "0"
}

// Listen serves until ctx is cancelled and then shuts down gracefully,
// waiting at most the configured shutdown timeout for in-flight requests.
// Metrics get their own plain HTTP listener on the metrics address so they
// stay off the public port; "0" disables it.
func (s *Server) Listen(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	servers := []*http.Server{srv}

	errCh := make(chan error, 2)
	go func() {
		var err error
		if s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != "" {
			s.log.Infow("Listening with TLS", "address", srv.Addr)
			err = srv.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
		} else {
			s.log.Infow("Listening", "address", srv.Addr)
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	if addr := s.config.Server.MetricsAddress; metricsEnabled(addr) {
		msrv := &http.Server{
			Addr:              addr,
			Handler:           s.MetricsHandler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		servers = append(servers, msrv)
		go func() {
			s.log.Infow("Serving metrics", "address", addr)
			if err := msrv.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
	}

	s.log.Infow("Shutting down HTTP server", "timeout", s.config.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	for _, hs := range servers {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down %s: %w", hs.Addr, err))
		}
	}
	return errors.Join(errs...)
}

type FrontendConfig struct {
	BaseURL     string `json:"baseURL"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, FrontendConfig{
		BaseURL:     s.config.Frontend.BaseURL,
		Environment: s.config.Environment,
		Version:     version.Version,
	})
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

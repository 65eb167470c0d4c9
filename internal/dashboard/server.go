package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tradedash/config"
	"tradedash/internal/apperr"
	"tradedash/internal/coordinator"
	"tradedash/internal/metrics"
	"tradedash/logger"
	"tradedash/models"
)

// Backend is the read side and the two user actions the dashboard exposes.
type Backend interface {
	View() coordinator.View
	SubmitOrder(ctx context.Context, symbol string, side models.Side, quantity float64) (models.OrderReceipt, error)
	RefreshSnapshot() error
}

// Server hosts the Gin JSON API over the coordinator's projection.
type Server struct {
	cfg               config.DashboardConfig
	backend           Backend
	defaultQuantity   float64
	log               *logger.Log
	metricStore       *metricStore
	logStore          *logStore
	metricHandler     metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, backend Backend, defaultQuantity float64, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if backend == nil {
		return nil, errors.New("dashboard requires a backend")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}
	if defaultQuantity <= 0 {
		defaultQuantity = 1
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:               cfg,
		backend:           backend,
		defaultQuantity:   defaultQuantity,
		log:               log,
		metricStore:       metricStore,
		logStore:          logStore,
		metricHandler:     metrics.RegisterMetricHandler(metricStore.handle),
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log),
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}
	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

type orderBody struct {
	Symbol   string   `json:"symbol"`
	Side     string   `json:"side"`
	Quantity *float64 `json:"quantity"`
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"app":                 appName,
			"refresh_interval_ms": s.refreshIntervalMs,
		})
	})

	router.GET("/health", func(c *gin.Context) {
		v := s.backend.View()
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"running":    v.Status.Running,
			"connection": v.Connection,
		})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")

	api.GET("/view", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.backend.View())
	})
	api.GET("/quotes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"quotes": s.backend.View().Quotes})
	})
	api.GET("/positions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"positions": s.backend.View().Positions})
	})
	api.GET("/account", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"account": s.backend.View().Account})
	})
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.backend.View().Status)
	})

	api.POST("/orders", s.submitOrder)
	api.POST("/refresh", func(c *gin.Context) {
		if err := s.backend.RefreshSnapshot(); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "refresh requested"})
	})

	api.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"metrics": s.metricStore.snapshot()})
	})
	api.GET("/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
	})
	api.GET("/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	return router, nil
}

func (s *Server) submitOrder(c *gin.Context) {
	var body orderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order body: " + err.Error()})
		return
	}
	side, err := models.ParseSide(body.Side)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quantity := s.defaultQuantity
	if body.Quantity != nil {
		quantity = *body.Quantity
	}

	receipt, err := s.backend.SubmitOrder(c.Request.Context(), strings.TrimSpace(body.Symbol), side, quantity)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"client_order_id": receipt.ClientOrderID, "status_code": receipt.StatusCode}
	if exec, ok := receipt.Execution(); ok {
		resp["execution"] = exec
	}
	c.JSON(http.StatusOK, resp)
}

func statusFor(err error) int {
	var fe *apperr.FetchError
	switch {
	case errors.Is(err, models.ErrMissingSymbol),
		errors.Is(err, models.ErrInvalidSide),
		errors.Is(err, models.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &fe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") && len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
		return "0.0.0.0" + addr
	}

	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}

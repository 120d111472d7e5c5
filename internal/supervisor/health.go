package supervisor

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/amoylab/gwbridge/internal/common/cnst"
	"github.com/amoylab/gwbridge/internal/gateway"
	"github.com/amoylab/gwbridge/pkg/metrics"
	"github.com/amoylab/gwbridge/pkg/version"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// StatusSource reports the connection status shown on /healthz
type StatusSource interface {
	State() gateway.State
	Attempts() int
}

// HealthStatus is the /healthz response body
type HealthStatus struct {
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Version  string `json:"version"`
}

// HealthServer serves /healthz and /metrics
type HealthServer struct {
	logger *zap.Logger
	addr   string
	router *gin.Engine
	server *http.Server
	ln     net.Listener
}

func NewHealthServer(logger *zap.Logger, addr string, src StatusSource, m *metrics.Metrics) *HealthServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(cnst.TraceHealth), m.Middleware())

	router.GET("/healthz", func(c *gin.Context) {
		state := src.State()
		code := http.StatusOK
		if state != gateway.StateReady {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, HealthStatus{
			State:    state.String(),
			Attempts: src.Attempts(),
			Version:  version.Get(),
		})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	return &HealthServer{
		logger: logger.Named("health"),
		addr:   addr,
		router: router,
		server: &http.Server{Handler: router},
	}
}

// Handler exposes the router, mostly for tests
func (h *HealthServer) Handler() http.Handler {
	return h.router
}

// Start binds the listener and serves in the background
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.ln = ln
	h.logger.Info("health server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address after Start
func (h *HealthServer) Addr() string {
	if h.ln == nil {
		return h.addr
	}
	return h.ln.Addr().String()
}

// Shutdown gracefully shuts down the server
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.ln == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/amoylab/gwbridge/internal/common/config"
	"github.com/amoylab/gwbridge/internal/forwarder"
	"github.com/amoylab/gwbridge/internal/gateway"
	"github.com/amoylab/gwbridge/pkg/helper"
	"github.com/amoylab/gwbridge/pkg/metrics"
	"github.com/amoylab/gwbridge/pkg/trace"
	"github.com/amoylab/gwbridge/pkg/version"
	"go.uber.org/zap"
)

// Option customizes a Supervisor
type Option func(*Supervisor)

// WithGatewayOptions passes options through to the connection manager
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(s *Supervisor) { s.gatewayOpts = append(s.gatewayOpts, opts...) }
}

// WithMemoryReader replaces the runtime memory sampler
func WithMemoryReader(f func() uint64) Option {
	return func(s *Supervisor) { s.readMem = f }
}

// WithHealthAddr overrides the listen address derived from health_port
func WithHealthAddr(addr string) Option {
	return func(s *Supervisor) { s.healthAddr = addr }
}

// Supervisor wires the bridge together and owns its process-level concerns
type Supervisor struct {
	logger *zap.Logger
	cfg    *config.BridgeConfig

	gatewayOpts []gateway.Option
	readMem     func() uint64
	healthAddr  string

	metrics   *metrics.Metrics
	forwarder *forwarder.Forwarder
	manager   *gateway.Manager
	health    *HealthServer
	watchdog  *Watchdog
	pid       *helper.PIDFile
}

// New validates cfg and builds every component. Nothing is dialed yet.
func New(logger *zap.Logger, cfg *config.BridgeConfig, opts ...Option) (*Supervisor, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	s := &Supervisor{
		logger: logger.Named("supervisor"),
		cfg:    cfg,
	}
	if cfg.Supervisor.HealthPort > 0 {
		s.healthAddr = fmt.Sprintf(":%d", cfg.Supervisor.HealthPort)
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New(cfg.Metrics)
	}

	fwdOpts := []forwarder.Option{forwarder.WithMetrics(s.metrics)}
	if cfg.Forward.Mirror.Enabled {
		mirror, err := forwarder.NewRedisMirror(logger, cfg.Forward.Mirror)
		if err != nil {
			// the mirror is best effort; forwarding proceeds without it
			s.logger.Error("stream mirror disabled", zap.Error(err))
		} else {
			fwdOpts = append(fwdOpts, forwarder.WithMirror(mirror))
		}
	}
	s.forwarder = forwarder.New(logger, cfg.Forward, cfg.Gateway.ClientName, fwdOpts...)

	gwOpts := append([]gateway.Option{gateway.WithMetrics(s.metrics)}, s.gatewayOpts...)
	s.manager = gateway.NewManager(logger, cfg.Gateway, s.forwarder, gwOpts...)

	if s.healthAddr != "" {
		s.health = NewHealthServer(logger, s.healthAddr, s.manager, s.metrics)
	}
	if cfg.Supervisor.MemoryLimitMB > 0 {
		s.watchdog = newWatchdog(logger, cfg.Supervisor.MemoryLimitMB, cfg.Supervisor.CheckInterval, s.readMem, s.metrics)
	}
	if cfg.Supervisor.PID != "" {
		s.pid = helper.NewPIDFile(cfg.Supervisor.PID)
	}
	return s, nil
}

// Manager returns the connection manager
func (s *Supervisor) Manager() *gateway.Manager {
	return s.manager
}

// Health returns the health server, nil when disabled
func (s *Supervisor) Health() *HealthServer {
	return s.health
}

// Run starts the bridge and blocks until ctx ends or the watchdog trips.
// A clean stop returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("starting gateway bridge",
		zap.String("version", version.Get()),
		zap.String("gateway", s.cfg.Gateway.URL),
		zap.String("endpoint", s.cfg.Forward.Endpoint))

	if s.pid != nil {
		if err := s.pid.Write(); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() {
			if err := s.pid.Remove(); err != nil {
				s.logger.Warn("failed to remove PID file", zap.String("path", s.pid.Path()), zap.Error(err))
			}
		}()
	}

	restore := applySoftLimit(s.cfg.Supervisor.MemoryLimitMB)
	defer restore()

	shutdownTracing, err := trace.InitTracing(ctx, &s.cfg.Tracing, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	if s.health != nil {
		if err := s.health.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	managerDone := make(chan error, 1)
	go func() { managerDone <- s.manager.Run(runCtx) }()

	watchdogDone := make(chan error, 1)
	if s.watchdog != nil {
		go func() { watchdogDone <- s.watchdog.Run(runCtx) }()
	}

	var runErr error
	managerExited := false
	select {
	case <-runCtx.Done():
	case runErr = <-watchdogDone:
	case runErr = <-managerDone:
		managerExited = true
	}
	cancel()
	if !managerExited {
		<-managerDone
	}

	s.shutdown(shutdownTracing)
	if runErr != nil {
		return runErr
	}
	s.logger.Info("gateway bridge stopped")
	return nil
}

// shutdown drains outstanding work, each step bounded by shutdown_timeout
func (s *Supervisor) shutdown(shutdownTracing trace.ShutdownFunc) {
	timeout := s.cfg.Supervisor.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.health != nil {
		if err := s.health.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shut down health server", zap.Error(err))
		}
	}
	if err := s.forwarder.Wait(ctx); err != nil {
		s.logger.Warn("abandoning in-flight forwards", zap.Duration("timeout", timeout), zap.Error(err))
	}
	if err := s.forwarder.Close(); err != nil {
		s.logger.Warn("failed to close stream mirror", zap.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		s.logger.Warn("failed to flush traces", zap.Error(err))
	}
}

// Run builds a Supervisor from cfg and runs it
func Run(ctx context.Context, cfg *config.BridgeConfig, logger *zap.Logger, opts ...Option) error {
	s, err := New(logger, cfg, opts...)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

package gateway

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/amoylab/gwbridge/internal/common/cnst"
	"github.com/amoylab/gwbridge/internal/common/config"
	"github.com/amoylab/gwbridge/pkg/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxBackoff          = 60 * time.Second
	invalidSessionMin   = time.Second
	invalidSessionRange = 4 * time.Second
	inboundBuffer       = 64
)

// ReconnectState counts consecutive failed or dropped connections
type ReconnectState struct {
	Attempts int
}

// BackoffDelay returns min(2^attempts, 60) seconds
func BackoffDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	if attempts >= 6 {
		return maxBackoff
	}
	d := time.Duration(1<<attempts) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

type inboundFrame struct {
	gen  uint64
	data []byte
	err  error
}

// Option customizes a Manager
type Option func(*Manager)

// WithDialer replaces the websocket dialer
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithClock replaces the real clock
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRand replaces the [0,1) source used for heartbeat and invalid session jitter
func WithRand(f func() float64) Option {
	return func(m *Manager) { m.rand = f }
}

// WithBackoff replaces the exponential backoff policy
func WithBackoff(f func(attempts int) time.Duration) Option {
	return func(m *Manager) { m.backoff = f }
}

// WithMetrics records connection metrics
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager owns the gateway socket, the protocol state machine and the
// reconnect policy. Everything except State and Attempts is touched only by
// the goroutine running Run.
type Manager struct {
	logger  *zap.Logger
	connLog *zap.Logger
	cfg     config.GatewayConfig
	sink    Sink
	dialer  Dialer
	clock   Clock
	rand    func() float64
	backoff func(int) time.Duration
	metrics *metrics.Metrics

	session   SessionState
	reconnect ReconnectState
	heartbeat *HeartbeatMonitor

	conn           Conn
	gen            uint64
	inbound        chan inboundFrame
	reconnectTimer Timer
	closing        bool

	state    atomic.Int32
	attempts atomic.Int64
	running  atomic.Bool
	done     chan struct{}
}

// NewManager creates a manager in the Disconnected state
func NewManager(logger *zap.Logger, cfg config.GatewayConfig, sink Sink, opts ...Option) *Manager {
	m := &Manager{
		logger:  logger.Named("gateway"),
		cfg:     cfg,
		sink:    sink,
		clock:   RealClock{},
		rand:    rand.Float64,
		backoff: BackoffDelay,
		inbound: make(chan inboundFrame, inboundBuffer),
		done:    make(chan struct{}),
	}
	m.connLog = m.logger
	m.dialer = &WebsocketDialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ClientName:       cfg.ClientName,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current protocol state; safe from any goroutine
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Attempts returns the reconnect attempt counter; safe from any goroutine
func (m *Manager) Attempts() int {
	return int(m.attempts.Load())
}

// Run connects and processes frames until ctx is cancelled. Every failure other
// than cancellation is recovered internally.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("gateway manager already running")
	}
	defer close(m.done)

	m.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case f := <-m.inbound:
			if f.gen != m.gen || m.conn == nil {
				continue
			}
			if f.err != nil {
				m.onSocketClosed(f.err)
				continue
			}
			m.handleFrame(ctx, f.data)
		case <-m.heartbeat.Due():
			m.onHeartbeatTick()
		case <-m.reconnectDue():
			m.reconnectTimer = nil
			m.connect(ctx)
		}
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	m.metrics.SetState(s.String(), stateNames)
}

func (m *Manager) setAttempts(n int) {
	m.reconnect.Attempts = n
	m.attempts.Store(int64(n))
}

func (m *Manager) reconnectDue() <-chan time.Time {
	if m.reconnectTimer == nil {
		return nil
	}
	return m.reconnectTimer.C()
}

// connect dials either the stored resume url or the canonical gateway url
func (m *Manager) connect(ctx context.Context) {
	if m.closing || ctx.Err() != nil {
		return
	}

	mode := "identify"
	target := m.cfg.URL
	if m.session.CanResume() {
		mode = "resume"
		if m.session.ResumeURL != "" {
			u, err := resumeTarget(m.session.ResumeURL, m.cfg.Version)
			if err != nil {
				m.logger.Warn("invalid resume url, using gateway url",
					zap.String("resume_url", m.session.ResumeURL),
					zap.Error(err))
			} else {
				target = u
			}
		}
	} else {
		m.session.Reset()
	}

	m.setState(StateConnecting)
	m.connLog = m.logger.With(zap.String("conn_id", uuid.NewString()))
	m.connLog.Info("connecting to gateway",
		zap.String("url", target),
		zap.String("mode", mode),
		zap.Int("attempt", m.reconnect.Attempts))

	conn, err := m.dialer.Dial(ctx, target)
	m.metrics.Connect(mode, err)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.onSocketClosed(err)
		return
	}

	m.gen++
	m.conn = conn
	m.setState(StateAwaitingHello)
	go m.readLoop(conn, m.gen)
}

// readLoop pushes raw frames to the manager loop until the socket fails
func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		select {
		case m.inbound <- inboundFrame{gen: gen, data: data, err: err}:
		case <-m.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) handleFrame(ctx context.Context, data []byte) {
	env, err := Decode(data)
	if err != nil {
		m.metrics.FrameDropped()
		m.connLog.Warn("dropping undecodable frame", zap.Error(err), zap.Int("size", len(data)))
		return
	}
	m.metrics.FrameReceived(env.Op.String())
	m.session.Observe(env.Sequence)

	switch env.Op {
	case OpHello:
		m.onHello(env)
	case OpHeartbeatAck:
		if m.heartbeat != nil {
			m.heartbeat.Ack()
		}
		m.metrics.HeartbeatAcked()
	case OpHeartbeat:
		// Server asked for an immediate beat; the periodic ticker is left alone.
		m.sendHeartbeat()
	case OpReconnect:
		m.onReconnectRequest()
	case OpInvalidSession:
		m.onInvalidSession(env)
	case OpDispatch:
		m.onDispatch(ctx, env)
	default:
		m.connLog.Debug("ignoring frame", zap.Stringer("op", env.Op))
	}
}

func (m *Manager) onHello(env *Envelope) {
	ms := helloInterval(env.Data)
	if ms <= 0 {
		m.metrics.FrameDropped()
		m.connLog.Warn("hello without heartbeat interval", zap.ByteString("d", env.Data))
		return
	}

	m.heartbeat.Stop()
	m.heartbeat = newHeartbeatMonitor(m.clock, time.Duration(ms)*time.Millisecond, m.rand())
	m.setState(StateAuthenticating)

	if m.session.CanResume() {
		m.connLog.Info("resuming session",
			zap.String("session_id", m.session.SessionID),
			zap.Int64p("seq", m.session.LastSequence))
		m.write(OpResume, ResumePayload{
			Token:     m.cfg.Token,
			SessionID: m.session.SessionID,
			Sequence:  m.session.LastSequence,
		})
		return
	}

	m.connLog.Info("identifying", zap.Int64("intents", m.cfg.Intents))
	m.write(OpIdentify, IdentifyPayload{
		Token:   m.cfg.Token,
		Intents: m.cfg.Intents,
		Properties: IdentifyProperties{
			OS:      m.cfg.OS,
			Browser: m.cfg.ClientName,
			Device:  m.cfg.ClientName,
		},
	})
}

func (m *Manager) onDispatch(ctx context.Context, env *Envelope) {
	name := env.Name()
	switch name {
	case EventReady:
		sessionID, resumeURL := readyFields(env.Data)
		m.session.Establish(sessionID, resumeURL)
		m.setAttempts(0)
		m.setState(StateReady)
		m.metrics.Dispatch(name, false)
		m.connLog.Info("gateway session ready",
			zap.String("session_id", sessionID),
			zap.String("resume_url", resumeURL))
	case EventResumed:
		m.session.ShouldResume = false
		m.setState(StateReady)
		m.metrics.Dispatch(name, false)
		m.connLog.Info("gateway session resumed", zap.String("session_id", m.session.SessionID))
	default:
		if !IsForwarded(name) {
			m.metrics.Dispatch(name, false)
			return
		}
		m.metrics.Dispatch(name, true)
		if m.sink != nil {
			m.sink.Send(ctx, newOutboundEvent(name, env.Data))
		}
	}
}

func (m *Manager) onReconnectRequest() {
	m.connLog.Info("gateway requested reconnect")
	m.session.ShouldResume = true
	m.dropConnection(CloseResumable)
	m.scheduleReconnect("server_request")
}

// onInvalidSession reconnects after a random 1-5s pause, outside the
// exponential backoff and without touching the attempt counter.
func (m *Manager) onInvalidSession(env *Envelope) {
	resumable := invalidSessionResumable(env.Data)
	code := CloseResumable
	if resumable {
		m.session.ShouldResume = true
	} else {
		m.session.Reset()
		code = CloseNormal
	}
	m.connLog.Warn("gateway invalidated session", zap.Bool("resumable", resumable))

	m.dropConnection(code)
	delay := invalidSessionMin + time.Duration(m.rand()*float64(invalidSessionRange))
	m.armReconnect(delay, "invalid_session")
}

func (m *Manager) onHeartbeatTick() {
	if m.heartbeat == nil {
		return
	}
	if !m.heartbeat.Tick() {
		m.metrics.Zombie()
		m.connLog.Warn("heartbeat not acknowledged, dropping zombie connection",
			zap.Duration("interval", m.heartbeat.Interval()))
		m.session.ShouldResume = true
		m.dropConnection(CloseResumable)
		m.scheduleReconnect("zombie")
		return
	}
	m.sendHeartbeat()
}

func (m *Manager) sendHeartbeat() {
	if m.write(OpHeartbeat, m.session.LastSequence) {
		m.metrics.HeartbeatSent()
	}
}

// write sends one frame; a failed write is handled as a lost connection
func (m *Manager) write(op Opcode, payload any) bool {
	if m.conn == nil {
		m.connLog.Debug("dropping outbound frame", zap.Stringer("op", op), zap.Error(cnst.ErrNotConnected))
		return false
	}
	data, err := Encode(op, payload)
	if err != nil {
		m.connLog.Error("failed to encode frame", zap.Stringer("op", op), zap.Error(err))
		return false
	}
	if err := m.conn.WriteMessage(data); err != nil {
		m.onSocketClosed(err)
		return false
	}
	return true
}

// onSocketClosed handles a close or error the caller did not request
func (m *Manager) onSocketClosed(err error) {
	fields := []zap.Field{zap.Error(err)}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		fields = append(fields, zap.Int("close_code", ce.Code), zap.String("close_text", ce.Text))
	}
	m.connLog.Warn("gateway connection lost", fields...)

	m.dropConnection(CloseResumable)
	m.session.ShouldResume = m.session.SessionID != ""
	m.scheduleReconnect("transport")
}

// dropConnection stops the heartbeat and closes the socket. Frames still queued
// from the old reader are discarded by the generation check in Run.
func (m *Manager) dropConnection(code int) {
	m.heartbeat.Stop()
	m.heartbeat = nil
	if m.conn != nil {
		if err := m.conn.Close(code); err != nil {
			m.connLog.Debug("error closing socket", zap.Error(err))
		}
		m.conn = nil
	}
}

func (m *Manager) scheduleReconnect(reason string) {
	m.setAttempts(m.reconnect.Attempts + 1)
	m.armReconnect(m.backoff(m.reconnect.Attempts), reason)
}

func (m *Manager) armReconnect(delay time.Duration, reason string) {
	if m.closing {
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.setState(StateDisconnected)
	m.reconnectTimer = m.clock.NewTimer(delay)
	m.metrics.ReconnectScheduled(reason, delay)
	m.connLog.Info("reconnect scheduled",
		zap.String("reason", reason),
		zap.Duration("delay", delay),
		zap.Int("attempts", m.reconnect.Attempts),
		zap.Bool("resume", m.session.CanResume()))
}

// shutdown runs on an explicit stop: no reconnect may fire afterwards
func (m *Manager) shutdown() {
	m.setState(StateClosing)
	m.closing = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.dropConnection(CloseNormal)
	m.setState(StateDisconnected)
	m.logger.Info("gateway manager stopped")
}

// sessionSnapshot is used by tests and debug logging
func (m *Manager) sessionSnapshot() SessionState {
	s := m.session
	if s.LastSequence != nil {
		v := *s.LastSequence
		s.LastSequence = &v
	}
	return s
}

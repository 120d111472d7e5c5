package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/gwbridge/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	state        *prometheus.GaugeVec
	connects     *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	backoff      prometheus.Histogram
	heartbeats   prometheus.Counter
	acks         prometheus.Counter
	zombies      prometheus.Counter
	frames       *prometheus.CounterVec
	framesDrop   prometheus.Counter
	dispatches   *prometheus.CounterVec
	forwardCnt   *prometheus.CounterVec
	forwardDur   *prometheus.HistogramVec
	forwardInfl  prometheus.Gauge
	mirrorCnt    *prometheus.CounterVec
	memoryBytes  prometheus.Gauge
	httpReqCnt   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:     r,
		state:        prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "gateway_state", Help: "1 for the current connection state"}, []string{"state"}),
		connects:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "gateway_connect_total"}, []string{"mode", "result"}),
		reconnects:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "gateway_reconnect_scheduled_total"}, []string{"reason"}),
		backoff:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: ns, Name: "gateway_reconnect_delay_seconds", Buckets: []float64{1, 2, 4, 8, 16, 32, 60}}),
		heartbeats:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "gateway_heartbeats_sent_total"}),
		acks:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "gateway_heartbeat_acks_total"}),
		zombies:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "gateway_zombie_connections_total"}),
		frames:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "gateway_frames_received_total"}, []string{"op"}),
		framesDrop:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "gateway_frames_dropped_total"}),
		dispatches:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "gateway_dispatch_total"}, []string{"event", "forwarded"}),
		forwardCnt:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "forward_requests_total"}, []string{"event", "status"}),
		forwardDur:   prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "forward_request_duration_seconds", Buckets: buckets}, []string{"event", "status"}),
		forwardInfl:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "forward_requests_inflight"}),
		mirrorCnt:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "forward_mirror_total"}, []string{"status"}),
		memoryBytes:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "supervisor_memory_bytes"}),
		httpReqCnt:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"}),
	}
	r.MustRegister(
		m.state, m.connects, m.reconnects, m.backoff, m.heartbeats, m.acks, m.zombies,
		m.frames, m.framesDrop, m.dispatches, m.forwardCnt, m.forwardDur, m.forwardInfl,
		m.mirrorCnt, m.memoryBytes, m.httpReqCnt, m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetState marks state as the only active connection state
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) Connect(mode string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.connects.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) ReconnectScheduled(reason string, delay time.Duration) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(reason).Inc()
	m.backoff.Observe(delay.Seconds())
}

func (m *Metrics) HeartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) HeartbeatAcked() {
	if m == nil {
		return
	}
	m.acks.Inc()
}

func (m *Metrics) Zombie() {
	if m == nil {
		return
	}
	m.zombies.Inc()
}

func (m *Metrics) FrameReceived(op string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(op).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDrop.Inc()
}

func (m *Metrics) Dispatch(event string, forwarded bool) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(event, strconv.FormatBool(forwarded)).Inc()
}

func (m *Metrics) ForwardStart() {
	if m == nil {
		return
	}
	m.forwardInfl.Inc()
}

// ForwardDone records a finished post; status is the HTTP code or "error"
func (m *Metrics) ForwardDone(event, status string, since time.Time) {
	if m == nil {
		return
	}
	m.forwardCnt.WithLabelValues(event, status).Inc()
	m.forwardDur.WithLabelValues(event, status).Observe(time.Since(since).Seconds())
	m.forwardInfl.Dec()
}

func (m *Metrics) Mirror(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.mirrorCnt.WithLabelValues(status).Inc()
}

func (m *Metrics) MemoryBytes(n uint64) {
	if m == nil {
		return
	}
	m.memoryBytes.Set(float64(n))
}

// Middleware records request counts and latency for the health server
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

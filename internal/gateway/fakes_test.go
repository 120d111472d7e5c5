package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/gwbridge/internal/common/config"
	"go.uber.org/zap"
)

// fakeClock fires timers only when Advance is called.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	entries []*fakeEntry
}

type fakeEntry struct {
	when    time.Time
	period  time.Duration
	ch      chan time.Time
	stopped bool
}

type fakeTimer struct {
	c *fakeClock
	e *fakeEntry
}

func (t fakeTimer) C() <-chan time.Time { return t.e.ch }
func (t fakeTimer) Stop() bool          { return t.c.stop(t.e) }

type fakeTicker struct {
	c *fakeClock
	e *fakeEntry
}

func (t fakeTicker) C() <-chan time.Time { return t.e.ch }
func (t fakeTicker) Stop()               { t.c.stop(t.e) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) add(d, period time.Duration) *fakeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &fakeEntry{when: c.now.Add(d), period: period, ch: make(chan time.Time, 1)}
	c.entries = append(c.entries, e)
	return e
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	return fakeTimer{c: c, e: c.add(d, 0)}
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	return fakeTicker{c: c, e: c.add(d, d)}
}

func (c *fakeClock) stop(e *fakeEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := !e.stopped
	e.stopped = true
	return was
}

// Advance moves time forward and fires every due timer once per period.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, e := range c.entries {
		for !e.stopped && !e.when.After(c.now) {
			select {
			case e.ch <- e.when:
			default:
			}
			if e.period == 0 {
				e.stopped = true
				break
			}
			e.when = e.when.Add(e.period)
		}
	}
}

// Pending returns the remaining delay of every live one-shot timer, sorted.
func (c *fakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, e := range c.entries {
		if !e.stopped && e.period == 0 {
			out = append(out, e.when.Sub(c.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var errFakeClosed = errors.New("fake socket closed")

type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	reads     chan []byte
	closedCh  chan struct{}
	closeOnce sync.Once
	closeCode int
	writeErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16), closedCh: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.reads:
		return d, nil
	case <-c.closedCh:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code int) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closedCh)
	})
	return nil
}

func (c *fakeConn) Closed() bool {
	select {
	case <-c.closedCh:
		return true
	default:
		return false
	}
}

func (c *fakeConn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// Sent decodes every frame written so far.
func (c *fakeConn) Sent(t *testing.T) []*Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Envelope, 0, len(c.writes))
	for _, w := range c.writes {
		env, err := Decode(w)
		if err != nil {
			t.Fatalf("client wrote undecodable frame %s: %v", w, err)
		}
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) Last(t *testing.T) *Envelope {
	t.Helper()
	sent := c.Sent(t)
	if len(sent) == 0 {
		t.Fatal("no frames written")
	}
	return sent[len(sent)-1]
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) LastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[len(d.urls)-1]
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) Latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type recordingSink struct {
	mu     sync.Mutex
	events []OutboundEvent
}

func (s *recordingSink) Send(_ context.Context, ev OutboundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Events() []OutboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OutboundEvent(nil), s.events...)
}

const testGatewayURL = "wss://gateway.test/?v=10&encoding=json"

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		URL:        testGatewayURL,
		Version:    10,
		Token:      "bot-token",
		Intents:    37377,
		ClientName: "gateway-bridge",
		OS:         "linux",
	}
}

type harness struct {
	m      *Manager
	dialer *fakeDialer
	clock  *fakeClock
	sink   *recordingSink
	ctx    context.Context
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		dialer: &fakeDialer{},
		clock:  newFakeClock(),
		sink:   &recordingSink{},
		ctx:    context.Background(),
	}
	base := []Option{WithDialer(h.dialer), WithClock(h.clock), WithRand(func() float64 { return 0.5 })}
	h.m = NewManager(zap.NewNop(), testGatewayConfig(), h.sink, append(base, opts...)...)
	t.Cleanup(func() {
		for _, c := range h.dialer.conns {
			_ = c.Close(CloseNormal)
		}
	})
	return h
}

// frame builds an inbound envelope
func frame(t *testing.T, op Opcode, d any, seq int64, name string) []byte {
	t.Helper()
	m := map[string]any{"op": op, "d": d, "s": nil, "t": nil}
	if seq > 0 {
		m["s"] = seq
	}
	if name != "" {
		m["t"] = name
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func hello(t *testing.T, ms int) []byte {
	return frame(t, OpHello, map[string]any{"heartbeat_interval": ms}, 0, "")
}

func ready(t *testing.T, seq int64, sessionID string) []byte {
	return frame(t, OpDispatch, map[string]any{
		"v":                  10,
		"session_id":         sessionID,
		"resume_gateway_url": "wss://resume.gateway.test",
		"user":               map[string]any{"id": "42"},
	}, seq, EventReady)
}

// establish drives connect, HELLO and READY on the latest connection.
func (h *harness) establish(t *testing.T) *fakeConn {
	t.Helper()
	h.m.connect(h.ctx)
	conn := h.dialer.Latest()
	h.m.handleFrame(h.ctx, hello(t, 41250))
	h.m.handleFrame(h.ctx, ready(t, 1, "sess-1"))
	if h.m.State() != StateReady {
		t.Fatalf("expected ready, got %s", h.m.State())
	}
	return conn
}

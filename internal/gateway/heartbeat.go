package gateway

import "time"

// HeartbeatMonitor owns the keepalive timers of one connection. The first beat
// is delayed by interval*jitter so that many clients do not beat in lockstep;
// afterwards a ticker fires at exactly interval.
type HeartbeatMonitor struct {
	clock    Clock
	interval time.Duration
	acked    bool
	first    Timer
	ticker   Ticker
}

func newHeartbeatMonitor(clock Clock, interval time.Duration, jitter float64) *HeartbeatMonitor {
	if jitter < 0 || jitter >= 1 {
		jitter = 0
	}
	return &HeartbeatMonitor{
		clock:    clock,
		interval: interval,
		acked:    true,
		first:    clock.NewTimer(time.Duration(float64(interval) * jitter)),
	}
}

// Interval returns the keepalive interval announced by HELLO
func (h *HeartbeatMonitor) Interval() time.Duration {
	return h.interval
}

// Due returns the channel of whichever timer is active; nil after Stop
func (h *HeartbeatMonitor) Due() <-chan time.Time {
	if h == nil {
		return nil
	}
	if h.first != nil {
		return h.first.C()
	}
	if h.ticker != nil {
		return h.ticker.C()
	}
	return nil
}

// Tick is called when Due fires. It returns false when the previous beat was
// never acknowledged; the caller must then treat the connection as dead and
// send nothing. Otherwise the beat is marked outstanding and the caller sends it.
func (h *HeartbeatMonitor) Tick() bool {
	if h.first != nil {
		h.first.Stop()
		h.first = nil
		h.ticker = h.clock.NewTicker(h.interval)
	}
	if !h.acked {
		return false
	}
	h.acked = false
	return true
}

// Ack records a heartbeat acknowledgment. Last write wins.
func (h *HeartbeatMonitor) Ack() {
	h.acked = true
}

// Acked reports whether the last beat has been acknowledged
func (h *HeartbeatMonitor) Acked() bool {
	return h.acked
}

// Stop cancels both timers
func (h *HeartbeatMonitor) Stop() {
	if h == nil {
		return
	}
	if h.first != nil {
		h.first.Stop()
		h.first = nil
	}
	if h.ticker != nil {
		h.ticker.Stop()
		h.ticker = nil
	}
}

package supervisor

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/amoylab/gwbridge/internal/common/cnst"
	"github.com/amoylab/gwbridge/pkg/metrics"
	"go.uber.org/zap"
)

const mb = 1 << 20

// softLimitPercent is the share of the ceiling handed to the Go runtime as its
// soft memory limit.
const softLimitPercent = 90

// Watchdog samples process memory and gives up once the ceiling is crossed.
// The process manager is expected to restart the bridge.
type Watchdog struct {
	logger   *zap.Logger
	limit    uint64
	interval time.Duration
	read     func() uint64
	metrics  *metrics.Metrics
}

func newWatchdog(logger *zap.Logger, limitMB int, interval time.Duration, read func() uint64, m *metrics.Metrics) *Watchdog {
	if read == nil {
		read = readSysMemory
	}
	return &Watchdog{
		logger:   logger.Named("watchdog"),
		limit:    uint64(limitMB) * mb,
		interval: interval,
		read:     read,
		metrics:  m,
	}
}

// Run returns nil when ctx ends and cnst.ErrMemoryLimitExceeded on a trip
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.check(); err != nil {
				return err
			}
		}
	}
}

func (w *Watchdog) check() error {
	used := w.read()
	w.metrics.MemoryBytes(used)
	if w.limit == 0 || used <= w.limit {
		return nil
	}
	w.logger.Error("memory ceiling exceeded, restarting",
		zap.Uint64("used_bytes", used),
		zap.Uint64("limit_bytes", w.limit))
	return fmt.Errorf("%w: %d > %d bytes", cnst.ErrMemoryLimitExceeded, used, w.limit)
}

func readSysMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}

// applySoftLimit sets the runtime memory limit below the ceiling and returns
// a func restoring the previous value.
func applySoftLimit(limitMB int) func() {
	if limitMB <= 0 {
		return func() {}
	}
	prev := debug.SetMemoryLimit(int64(limitMB) * mb * softLimitPercent / 100)
	return func() { debug.SetMemoryLimit(prev) }
}

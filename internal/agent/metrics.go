package agent

import (
	"sync/atomic"
	"time"
)

// PourMetrics tracks in-process counters for the agent. Prometheus carries
// the externally scraped series; this is the cheap snapshot the reporter
// and health checker log.
type PourMetrics struct {
	totalPours      int64
	totalFailed     int64
	totalDurationNs int64
	startedNs       int64
}

func NewPourMetrics() *PourMetrics {
	return &PourMetrics{
		startedNs: time.Now().UnixNano(),
	}
}

func (m *PourMetrics) RecordPour(duration time.Duration) {
	atomic.AddInt64(&m.totalPours, 1)
	atomic.AddInt64(&m.totalDurationNs, int64(duration))
}

func (m *PourMetrics) RecordFailure() {
	atomic.AddInt64(&m.totalFailed, 1)
}

func (m *PourMetrics) GetStats() map[string]interface{} {
	pours := atomic.LoadInt64(&m.totalPours)
	failed := atomic.LoadInt64(&m.totalFailed)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	startedNs := atomic.LoadInt64(&m.startedNs)

	elapsed := time.Since(time.Unix(0, startedNs)).Seconds()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(pours) / elapsed
	}

	avgDuration := time.Duration(0)
	if pours > 0 {
		avgDuration = time.Duration(durationNs / pours)
	}

	return map[string]interface{}{
		"total_pours":     pours,
		"total_failed":    failed,
		"rate_per_second": rate,
		"avg_duration_ms": avgDuration.Milliseconds(),
		"uptime_seconds":  elapsed,
	}
}

func (m *PourMetrics) Reset() {
	atomic.StoreInt64(&m.totalPours, 0)
	atomic.StoreInt64(&m.totalFailed, 0)
	atomic.StoreInt64(&m.totalDurationNs, 0)
	atomic.StoreInt64(&m.startedNs, time.Now().UnixNano())
}

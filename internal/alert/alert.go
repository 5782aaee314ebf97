// Package alert is the last-resort channel for failures that must never be
// thrown back into a caller's mutation path: sink outages, deferred audit
// records, appends after shutdown.
package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/animus-labs/dataguard/internal/platform/metrics"
	"golang.org/x/time/rate"
)

const (
	KindSink        = "sink_write_failed"
	KindAudit       = "audit_deferred"
	KindAppend      = "log_append_failed"
	KindAfterClose  = "append_after_close"
	KindRiskLogging = "risk_logging_failed"
)

// Notifier receives operator-facing alerts. Implementations must not block or panic.
type Notifier interface {
	Alert(kind string, msg string, err error, attrs ...any)
}

// Nop discards every alert.
type Nop struct{}

func (Nop) Alert(string, string, error, ...any) {}

// LogNotifier writes alerts to a structured logger. Repeated alerts of one
// kind are sampled so a sink outage produces one line per interval, not one
// per append.
type LogNotifier struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration

	mu      sync.Mutex
	samples map[string]*rate.Sometimes
}

func NewLogNotifier(logger *slog.Logger, m *metrics.Metrics, interval time.Duration) *LogNotifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &LogNotifier{
		logger:   logger,
		metrics:  m,
		interval: interval,
		samples:  make(map[string]*rate.Sometimes),
	}
}

func (n *LogNotifier) Alert(kind string, msg string, err error, attrs ...any) {
	n.metrics.Alert(kind)

	n.mu.Lock()
	s, ok := n.samples[kind]
	if !ok {
		s = &rate.Sometimes{First: 1, Interval: n.interval}
		n.samples[kind] = s
	}
	n.mu.Unlock()

	s.Do(func() {
		args := append([]any{"alert", kind}, attrs...)
		if err != nil {
			args = append(args, "error", err)
		}
		n.logger.Error(msg, args...)
	})
}

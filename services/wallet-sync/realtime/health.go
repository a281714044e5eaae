package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthTarget is what the monitor watches.
type HealthTarget interface {
	ResubscribeIfIdle() bool
}

// HealthMonitor catches subscriptions that died without the transport
// reporting it, and forces a fresh setup.
type HealthMonitor struct {
	target   HealthTarget
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

func NewHealthMonitor(target HealthTarget, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{target: target, interval: interval, logger: logger}
}

func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopCh != nil {
		return
	}
	stop := make(chan struct{})
	h.stopCh = stop

	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		h.logger.Debug("Health monitor started", zap.Duration("interval", h.interval))
		for {
			select {
			case <-stop:
				h.logger.Debug("Health monitor stopped")
				return
			case <-ticker.C:
				h.Check()
			}
		}
	}()
}

func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopCh != nil {
		close(h.stopCh)
		h.stopCh = nil
	}
}

// Check runs one health probe and reports whether it forced a resubscribe.
func (h *HealthMonitor) Check() bool {
	if !h.target.ResubscribeIfIdle() {
		return false
	}
	h.logger.Warn("Subscription idle without a reconnect in flight, resubscribing")
	return true
}

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const checkTimeout = 5 * time.Second

// HealthMonitor periodically probes registered dependencies and publishes
// the outcome through the collector, where the health endpoint reads it.
type HealthMonitor struct {
	metrics *Metrics
	mu      sync.Mutex
	checks  map[string]CheckFunc
}

// NewHealthMonitor creates a monitor publishing into the given collector.
func NewHealthMonitor(m *Metrics) *HealthMonitor {
	return &HealthMonitor{
		metrics: m,
		checks:  make(map[string]CheckFunc),
	}
}

// Register adds a component probe. Components registered after Run has
// started are picked up on the next round.
func (h *HealthMonitor) Register(component string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[component] = check
}

// RunChecks probes every registered component once.
func (h *HealthMonitor) RunChecks(ctx context.Context) {
	h.mu.Lock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.Unlock()

	for component, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(checkCtx)
		cancel()

		h.metrics.SetHealth(component, err == nil)
		if err != nil {
			log.Warn().Err(err).Str("component", component).Msg("Health check failed")
		}
	}
}

// Run probes on the given interval until the context is cancelled. The first
// round runs immediately so the health endpoint is populated at startup.
func (h *HealthMonitor) Run(ctx context.Context, interval time.Duration) {
	h.RunChecks(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.RunChecks(ctx)
		}
	}
}

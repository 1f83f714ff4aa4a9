package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType labels the kind of measurement a value represents.
type MetricType string

const (
	TypeCounter     MetricType = "counter"    // monotonically increasing count
	TypeGauge       MetricType = "gauge"      // point-in-time value
	TypeTimer       MetricType = "timer"      // duration aggregate
	TypeErrorRate   MetricType = "error_rate" // errors over total
	TypeHealthCheck MetricType = "health"     // component up/down
)

// TimerSnapshot aggregates the recorded durations of one timer.
type TimerSnapshot struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// ErrorRateSnapshot is the error share of one tracked operation.
type ErrorRateSnapshot struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

type timerState struct {
	count       int64
	totalTimeMs int64
	minTimeMs   int64
	maxTimeMs   int64
}

type errorRateState struct {
	total  int64
	errors int64
}

// Metrics is an in-process collector for the cheque engine: lifecycle
// counters, request timers, component health. Hot paths touch only atomics;
// the mutex guards map shape.
type Metrics struct {
	mu           sync.RWMutex
	counters     map[string]*int64
	gauges       map[string]*int64
	timers       map[string]*timerState
	errorRates   map[string]*errorRateState
	healthChecks map[string]*int64
	startTime    time.Time
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{
		counters:     make(map[string]*int64),
		gauges:       make(map[string]*int64),
		timers:       make(map[string]*timerState),
		errorRates:   make(map[string]*errorRateState),
		healthChecks: make(map[string]*int64),
		startTime:    time.Now(),
	}
}

// IncrementCounter increments a counter by 1.
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the given value.
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	m.mu.RLock()
	counter, ok := m.counters[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if counter, ok = m.counters[name]; !ok {
			counter = new(int64)
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(counter, value)
}

// SetGauge stores a point-in-time value.
func (m *Metrics) SetGauge(name string, value int64) {
	m.mu.RLock()
	gauge, ok := m.gauges[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if gauge, ok = m.gauges[name]; !ok {
			gauge = new(int64)
			m.gauges[name] = gauge
		}
		m.mu.Unlock()
	}

	atomic.StoreInt64(gauge, value)
}

// RecordTimer folds one duration into the named timer aggregate.
func (m *Metrics) RecordTimer(name string, durationMs int64) {
	m.mu.RLock()
	timer, ok := m.timers[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if timer, ok = m.timers[name]; !ok {
			timer = &timerState{minTimeMs: math.MaxInt64}
			m.timers[name] = timer
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(&timer.count, 1)
	atomic.AddInt64(&timer.totalTimeMs, durationMs)

	for {
		min := atomic.LoadInt64(&timer.minTimeMs)
		if durationMs >= min || atomic.CompareAndSwapInt64(&timer.minTimeMs, min, durationMs) {
			break
		}
	}
	for {
		max := atomic.LoadInt64(&timer.maxTimeMs)
		if durationMs <= max || atomic.CompareAndSwapInt64(&timer.maxTimeMs, max, durationMs) {
			break
		}
	}
}

// RecordSuccess counts a successful operation toward its error rate.
func (m *Metrics) RecordSuccess(name string) {
	m.recordOutcome(name, false)
}

// RecordError counts a failed operation toward its error rate.
func (m *Metrics) RecordError(name string) {
	m.recordOutcome(name, true)
}

func (m *Metrics) recordOutcome(name string, failed bool) {
	m.mu.RLock()
	state, ok := m.errorRates[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if state, ok = m.errorRates[name]; !ok {
			state = &errorRateState{}
			m.errorRates[name] = state
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(&state.total, 1)
	if failed {
		atomic.AddInt64(&state.errors, 1)
	}
}

// SetHealth records whether a component (database, redis, elasticsearch) is
// currently reachable.
func (m *Metrics) SetHealth(component string, healthy bool) {
	var value int64
	if healthy {
		value = 1
	}

	m.mu.RLock()
	health, ok := m.healthChecks[component]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if health, ok = m.healthChecks[component]; !ok {
			health = new(int64)
			m.healthChecks[component] = health
		}
		m.mu.Unlock()
	}

	atomic.StoreInt64(health, value)
}

// GetCounters returns a snapshot of all counters.
func (m *Metrics) GetCounters() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.counters))
	for name, counter := range m.counters {
		out[name] = atomic.LoadInt64(counter)
	}
	return out
}

// GetGauges returns a snapshot of all gauges.
func (m *Metrics) GetGauges() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.gauges))
	for name, gauge := range m.gauges {
		out[name] = atomic.LoadInt64(gauge)
	}
	return out
}

// GetTimers returns a snapshot of all timer aggregates.
func (m *Metrics) GetTimers() map[string]TimerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]TimerSnapshot, len(m.timers))
	for name, timer := range m.timers {
		count := atomic.LoadInt64(&timer.count)
		total := atomic.LoadInt64(&timer.totalTimeMs)

		var average float64
		if count > 0 {
			average = float64(total) / float64(count)
		}

		out[name] = TimerSnapshot{
			Count:         count,
			TotalTimeMs:   total,
			AverageTimeMs: average,
			MinTimeMs:     atomic.LoadInt64(&timer.minTimeMs),
			MaxTimeMs:     atomic.LoadInt64(&timer.maxTimeMs),
		}
	}
	return out
}

// GetErrorRates returns a snapshot of all error rates, as percentages.
func (m *Metrics) GetErrorRates() map[string]ErrorRateSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ErrorRateSnapshot, len(m.errorRates))
	for name, state := range m.errorRates {
		total := atomic.LoadInt64(&state.total)
		errs := atomic.LoadInt64(&state.errors)

		var rate float64
		if total > 0 {
			rate = float64(errs) / float64(total) * 100.0
		}

		out[name] = ErrorRateSnapshot{Total: total, Errors: errs, ErrorRate: rate}
	}
	return out
}

// GetHealthChecks returns the current health of every monitored component.
func (m *Metrics) GetHealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.healthChecks))
	for name, health := range m.healthChecks {
		out[name] = atomic.LoadInt64(health) > 0
	}
	return out
}

// GetUptimeSeconds returns how long this process has been collecting.
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics bundles every snapshot for the metrics endpoint.
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"gauges":         m.GetGauges(),
		"timers":         m.GetTimers(),
		"error_rates":    m.GetErrorRates(),
		"health_checks":  m.GetHealthChecks(),
	}
}

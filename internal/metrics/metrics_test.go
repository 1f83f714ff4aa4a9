package metrics

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	m := NewMetrics()

	m.IncrementCounter("cheques_generated")
	m.IncrementCounterBy("cheques_generated", 2)
	m.SetGauge("goroutines", 12)
	m.SetGauge("goroutines", 8)

	require.Equal(t, int64(3), m.GetCounters()["cheques_generated"])
	require.Equal(t, int64(8), m.GetGauges()["goroutines"])
}

func TestTimerAggregation(t *testing.T) {
	m := NewMetrics()

	m.RecordTimer("http_request_ms", 10)
	m.RecordTimer("http_request_ms", 30)
	m.RecordTimer("http_request_ms", 20)

	snap := m.GetTimers()["http_request_ms"]
	require.Equal(t, int64(3), snap.Count)
	require.Equal(t, int64(60), snap.TotalTimeMs)
	require.Equal(t, int64(10), snap.MinTimeMs)
	require.Equal(t, int64(30), snap.MaxTimeMs)
	require.InDelta(t, 20.0, snap.AverageTimeMs, 0.001)
}

func TestErrorRates(t *testing.T) {
	m := NewMetrics()

	m.RecordSuccess("http_requests")
	m.RecordSuccess("http_requests")
	m.RecordSuccess("http_requests")
	m.RecordError("http_requests")

	snap := m.GetErrorRates()["http_requests"]
	require.Equal(t, int64(4), snap.Total)
	require.Equal(t, int64(1), snap.Errors)
	require.InDelta(t, 25.0, snap.ErrorRate, 0.001)
}

func TestHealthMonitorPublishesComponentState(t *testing.T) {
	m := NewMetrics()
	monitor := NewHealthMonitor(m)

	monitor.Register("database", func(ctx context.Context) error { return nil })
	monitor.Register("redis", func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	monitor.RunChecks(context.Background())

	checks := m.GetHealthChecks()
	require.True(t, checks["database"])
	require.False(t, checks["redis"])

	all := m.GetAllMetrics()
	require.Equal(t, checks, all["health_checks"])
}

func TestHealthMonitorRecoversComponent(t *testing.T) {
	m := NewMetrics()
	monitor := NewHealthMonitor(m)

	healthy := false
	monitor.Register("elasticsearch", func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("cluster unreachable")
	})

	monitor.RunChecks(context.Background())
	require.False(t, m.GetHealthChecks()["elasticsearch"])

	healthy = true
	monitor.RunChecks(context.Background())
	require.True(t, m.GetHealthChecks()["elasticsearch"])
}

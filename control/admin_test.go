package control

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
)

func TestLoopMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	lm := m.ForLoop("worker-0")
	lm.TasksExecuted(3)
	lm.TasksExecuted(0)
	lm.ChannelAdded()
	lm.ChannelAdded()
	lm.ChannelRemoved()
	lm.BytesRead(10)
	lm.BytesWritten(7)
	lm.Accepted()
	lm.ConnectFailed()
	lm.Exception()
	lm.Panic()
	lm.SetPending(4)
	lm.ShutdownTook(0.2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.TasksExecuted.WithLabelValues("worker-0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Channels.WithLabelValues("worker-0")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.BytesRead.WithLabelValues("worker-0")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BytesWritten.WithLabelValues("worker-0")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PendingTasks.WithLabelValues("worker-0")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ShutdownDuration))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	lm := m.ForLoop("x")
	assert.Nil(t, lm)
	assert.NotPanics(t, func() {
		lm.ChannelAdded()
		lm.BytesRead(1)
		lm.ShutdownTook(1)
		m.RegisterBufferStats(func() api.BufferPoolStats { return api.BufferPoolStats{} })
	})
}

func TestBufferStatsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RegisterBufferStats(func() api.BufferPoolStats {
		return api.BufferPoolStats{TotalAlloc: 5, TotalFree: 2, Reused: 1, InUse: 3}
	})
	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, mt := range f.GetMetric() {
			switch {
			case mt.GetGauge() != nil:
				values[f.GetName()] = mt.GetGauge().GetValue()
			case mt.GetCounter() != nil:
				values[f.GetName()] = mt.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 5.0, values["hioload_buffer_allocated_total"])
	assert.Equal(t, 2.0, values["hioload_buffer_released_total"])
	assert.Equal(t, 1.0, values["hioload_buffer_reused_total"])
	assert.Equal(t, 3.0, values["hioload_buffer_in_use"])
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	unregister := dp.RegisterProbe("loops", func() any { return 2 })
	dp.RegisterProbe("broken", func() any { panic("boom") })

	state := dp.DumpState()
	assert.Equal(t, 2, state["loops"])
	assert.Contains(t, state["broken"], "probe panic")

	unregister()
	_, ok := dp.DumpState()["loops"]
	assert.False(t, ok)
}

func TestPlatformProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	state := dp.DumpState()
	assert.Greater(t, state["platform.cpus"], 0)
	assert.Contains(t, state, "platform.goroutines")
}

func TestAdminHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg).ForLoop("boss-0").ChannelAdded()
	dp := NewDebugProbes()
	dp.RegisterProbe("answer", func() any { return 42 })
	srv := httptest.NewServer(AdminHandler(reg, dp))
	defer srv.Close()

	body := get(t, srv.URL+"/health")
	assert.Equal(t, "OK", body)

	body = get(t, srv.URL+"/metrics")
	assert.Contains(t, body, `hioload_loop_channels{loop="boss-0"} 1`)

	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(get(t, srv.URL+"/debug/state")), &state))
	assert.Equal(t, 42.0, state["answer"])
}

func TestStartAdmin(t *testing.T) {
	s, err := StartAdmin("127.0.0.1:0", prometheus.NewRegistry(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "OK", get(t, "http://"+s.Addr().String()+"/health"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

package telemetry_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/fstx/pkg/fstx/telemetry"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *telemetry.Metrics
	assert.NotPanics(t, func() {
		m.RecordCommand("copy", "success")
		m.RecordBatch("completed", time.Second)
		m.RecordRetry()
		m.RecordError("low", "skip")
		m.RecordRollback("success")
		m.RecordEvictions(3)
		m.SetHistoryState(10, 1, 2)
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteToTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestDisabledConfigReturnsNil(t *testing.T) {
	assert.Nil(t, telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false}))
}

func TestMetricsRecord(t *testing.T) {
	m := telemetry.NewMetrics(telemetry.DefaultMetricsConfig())
	require.NotNil(t, m)

	m.RecordCommand("copy", "success")
	m.RecordCommand("copy", "success")
	m.RecordCommand("delete", "failure")
	m.RecordRetry()
	m.RecordEvictions(2)
	m.RecordBatch("completed", 10*time.Millisecond)

	count, err := testutil.GatherAndCount(m.Registry(), "fstx_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, m.WriteToTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fstx_commands_total{outcome="success",type="copy"} 2`)
	assert.Contains(t, string(data), "fstx_command_retries_total 1")
	assert.Contains(t, string(data), "fstx_history_evictions_total 2")
	assert.Contains(t, string(data), `fstx_batches_total{status="completed"} 1`)
}

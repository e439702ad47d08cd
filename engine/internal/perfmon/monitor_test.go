package perfmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUpdatesMinMaxLast(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Register("sensor-filter", 20*time.Millisecond)

	m.Record("sensor-filter", 5*time.Millisecond)
	m.Record("sensor-filter", 2*time.Millisecond)
	m.Record("sensor-filter", 8*time.Millisecond)

	stats, ok := m.Snapshot("sensor-filter")
	require.True(t, ok)
	assert.Equal(t, int64(8000), stats.LastMicros)
	assert.Equal(t, int64(2000), stats.MinMicros)
	assert.Equal(t, int64(8000), stats.MaxMicros)
	assert.Equal(t, int64(3), stats.SampleCount)
}

func TestRecordCountsDeadlineViolations(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Register("nav", 10*time.Millisecond)

	m.Record("nav", 5*time.Millisecond)
	m.Record("nav", 15*time.Millisecond)
	m.Record("nav", 20*time.Millisecond)

	stats, ok := m.Snapshot("nav")
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.DeadlineViolations)
	assert.Equal(t, int64(10000), stats.WorstOverrunMicros)
}

func TestSnapshotUnknownTaskReturnsFalse(t *testing.T) {
	m := NewMonitor(nil, nil)
	_, ok := m.Snapshot("nonexistent")
	assert.False(t, ok)
}

func TestResetClearsStatsButKeepsRegistration(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Register("logger", 500*time.Millisecond)
	m.Record("logger", time.Millisecond)
	m.Reset("logger")

	stats, ok := m.Snapshot("logger")
	require.True(t, ok)
	assert.Equal(t, int64(0), stats.SampleCount)
	assert.Equal(t, int64(500000), stats.Period)
}

func TestReportSortedByName(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Register("zeta", time.Millisecond)
	m.Register("alpha", time.Millisecond)
	report := m.Report()
	require.Len(t, report, 2)
	assert.Equal(t, "alpha", report[0].Name)
	assert.Equal(t, "zeta", report[1].Name)
}

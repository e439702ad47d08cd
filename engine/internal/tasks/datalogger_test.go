package tasks

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orefield/haulcore/engine/internal/buffer"
	"github.com/orefield/haulcore/engine/internal/perfmon"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

func newTestDataLogger(t *testing.T, path string) *DataLogger {
	t.Helper()
	ring := buffer.New(buffer.DefaultCapacity, nil)
	pm := perfmon.NewMonitor(nil, nil)
	pm.Register(DataLoggerName, time.Millisecond)
	wd := watchdog.New(time.Second, nil, nil, nil)
	wd.Register(DataLoggerName, time.Second)
	return NewDataLogger(100*time.Millisecond, path, "truck-1", ring, pm, wd, func() models.TruckState {
		return models.TruckState{Automatic: true}
	})
}

func TestDataLoggerWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	d := newTestDataLogger(t, path)
	d.LogEvent(1000, models.TruckState{Automatic: true}, 1, 2, "boundary-event")
	d.Stop()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Timestamp", "TruckID", "State", "PositionX", "PositionY", "Description"}, rows[0])
	assert.Equal(t, "boundary-event", rows[1][5])
}

func TestDataLoggerDegradesToNoOpOnOpenFailure(t *testing.T) {
	// Directory path used as the sink path: OpenFile must fail.
	dir := t.TempDir()
	d := newTestDataLogger(t, dir)
	assert.NotPanics(t, func() {
		d.LogEvent(1000, models.TruckState{}, 1, 2, "should be dropped")
	})
	d.Stop()
}

func TestDataLoggerIterateAppendsPeriodicRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	d := newTestDataLogger(t, path)
	d.ring.Write(models.FilteredSensorSample{PositionX: 5, PositionY: 6, TimestampMillis: 42})
	d.iterate(nil)
	d.Stop()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "5", rows[1][3])
	assert.Equal(t, "6", rows[1][4])
}

package tasks

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/orefield/haulcore/engine/internal/buffer"
	"github.com/orefield/haulcore/engine/internal/perfmon"
	"github.com/orefield/haulcore/engine/internal/scheduler"
	"github.com/orefield/haulcore/engine/internal/telemetry/logging"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

const DataLoggerName = "data-logger"

var csvHeader = []string{"Timestamp", "TruckID", "State", "PositionX", "PositionY", "Description"}

// DataLogger appends structured rows to a CSV sink. On a startup failure to
// open the file it degrades to a silent no-op rather than aborting the
// process — the Main Coordinator's startup path must still bring up the
// rest of the core. It owns the file lock, #10 in the core's global
// ordering.
type DataLogger struct {
	fileMu sync.Mutex
	file   *os.File
	writer *csv.Writer
	truckID string
	stateFn func() models.TruckState

	ring *buffer.Ring
	pm   *perfmon.Monitor
	wd   *watchdog.Watchdog
	task *scheduler.Task
	log  logging.Logger
}

func NewDataLogger(period time.Duration, path string, truckID string, ring *buffer.Ring, pm *perfmon.Monitor, wd *watchdog.Watchdog, stateFn func() models.TruckState) *DataLogger {
	d := &DataLogger{
		truckID: truckID,
		stateFn: stateFn,
		ring:    ring,
		pm:      pm,
		wd:      wd,
		task:    scheduler.New(DataLoggerName, period),
		log:     logging.For(logging.ModuleDataLogger),
	}
	d.open(path)
	return d
}

func (d *DataLogger) open(path string) {
	info, statErr := os.Stat(path)
	needsHeader := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		d.log.Error(nil, "data logger failed to open sink, degrading to no-op", "path", path, "error", err)
		return
	}
	w := csv.NewWriter(f)
	if needsHeader {
		_ = w.Write(csvHeader)
		w.Flush()
	}
	d.fileMu.Lock()
	d.file = f
	d.writer = w
	d.fileMu.Unlock()
}

func (d *DataLogger) Start(ctx context.Context) { d.task.Start(ctx, d.iterate) }

func (d *DataLogger) Stop() {
	d.task.Stop()
	d.fileMu.Lock()
	defer d.fileMu.Unlock()
	if d.writer != nil {
		d.writer.Flush()
	}
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
		d.writer = nil
	}
}

func (d *DataLogger) iterate(ctx context.Context) {
	start := time.Now()
	sample := d.ring.PeekLatest()
	state := d.stateFn()
	d.writeRow(sample.TimestampMillis, state, sample.PositionX, sample.PositionY, "periodic-snapshot")
	d.wd.Heartbeat(DataLoggerName)
	d.pm.Record(DataLoggerName, time.Since(start))
}

// LogEvent is the public synchronous entry point used by the fault
// callback that engine.New registers; Main's boundary pump does not call
// it. It serializes under the file lock independently of the periodic
// iteration above.
func (d *DataLogger) LogEvent(timestampMillis int64, state models.TruckState, x, y int, description string) {
	d.writeRow(timestampMillis, state, x, y, description)
}

func (d *DataLogger) writeRow(timestampMillis int64, state models.TruckState, x, y int, description string) {
	d.fileMu.Lock()
	defer d.fileMu.Unlock()
	if d.writer == nil {
		return
	}
	row := []string{
		fmt.Sprintf("%d", timestampMillis),
		d.truckID,
		state.String(),
		fmt.Sprintf("%d", x),
		fmt.Sprintf("%d", y),
		description,
	}
	if err := d.writer.Write(row); err != nil {
		d.log.Warn(nil, "data logger row write failed", "error", err)
		return
	}
	d.writer.Flush()
}

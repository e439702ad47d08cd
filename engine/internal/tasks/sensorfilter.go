// Package tasks implements the six periodic control tasks: Sensor Filter,
// Fault Detector, Command/Mode, Navigation, Data Logger, and Local
// Snapshot. Each owns a scheduler.Task and runs its iteration body under
// its own lock, per the core's lock-ordering discipline.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/orefield/haulcore/engine/internal/buffer"
	"github.com/orefield/haulcore/engine/internal/perfmon"
	"github.com/orefield/haulcore/engine/internal/scheduler"
	"github.com/orefield/haulcore/engine/internal/telemetry/logging"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

const SensorFilterName = "sensor-filter"

// SensorFilter applies a per-channel moving-average filter of order M to
// the raw sample slot Main updates, writing the filtered result to the
// Ring Buffer every iteration.
type SensorFilter struct {
	mu  sync.Mutex // raw-slot lock, #2 in the global ordering
	raw models.RawSensorSample

	order   int
	windows map[string][]int

	ring *buffer.Ring
	pm   *perfmon.Monitor
	wd   *watchdog.Watchdog
	task *scheduler.Task

	log logging.Logger
}

func NewSensorFilter(period time.Duration, order int, ring *buffer.Ring, pm *perfmon.Monitor, wd *watchdog.Watchdog) *SensorFilter {
	if order <= 0 {
		order = 5
	}
	f := &SensorFilter{
		order:   order,
		windows: make(map[string][]int),
		ring:    ring,
		pm:      pm,
		wd:      wd,
		task:    scheduler.New(SensorFilterName, period),
		log:     logging.For(logging.ModuleSensorFilter),
	}
	return f
}

// SetRaw updates the raw-sample slot under the raw-slot lock (lock #2 in
// the global ordering). Called by Main each poll cycle.
func (f *SensorFilter) SetRaw(sample models.RawSensorSample) {
	f.mu.Lock()
	f.raw = sample
	f.mu.Unlock()
}

func (f *SensorFilter) Start(ctx context.Context) {
	f.task.Start(ctx, f.iterate)
}

func (f *SensorFilter) Stop() { f.task.Stop() }

func (f *SensorFilter) iterate(ctx context.Context) {
	start := time.Now()

	f.mu.Lock()
	raw := f.raw
	f.mu.Unlock()

	filtered := models.FilteredSensorSample{
		PositionX:       f.pushAndMean("x", raw.PositionX),
		PositionY:       f.pushAndMean("y", raw.PositionY),
		Heading:         f.pushAndMean("heading", raw.Heading),
		Temperature:     f.pushAndMean("temperature", raw.Temperature),
		FaultElectrical: raw.FaultElectrical,
		FaultHydraulic:  raw.FaultHydraulic,
		TimestampMillis: time.Now().UnixMilli(),
	}
	f.ring.Write(filtered)

	f.wd.Heartbeat(SensorFilterName)
	f.pm.Record(SensorFilterName, time.Since(start))
}

// pushAndMean maintains a bounded window per channel and returns the
// integer mean of the queued values, floored toward zero (Go's integer
// division already truncates toward zero). Before the window fills, the
// mean is over the partial window.
func (f *SensorFilter) pushAndMean(channel string, value int) int {
	w := f.windows[channel]
	w = append(w, value)
	if len(w) > f.order {
		w = w[1:]
	}
	f.windows[channel] = w

	sum := 0
	for _, v := range w {
		sum += v
	}
	return sum / len(w)
}

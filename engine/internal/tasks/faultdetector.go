package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/orefield/haulcore/engine/internal/buffer"
	"github.com/orefield/haulcore/engine/internal/perfmon"
	"github.com/orefield/haulcore/engine/internal/scheduler"
	"github.com/orefield/haulcore/engine/internal/telemetry/events"
	"github.com/orefield/haulcore/engine/internal/telemetry/logging"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

const FaultDetectorName = "fault-detector"

const (
	tempCriticalThreshold = 120
	tempWarningThreshold  = 95
)

// FaultCallback is invoked synchronously on the Fault Detector's own
// goroutine. Callbacks must be non-blocking and must never re-enter
// FaultDetector methods.
type FaultCallback func(kind models.FaultKind, sample models.FilteredSensorSample)

// FaultDetector classifies the latest filtered sample into a FaultKind
// every iteration and fires registered callbacks on edge transitions to a
// non-none classification. It intentionally does NOT invoke the primary
// callback list on a return-to-none edge — callbacks model fault onset,
// not recovery — but it does publish a secondary best-effort event for
// every edge, including back-to-none, onto the async event bus so
// operator tooling can still observe full recovery.
type FaultDetector struct {
	stateMu sync.Mutex // fault-state lock, #3 in the global ordering
	current models.FaultKind

	callbackMu sync.Mutex // callback-list lock, #6 in the global ordering; acquired strictly after the fault-state lock when both are held
	callbacks  []FaultCallback

	ring *buffer.Ring
	pm   *perfmon.Monitor
	wd   *watchdog.Watchdog
	bus  events.Bus
	task *scheduler.Task
	log  logging.Logger
}

func NewFaultDetector(period time.Duration, ring *buffer.Ring, pm *perfmon.Monitor, wd *watchdog.Watchdog, bus events.Bus) *FaultDetector {
	return &FaultDetector{
		ring: ring,
		pm:   pm,
		wd:   wd,
		bus:  bus,
		task: scheduler.New(FaultDetectorName, period),
		log:  logging.For(logging.ModuleFaultDetector),
	}
}

// Register appends a callback. Registration is additive only; there is no
// deregistration during operation.
func (d *FaultDetector) Register(cb FaultCallback) {
	d.callbackMu.Lock()
	d.callbacks = append(d.callbacks, cb)
	d.callbackMu.Unlock()
}

func (d *FaultDetector) Start(ctx context.Context) { d.task.Start(ctx, d.iterate) }
func (d *FaultDetector) Stop()                     { d.task.Stop() }

func classify(sample models.FilteredSensorSample) models.FaultKind {
	switch {
	case sample.Temperature > tempCriticalThreshold:
		return models.FaultTemperatureCritical
	case sample.FaultElectrical:
		return models.FaultElectrical
	case sample.FaultHydraulic:
		return models.FaultHydraulic
	case sample.Temperature > tempWarningThreshold:
		return models.FaultTemperatureWarning
	default:
		return models.FaultNone
	}
}

func (d *FaultDetector) iterate(ctx context.Context) {
	start := time.Now()

	sample := d.ring.PeekLatest()
	kind := classify(sample)

	d.stateMu.Lock()
	prev := d.current
	changed := kind != prev
	if changed {
		d.current = kind
	}
	d.stateMu.Unlock()

	if changed {
		if d.bus != nil {
			_ = d.bus.Publish(events.Event{Category: events.CategoryFault, Type: "classification_change",
				Fields: map[string]interface{}{"previous": prev.String(), "current": kind.String()}})
		}
		if kind != models.FaultNone {
			d.callbackMu.Lock()
			for _, cb := range d.callbacks {
				invokeCallback(d.log, ctx, cb, kind, sample)
			}
			d.callbackMu.Unlock()
		}
	}

	d.wd.Heartbeat(FaultDetectorName)
	d.pm.Record(FaultDetectorName, time.Since(start))
}

func invokeCallback(log logging.Logger, ctx context.Context, cb FaultCallback, kind models.FaultKind, sample models.FilteredSensorSample) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, "fault callback panicked", "recovered", r)
		}
	}()
	cb(kind, sample)
}

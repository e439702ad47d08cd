package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orefield/haulcore/engine/internal/buffer"
	"github.com/orefield/haulcore/engine/internal/perfmon"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

func newTestFaultDetector(t *testing.T) (*FaultDetector, *buffer.Ring) {
	t.Helper()
	ring := buffer.New(buffer.DefaultCapacity, nil)
	pm := perfmon.NewMonitor(nil, nil)
	pm.Register(FaultDetectorName, time.Millisecond)
	wd := watchdog.New(time.Second, nil, nil, nil)
	wd.Register(FaultDetectorName, time.Second)
	return NewFaultDetector(20*time.Millisecond, ring, pm, wd, nil), ring
}

func TestClassifyPriorityOrder(t *testing.T) {
	assert.Equal(t, models.FaultTemperatureCritical, classify(models.FilteredSensorSample{Temperature: 150, FaultElectrical: true}))
	assert.Equal(t, models.FaultElectrical, classify(models.FilteredSensorSample{Temperature: 50, FaultElectrical: true, FaultHydraulic: true}))
	assert.Equal(t, models.FaultHydraulic, classify(models.FilteredSensorSample{Temperature: 50, FaultHydraulic: true}))
	assert.Equal(t, models.FaultTemperatureWarning, classify(models.FilteredSensorSample{Temperature: 100}))
	assert.Equal(t, models.FaultNone, classify(models.FilteredSensorSample{Temperature: 20}))
}

func TestFaultDetectorFiresCallbackOnlyOnNonNoneEdge(t *testing.T) {
	d, ring := newTestFaultDetector(t)
	var fired []models.FaultKind
	d.Register(func(kind models.FaultKind, sample models.FilteredSensorSample) {
		fired = append(fired, kind)
	})

	ring.Write(models.FilteredSensorSample{Temperature: 20})
	d.iterate(nil)
	require.Empty(t, fired)

	ring.Write(models.FilteredSensorSample{Temperature: 150})
	d.iterate(nil)
	require.Len(t, fired, 1)
	assert.Equal(t, models.FaultTemperatureCritical, fired[0])

	ring.Write(models.FilteredSensorSample{Temperature: 150})
	d.iterate(nil)
	assert.Len(t, fired, 1, "no edge, no additional callback invocation")

	ring.Write(models.FilteredSensorSample{Temperature: 20})
	d.iterate(nil)
	assert.Len(t, fired, 1, "transition back to none must not invoke the primary callback list")
}

func TestFaultDetectorCallbackPanicIsRecovered(t *testing.T) {
	d, ring := newTestFaultDetector(t)
	d.Register(func(kind models.FaultKind, sample models.FilteredSensorSample) {
		panic("boom")
	})
	ring.Write(models.FilteredSensorSample{Temperature: 150})
	assert.NotPanics(t, func() { d.iterate(nil) })
}

package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orefield/haulcore/engine/internal/buffer"
	"github.com/orefield/haulcore/engine/internal/perfmon"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

func newTestLocalSnapshot(t *testing.T) (*LocalSnapshot, *buffer.Ring) {
	t.Helper()
	ring := buffer.New(buffer.DefaultCapacity, nil)
	pm := perfmon.NewMonitor(nil, nil)
	pm.Register(LocalSnapshotName, time.Millisecond)
	wd := watchdog.New(time.Second, nil, nil, nil)
	wd.Register(LocalSnapshotName, time.Second)
	s := NewLocalSnapshot(100*time.Millisecond, ring, pm, wd,
		func() models.TruckState { return models.TruckState{Automatic: true} },
		func() models.ActuatorCommand { return models.ActuatorCommand{Velocity: 30} },
	)
	return s, ring
}

func TestLocalSnapshotCapturesConsistentTriple(t *testing.T) {
	s, ring := newTestLocalSnapshot(t)
	ring.Write(models.FilteredSensorSample{PositionX: 7, PositionY: 9})
	s.iterate(nil)

	rec := s.Latest()
	assert.Equal(t, 7, rec.Sample.PositionX)
	assert.True(t, rec.State.Automatic)
	assert.Equal(t, 30, rec.Actuator.Velocity)
	assert.NotZero(t, rec.CapturedAtMillis)
}

func TestLocalSnapshotEmptyBufferReturnsZeroSample(t *testing.T) {
	s, _ := newTestLocalSnapshot(t)
	s.iterate(nil)
	rec := s.Latest()
	assert.Equal(t, models.FilteredSensorSample{}, rec.Sample)
}

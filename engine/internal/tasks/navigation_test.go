package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orefield/haulcore/engine/internal/buffer"
	"github.com/orefield/haulcore/engine/internal/perfmon"
	"github.com/orefield/haulcore/engine/internal/routeplanner"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

func newTestNavigation(t *testing.T, state models.TruckState) (*Navigation, *buffer.Ring, *routeplanner.Planner, *models.ActuatorCommand) {
	t.Helper()
	ring := buffer.New(buffer.DefaultCapacity, nil)
	pm := perfmon.NewMonitor(nil, nil)
	pm.Register(NavigationName, time.Millisecond)
	wd := watchdog.New(time.Second, nil, nil, nil)
	wd.Register(NavigationName, time.Second)
	planner := routeplanner.New()

	var published models.ActuatorCommand
	n := NewNavigation(10*time.Millisecond, ring, pm, wd, nil, planner,
		func() models.TruckState { return state },
		func(out models.ActuatorCommand) { published = out },
	)
	return n, ring, planner, &published
}

func TestNavigationBumplessTransferWhenNotAutomatic(t *testing.T) {
	n, ring, planner, published := newTestNavigation(t, models.TruckState{Automatic: false})
	planner.SetTarget(1000, 1000, 50)
	ring.Write(models.FilteredSensorSample{PositionX: 10, PositionY: 20, Heading: 90})

	n.iterate(nil)
	assert.Equal(t, models.ActuatorCommand{Velocity: 0, Steering: 0, Arrived: false}, *published)
	assert.False(t, n.Arrived())
}

func TestNavigationFaultForcesBumplessEvenIfAutomatic(t *testing.T) {
	n, ring, planner, published := newTestNavigation(t, models.TruckState{Automatic: true, Fault: true})
	planner.SetTarget(1000, 1000, 50)
	ring.Write(models.FilteredSensorSample{PositionX: 10, PositionY: 20, Heading: 90})

	n.iterate(nil)
	assert.Equal(t, 0, published.Velocity)
	assert.Equal(t, 0, published.Steering)
}

func TestNavigationArrivesWithinRadius(t *testing.T) {
	n, ring, planner, published := newTestNavigation(t, models.TruckState{Automatic: true})
	planner.SetTarget(100, 100, 50)
	ring.Write(models.FilteredSensorSample{PositionX: 98, PositionY: 100, Heading: 0})

	n.iterate(nil)
	assert.True(t, published.Arrived)
	assert.True(t, n.Arrived())
	assert.Equal(t, 0, published.Velocity)
}

func TestNavigationRotatesThenMoves(t *testing.T) {
	n, ring, planner, published := newTestNavigation(t, models.TruckState{Automatic: true})
	planner.SetTarget(1000, 0, 50)
	ring.Write(models.FilteredSensorSample{PositionX: 0, PositionY: 0, Heading: 90})

	n.iterate(nil)
	require.Equal(t, 0, published.Velocity, "should still be rotating toward heading 0")
	assert.NotEqual(t, 0, published.Steering)

	ring.Write(models.FilteredSensorSample{PositionX: 0, PositionY: 0, Heading: 0})
	n.iterate(nil)
	assert.Equal(t, cruiseSpeed, published.Velocity)
	assert.Equal(t, 0, published.Steering)
}

func TestNavigationDemotesToRotatingWhenMisaligned(t *testing.T) {
	n, ring, planner, published := newTestNavigation(t, models.TruckState{Automatic: true})
	planner.SetTarget(1000, 0, 50)
	ring.Write(models.FilteredSensorSample{PositionX: 0, PositionY: 0, Heading: 0})
	n.iterate(nil)
	require.Equal(t, cruiseSpeed, published.Velocity)

	ring.Write(models.FilteredSensorSample{PositionX: 0, PositionY: 0, Heading: 30})
	n.iterate(nil)
	assert.Equal(t, 0, published.Velocity, "heading error of 30 degrees exceeds realignment threshold")
}

func TestNavigationNewTargetClearsArrivedFlag(t *testing.T) {
	n, ring, planner, published := newTestNavigation(t, models.TruckState{Automatic: true})
	planner.SetTarget(100, 100, 50)
	ring.Write(models.FilteredSensorSample{PositionX: 98, PositionY: 100, Heading: 0})
	n.iterate(nil)
	require.True(t, published.Arrived)

	planner.SetTarget(500, 500, 50)
	n.iterate(nil)
	assert.False(t, n.Arrived())
}

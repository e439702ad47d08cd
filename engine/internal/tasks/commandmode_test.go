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

func newTestCommandMode(t *testing.T) (*CommandMode, *buffer.Ring) {
	t.Helper()
	ring := buffer.New(buffer.DefaultCapacity, nil)
	pm := perfmon.NewMonitor(nil, nil)
	pm.Register(CommandModeName, time.Millisecond)
	wd := watchdog.New(time.Second, nil, nil, nil)
	wd.Register(CommandModeName, time.Second)
	cm := NewCommandMode(10*time.Millisecond, ring, pm, wd, nil, nil)
	return cm, ring
}

func TestCommandModeStartsManualNoFault(t *testing.T) {
	cm, _ := newTestCommandMode(t)
	state := cm.State()
	assert.False(t, state.Automatic)
	assert.False(t, state.Fault)
}

func TestCommandModeRequestAutoSucceedsWhenNoFault(t *testing.T) {
	cm, ring := newTestCommandMode(t)
	ring.Write(models.FilteredSensorSample{Temperature: 20})
	cm.SubmitCommand(models.OperatorCommand{RequestAuto: true})
	cm.iterate(nil)
	require.True(t, cm.State().Automatic)
}

func TestCommandModeFaultOverridesAutomatic(t *testing.T) {
	cm, ring := newTestCommandMode(t)
	ring.Write(models.FilteredSensorSample{Temperature: 20})
	cm.SubmitCommand(models.OperatorCommand{RequestAuto: true})
	cm.iterate(nil)
	require.True(t, cm.State().Automatic)

	ring.Write(models.FilteredSensorSample{Temperature: 150})
	cm.iterate(nil)
	state := cm.State()
	assert.True(t, state.Fault)
	assert.Equal(t, models.ActuatorCommand{}, cm.LatestActuator())
}

func TestCommandModeRearmClearsFaultOnlyWhenConditionGone(t *testing.T) {
	cm, ring := newTestCommandMode(t)
	ring.Write(models.FilteredSensorSample{Temperature: 150})
	cm.iterate(nil)
	require.True(t, cm.State().Fault)

	cm.SubmitCommand(models.OperatorCommand{RequestRearm: true})
	cm.iterate(nil)
	assert.True(t, cm.State().Fault, "rearm while condition persists must not clear fault")

	ring.Write(models.FilteredSensorSample{Temperature: 20})
	cm.SubmitCommand(models.OperatorCommand{RequestRearm: true})
	cm.iterate(nil)
	assert.False(t, cm.State().Fault)
}

func TestCommandModeManualSteeringAccumulatesFromBase(t *testing.T) {
	cm, ring := newTestCommandMode(t)
	ring.Write(models.FilteredSensorSample{Temperature: 20})
	cm.SubmitCommand(models.OperatorCommand{SteerLeft: 10})
	cm.iterate(nil)
	assert.Equal(t, 10, cm.LatestActuator().Steering)

	cm.SubmitCommand(models.OperatorCommand{SteerLeft: 5})
	cm.iterate(nil)
	assert.Equal(t, 15, cm.LatestActuator().Steering)
}

func TestCommandModeAutomaticUsesNavigationOutputVerbatim(t *testing.T) {
	cm, ring := newTestCommandMode(t)
	ring.Write(models.FilteredSensorSample{Temperature: 20})
	cm.SubmitCommand(models.OperatorCommand{RequestAuto: true})
	cm.SetNavigationOutput(models.ActuatorCommand{Velocity: 42, Steering: 7})
	cm.iterate(nil)
	out := cm.LatestActuator()
	assert.Equal(t, 42, out.Velocity)
	assert.Equal(t, 7, out.Steering)
}

package boundary

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orefield/haulcore/engine/models"
)

func newTestWatcher(t *testing.T) (*Watcher, string, string) {
	t.Helper()
	inDir := filepath.Join(t.TempDir(), "in")
	outDir := filepath.Join(t.TempDir(), "out")
	w, err := NewWatcher(inDir, outDir, "1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, inDir, outDir
}

func writeInbound(t *testing.T, dir, name string, topic string, payload interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	env := envelope{Topic: topic, Payload: body}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestPollParsesLatestSensorFileAndRemovesAllMatches(t *testing.T) {
	w, inDir, _ := newTestWatcher(t)
	writeInbound(t, inDir, "a_truck_1_sensors.json", "sensor", sensorPayload{
		PositionX: intPtr(1), PositionY: intPtr(2), AngleX: intPtr(3), Temperature: intPtr(40),
		FaultElectrical: boolPtr(false), FaultHydraulic: boolPtr(false),
	})
	writeInbound(t, inDir, "b_truck_1_sensors.json", "sensor", sensorPayload{
		PositionX: intPtr(9), PositionY: intPtr(9), AngleX: intPtr(9), Temperature: intPtr(9),
		FaultElectrical: boolPtr(true), FaultHydraulic: boolPtr(false),
	})

	in := w.Poll()
	require.NotNil(t, in.Sensor)
	assert.Equal(t, 9, in.Sensor.PositionX)

	entries, err := os.ReadDir(inDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPollDiscardsCommandMissingAllSixFields(t *testing.T) {
	w, inDir, _ := newTestWatcher(t)
	writeInbound(t, inDir, "truck_1_commands.json", "command", map[string]interface{}{})
	in := w.Poll()
	assert.Nil(t, in.Command)
}

func TestPollSilentlyRemovesMalformedJSON(t *testing.T) {
	w, inDir, _ := newTestWatcher(t)
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "truck_1_setpoint.json"), []byte("{not json"), 0o644))
	in := w.Poll()
	assert.Nil(t, in.Setpoint)
	entries, err := os.ReadDir(inDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteActuatorUsesAccelerationFieldForVelocity(t *testing.T) {
	w, _, outDir := newTestWatcher(t)
	require.NoError(t, w.WriteActuator(models.ActuatorCommand{Velocity: 30, Steering: -10, Arrived: true}))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "truck_1_commands")

	data, err := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	require.NoError(t, err)
	var out actuatorOutPayload
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 30, out.Acceleration)
	assert.Equal(t, -10, out.Steering)
	assert.True(t, out.Arrived)
}

func TestWriteStateEmitsAutomaticAndFault(t *testing.T) {
	w, _, outDir := newTestWatcher(t)
	require.NoError(t, w.WriteState(models.TruckState{Automatic: true, Fault: false}))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "truck_1_state")
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

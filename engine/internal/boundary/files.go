// Package boundary implements the file-based external interface: JSON
// boundary inputs polled from an inbound directory, and JSON boundary
// outputs written to an outbound directory. It is watched with fsnotify
// for low-latency pickup, backed by a fallback poll so a missed or
// coalesced filesystem event can never stall the control loop.
package boundary

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/orefield/haulcore/engine/models"
)

const fallbackRescanInterval = time.Second

type category string

const (
	categorySensors   category = "sensors"
	categoryCommands  category = "commands"
	categorySetpoint  category = "setpoint"
	categoryObstacles category = "obstacles"
)

type envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type sensorPayload struct {
	PositionX       *int  `json:"position_x"`
	PositionY       *int  `json:"position_y"`
	AngleX          *int  `json:"angle_x"`
	Temperature     *int  `json:"temperature"`
	FaultElectrical *bool `json:"fault_electrical"`
	FaultHydraulic  *bool `json:"fault_hydraulic"`
}

type commandPayload struct {
	AutoMode     *bool `json:"auto_mode"`
	ManualMode   *bool `json:"manual_mode"`
	Rearm        *bool `json:"rearm"`
	Accelerate   *int  `json:"accelerate"`
	SteerLeft    *int  `json:"steer_left"`
	SteerRight   *int  `json:"steer_right"`
}

type setpointPayload struct {
	TargetX     *int `json:"target_x"`
	TargetY     *int `json:"target_y"`
	TargetSpeed *int `json:"target_speed"`
}

type obstaclePayload struct {
	Obstacles []struct {
		ID string `json:"id"`
		X  int    `json:"x"`
		Y  int    `json:"y"`
	} `json:"obstacles"`
}

type actuatorOutPayload struct {
	Acceleration int  `json:"acceleration"`
	Steering     int  `json:"steering"`
	Arrived      bool `json:"arrived"`
}

type stateOutPayload struct {
	Automatic bool `json:"automatic"`
	Fault     bool `json:"fault"`
}

// Inputs is the fan-out of a single poll of the inbound directory. Any
// field may be nil if no matching file was found this poll.
type Inputs struct {
	Sensor    *models.RawSensorSample
	Command   *models.OperatorCommand
	Setpoint  *models.NavigationSetpoint
	Obstacles []models.Obstacle
}

// Watcher polls a truck's inbound directory for boundary-input files and
// writes boundary-output files to its outbound directory.
type Watcher struct {
	inDir, outDir string
	truckID       string

	fsWatcher *fsnotify.Watcher
	dirty     chan struct{}
}

func NewWatcher(inDir, outDir, truckID string) (*Watcher, error) {
	if err := os.MkdirAll(inDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(inDir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{
		inDir:     inDir,
		outDir:    outDir,
		truckID:   truckID,
		fsWatcher: fw,
		dirty:     make(chan struct{}, 1),
	}
	go w.pump()
	return w, nil
}

// pump relays fsnotify events into the dirty channel and ticks a fallback
// rescan so a coalesced or missed event never stalls input processing.
func (w *Watcher) pump() {
	ticker := time.NewTicker(fallbackRescanInterval)
	defer ticker.Stop()
	for {
		select {
		case _, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.markDirty()
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		case <-ticker.C:
			w.markDirty()
		}
	}
}

func (w *Watcher) markDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// Dirty signals that the inbound directory changed (or the fallback
// rescan fired) since the last drain. Main calls Poll only when this
// channel is ready.
func (w *Watcher) Dirty() <-chan struct{} { return w.dirty }

func (w *Watcher) Close() error { return w.fsWatcher.Close() }

// Poll processes every category once: for each, it selects the
// lexicographically-latest matching file, parses it, and removes every
// matching file regardless of parse outcome. Malformed JSON is silently
// dropped. I/O errors reading the directory are ignored.
func (w *Watcher) Poll() Inputs {
	var in Inputs

	if raw := w.consumeLatest(categorySensors); raw != nil {
		if s, ok := parseSensor(raw); ok {
			in.Sensor = &s
		}
	}
	if raw := w.consumeLatest(categoryCommands); raw != nil {
		if c, ok := parseCommand(raw); ok {
			in.Command = &c
		}
	}
	if raw := w.consumeLatest(categorySetpoint); raw != nil {
		if sp, ok := parseSetpoint(raw); ok {
			in.Setpoint = &sp
		}
	}
	if raw := w.consumeLatest(categoryObstacles); raw != nil {
		if obs, ok := parseObstacles(raw); ok {
			in.Obstacles = obs
		}
	}
	return in
}

// consumeLatest returns the payload of the lexicographically-latest file
// matching the category pattern, after removing every matching file. nil
// means no matching file existed.
func (w *Watcher) consumeLatest(cat category) json.RawMessage {
	entries, err := os.ReadDir(w.inDir)
	if err != nil {
		return nil
	}
	pattern := "truck_" + w.truckID + "_" + string(cat)

	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.Contains(e.Name(), pattern) {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	var payload json.RawMessage
	data, err := os.ReadFile(filepath.Join(w.inDir, latest))
	if err == nil {
		var env envelope
		if json.Unmarshal(data, &env) == nil {
			payload = env.Payload
		}
	}
	for _, name := range matches {
		_ = os.Remove(filepath.Join(w.inDir, name))
	}
	return payload
}

func parseSensor(raw json.RawMessage) (models.RawSensorSample, bool) {
	var p sensorPayload
	if json.Unmarshal(raw, &p) != nil {
		return models.RawSensorSample{}, false
	}
	if p.PositionX == nil || p.PositionY == nil || p.AngleX == nil || p.Temperature == nil || p.FaultElectrical == nil || p.FaultHydraulic == nil {
		return models.RawSensorSample{}, false
	}
	return models.RawSensorSample{
		PositionX:       *p.PositionX,
		PositionY:       *p.PositionY,
		Heading:         *p.AngleX,
		Temperature:     *p.Temperature,
		FaultElectrical: *p.FaultElectrical,
		FaultHydraulic:  *p.FaultHydraulic,
	}, true
}

// parseCommand discards files lacking all six fields, per the documented
// boundary-input contract.
func parseCommand(raw json.RawMessage) (models.OperatorCommand, bool) {
	var p commandPayload
	if json.Unmarshal(raw, &p) != nil {
		return models.OperatorCommand{}, false
	}
	if p.AutoMode == nil && p.ManualMode == nil && p.Rearm == nil && p.Accelerate == nil && p.SteerLeft == nil && p.SteerRight == nil {
		return models.OperatorCommand{}, false
	}
	cmd := models.OperatorCommand{}
	if p.AutoMode != nil {
		cmd.RequestAuto = *p.AutoMode
	}
	if p.ManualMode != nil {
		cmd.RequestManual = *p.ManualMode
	}
	if p.Rearm != nil {
		cmd.RequestRearm = *p.Rearm
	}
	if p.Accelerate != nil {
		cmd.Accelerate = *p.Accelerate
	}
	if p.SteerLeft != nil {
		cmd.SteerLeft = *p.SteerLeft
	}
	if p.SteerRight != nil {
		cmd.SteerRight = *p.SteerRight
	}
	return cmd, true
}

func parseSetpoint(raw json.RawMessage) (models.NavigationSetpoint, bool) {
	var p setpointPayload
	if json.Unmarshal(raw, &p) != nil {
		return models.NavigationSetpoint{}, false
	}
	if p.TargetX == nil || p.TargetY == nil || p.TargetSpeed == nil {
		return models.NavigationSetpoint{}, false
	}
	return models.NavigationSetpoint{TargetX: *p.TargetX, TargetY: *p.TargetY, TargetSpeed: *p.TargetSpeed}, true
}

func parseObstacles(raw json.RawMessage) ([]models.Obstacle, bool) {
	var p obstaclePayload
	if json.Unmarshal(raw, &p) != nil {
		return nil, false
	}
	obstacles := make([]models.Obstacle, 0, len(p.Obstacles))
	for _, o := range p.Obstacles {
		obstacles = append(obstacles, models.Obstacle{ID: o.ID, X: o.X, Y: o.Y})
	}
	return obstacles, true
}

// WriteActuator emits the actuator-command boundary output file. The wire
// field is named "acceleration" for compatibility with the boundary's
// existing consumers, but it carries velocity semantics — it is the
// ActuatorCommand's Velocity field verbatim, not an acceleration.
func (w *Watcher) WriteActuator(cmd models.ActuatorCommand) error {
	payload := actuatorOutPayload{Acceleration: cmd.Velocity, Steering: cmd.Steering, Arrived: cmd.Arrived}
	return w.writeOutput("commands", payload)
}

// WriteState emits the truck-state boundary output file.
func (w *Watcher) WriteState(state models.TruckState) error {
	payload := stateOutPayload{Automatic: state.Automatic, Fault: state.Fault}
	return w.writeOutput("state", payload)
}

func (w *Watcher) writeOutput(kind string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	name := filepath.Join(w.outDir, unixMillisName(w.truckID, kind))
	return os.WriteFile(name, data, 0o644)
}

func unixMillisName(truckID, kind string) string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "_truck_" + truckID + "_" + kind + ".json"
}

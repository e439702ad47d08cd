// Package models defines the data entities exchanged between the haulage
// truck's control tasks: sensor samples, operator commands, navigation
// setpoints, obstacles, actuator output and the task/watchdog bookkeeping
// types the telemetry subsystems report on.
package models

import "errors"

// RawSensorSample is a single unfiltered reading as handed to the Sensor
// Filter task by the Main Coordinator.
type RawSensorSample struct {
	PositionX       int
	PositionY       int
	Heading         int // degrees, 0 = east
	Temperature     int // degrees C, -100..+200
	FaultElectrical bool
	FaultHydraulic  bool
}

// FilteredSensorSample is the moving-averaged sample stored in the Ring
// Buffer and read by every downstream consumer task.
type FilteredSensorSample struct {
	PositionX       int
	PositionY       int
	Heading         int
	Temperature     int
	FaultElectrical bool
	FaultHydraulic  bool
	TimestampMillis int64
}

// OperatorCommand is applied once by Command/Mode then discarded.
type OperatorCommand struct {
	RequestAuto   bool
	RequestManual bool
	RequestRearm  bool
	Accelerate    int
	SteerLeft     int
	SteerRight    int
}

// NavigationSetpoint is the target the Navigation task steers toward.
type NavigationSetpoint struct {
	TargetX       int
	TargetY       int
	TargetSpeed   int // percent
	TargetHeading int // degrees
}

// Obstacle is a single obstacle reported to the Route Planner.
type Obstacle struct {
	ID string
	X  int
	Y  int
}

// ActuatorCommand is the final command Command/Mode hands to the boundary.
type ActuatorCommand struct {
	Velocity int // percent, -100..+100
	Steering int // degrees, -180..+180
	Arrived  bool
}

// TruckState is the mode/fault state machine owned by Command/Mode.
type TruckState struct {
	Fault     bool
	Automatic bool
}

// String renders the state in the vocabulary the data logger and boundary
// state output use: FAULT dominates, then AUTO/MANUAL.
func (s TruckState) String() string {
	switch {
	case s.Fault:
		return "FAULT"
	case s.Automatic:
		return "AUTO"
	default:
		return "MANUAL"
	}
}

// FaultKind is the Fault Detector's classification output.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultTemperatureWarning
	FaultTemperatureCritical
	FaultElectrical
	FaultHydraulic
)

func (k FaultKind) String() string {
	switch k {
	case FaultTemperatureWarning:
		return "temperature-warning"
	case FaultTemperatureCritical:
		return "temperature-critical"
	case FaultElectrical:
		return "electrical"
	case FaultHydraulic:
		return "hydraulic"
	default:
		return "none"
	}
}

// TaskStats is the Performance Monitor's per-task rolling statistics
// snapshot, safe to copy.
type TaskStats struct {
	Name                string
	Period              int64 // nominal period, microseconds
	LastMicros          int64
	MinMicros           int64
	MaxMicros           int64
	MeanMicros          float64
	StdDevMicros        float64
	SampleCount         int64
	DeadlineViolations  int64
	WorstOverrunMicros  int64
	UtilizationWarnings int64
}

// WatchdogEntry is a snapshot of a single registered task's liveness
// bookkeeping.
type WatchdogEntry struct {
	Name                string
	TimeoutMillis       int64
	EverReported        bool
	ConsecutiveTimeouts int64
	LastHeartbeatMillis int64
}

var (
	// ErrBufferEmpty names an empty ring buffer. Ring.ReadBlocking does not
	// return it: a cancelled wait returns the context's error.
	ErrBufferEmpty = errors.New("ring buffer: empty")
	// ErrUnknownTask names a task that is not registered with the Watchdog
	// or Performance Monitor. Their Heartbeat and Record methods ignore
	// unknown names and do not return it.
	ErrUnknownTask = errors.New("unknown task name")
	// ErrAlreadyRegistered names a duplicate task registration. The
	// Watchdog's and Performance Monitor's Register methods replace the
	// existing entry and do not return it.
	ErrAlreadyRegistered = errors.New("task already registered")
	// ErrEngineAlreadyStarted is returned by Engine.Start on a second call.
	ErrEngineAlreadyStarted = errors.New("engine already started")
	// ErrEngineNotStarted names an operation that needs a running engine;
	// no Engine method returns it.
	ErrEngineNotStarted = errors.New("engine not started")
)

package tasks

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/orefield/haulcore/engine/internal/buffer"
	"github.com/orefield/haulcore/engine/internal/perfmon"
	"github.com/orefield/haulcore/engine/internal/routeplanner"
	"github.com/orefield/haulcore/engine/internal/scheduler"
	"github.com/orefield/haulcore/engine/internal/telemetry/events"
	"github.com/orefield/haulcore/engine/internal/telemetry/logging"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

const NavigationName = "navigation"

const (
	arrivalRadius         = 5
	alignmentThreshold    = 5
	realignmentThreshold  = 10
	cruiseSpeed           = 30
	rotationEffort        = 40
)

type navSubState int

const (
	subStateRotating navSubState = iota
	subStateMoving
	subStateArrived
)

// Navigation runs a rotate-then-translate controller against the active
// setpoint. It owns the control lock, #5 in the core's global ordering.
type Navigation struct {
	mu sync.Mutex

	setpoint models.NavigationSetpoint
	subState navSubState
	arrived  bool
	output   models.ActuatorCommand

	planner  *routeplanner.Planner
	stateFn  func() models.TruckState
	outputFn func(models.ActuatorCommand)

	ring *buffer.Ring
	pm   *perfmon.Monitor
	wd   *watchdog.Watchdog
	bus  events.Bus
	task *scheduler.Task
	log  logging.Logger
}

func NewNavigation(period time.Duration, ring *buffer.Ring, pm *perfmon.Monitor, wd *watchdog.Watchdog, bus events.Bus, planner *routeplanner.Planner, stateFn func() models.TruckState, outputFn func(models.ActuatorCommand)) *Navigation {
	return &Navigation{
		planner:  planner,
		stateFn:  stateFn,
		outputFn: outputFn,
		ring:     ring,
		pm:       pm,
		wd:       wd,
		bus:      bus,
		task:     scheduler.New(NavigationName, period),
		log:      logging.For(logging.ModuleNavigation),
	}
}

func (n *Navigation) Start(ctx context.Context) { n.task.Start(ctx, n.iterate) }
func (n *Navigation) Stop()                     { n.task.Stop() }

// Output returns a snapshot of the last emitted ActuatorCommand.
func (n *Navigation) Output() models.ActuatorCommand {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.output
}

// Arrived reports whether the current target has been reached.
func (n *Navigation) Arrived() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.arrived
}

func (n *Navigation) iterate(ctx context.Context) {
	start := time.Now()
	sample := n.ring.PeekLatest()
	setpoint := n.planner.ComputeAdjustedSetpoint(sample.PositionX, sample.PositionY)
	state := n.stateFn()

	n.mu.Lock()
	if setpoint.TargetX != n.setpoint.TargetX || setpoint.TargetY != n.setpoint.TargetY {
		n.subState = subStateRotating
		n.arrived = false
	}
	n.setpoint = setpoint

	if !state.Automatic || state.Fault {
		// Bumpless-transfer posture: snap the stored setpoint to the current
		// position/heading and emit a zero command. The next automatic
		// iteration takes its setpoint from the planner again, so a
		// hand-back to automatic resumes toward the planner's target from
		// the rotating sub-state.
		n.setpoint.TargetX = sample.PositionX
		n.setpoint.TargetY = sample.PositionY
		n.setpoint.TargetHeading = sample.Heading
		n.arrived = false
		n.subState = subStateRotating
		n.output = models.ActuatorCommand{Velocity: 0, Steering: 0, Arrived: false}
		out := n.output
		n.mu.Unlock()

		n.publish(out)
		n.wd.Heartbeat(NavigationName)
		n.pm.Record(NavigationName, time.Since(start))
		return
	}

	dx := float64(n.setpoint.TargetX - sample.PositionX)
	dy := float64(n.setpoint.TargetY - sample.PositionY)
	distance := math.Hypot(dx, dy)

	desiredHeading := math.Mod(math.Atan2(dy, dx)*180/math.Pi, 360)
	if desiredHeading < 0 {
		desiredHeading += 360
	}
	headingError := normalizeSignedError(desiredHeading - float64(sample.Heading))

	var out models.ActuatorCommand
	wasArrived := n.arrived

	switch {
	case distance <= arrivalRadius:
		n.subState = subStateArrived
		n.arrived = true
		out = models.ActuatorCommand{Velocity: 0, Steering: 0, Arrived: true}
	case n.subState == subStateArrived:
		out = models.ActuatorCommand{Velocity: 0, Steering: 0, Arrived: true}
	case n.subState == subStateRotating:
		if math.Abs(headingError) <= alignmentThreshold {
			n.subState = subStateMoving
			out = models.ActuatorCommand{Velocity: cruiseSpeed, Steering: 0}
		} else if headingError > 0 {
			out = models.ActuatorCommand{Velocity: 0, Steering: rotationEffort}
		} else {
			out = models.ActuatorCommand{Velocity: 0, Steering: -rotationEffort}
		}
	default: // subStateMoving
		if math.Abs(headingError) > realignmentThreshold {
			n.subState = subStateRotating
			if headingError > 0 {
				out = models.ActuatorCommand{Velocity: 0, Steering: rotationEffort}
			} else {
				out = models.ActuatorCommand{Velocity: 0, Steering: -rotationEffort}
			}
		} else {
			out = models.ActuatorCommand{Velocity: cruiseSpeed, Steering: 0}
		}
	}
	n.output = out
	justArrived := n.arrived && !wasArrived
	n.mu.Unlock()

	if justArrived && n.bus != nil {
		_ = n.bus.Publish(events.Event{Category: events.CategoryNavigation, Type: "arrived"})
	}
	n.publish(out)
	n.wd.Heartbeat(NavigationName)
	n.pm.Record(NavigationName, time.Since(start))
}

func (n *Navigation) publish(out models.ActuatorCommand) {
	if n.outputFn != nil {
		n.outputFn(out)
	}
}

// normalizeSignedError folds a heading error into (-180, 180].
func normalizeSignedError(e float64) float64 {
	for e > 180 {
		e -= 360
	}
	for e <= -180 {
		e += 360
	}
	return e
}

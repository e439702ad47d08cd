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
	"github.com/orefield/haulcore/engine/internal/telemetry/metrics"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

const CommandModeName = "command-mode"

// steeringResetOnModeTransition controls whether the stored actuator
// steering (the base for manual steering deltas) resets to 0 on mode
// transitions. It is intentionally reset on every manual<->automatic
// transition, so manual mode never inherits a steering bias carried over
// from automatic mode (automatic mode itself ignores the stored value
// entirely, since it adopts navigation's output verbatim). See DESIGN.md
// for the rationale.
const steeringResetOnModeTransition = true

// CommandMode integrates the fault signal, operator commands, and
// navigation output into the effective TruckState and the final
// ActuatorCommand. It owns the Command/Mode state lock, #4 in the
// core's global lock ordering.
type CommandMode struct {
	mu sync.Mutex

	state          models.TruckState
	pendingCmd     models.OperatorCommand
	pending        bool
	rearmAck       bool
	latestSample   models.FilteredSensorSample
	navOutput      models.ActuatorCommand
	lastActuator   models.ActuatorCommand
	manualAccel    int
	manualSteerL   int
	manualSteerR   int

	ring *buffer.Ring
	pm   *perfmon.Monitor
	wd   *watchdog.Watchdog
	bus  events.Bus
	task *scheduler.Task
	log  logging.Logger

	stateGauge metrics.Gauge
}

func NewCommandMode(period time.Duration, ring *buffer.Ring, pm *perfmon.Monitor, wd *watchdog.Watchdog, bus events.Bus, provider metrics.Provider) *CommandMode {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &CommandMode{
		ring: ring,
		pm:   pm,
		wd:   wd,
		bus:  bus,
		task: scheduler.New(CommandModeName, period),
		log:  logging.For(logging.ModuleCommandMode),
		stateGauge: provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "haulcore", Subsystem: "command_mode", Name: "truck_state", Help: "0=manual-ok, 1=auto-ok, 2=fault",
		}}),
	}
}

// SubmitCommand stages an operator command to be applied on the next
// iteration, superseding any command still pending.
func (c *CommandMode) SubmitCommand(cmd models.OperatorCommand) {
	c.mu.Lock()
	c.pendingCmd = cmd
	c.pending = true
	c.mu.Unlock()
}

// SetNavigationOutput publishes Navigation's latest output. Writes from
// Navigation and reads by Command/Mode are last-writer-wins; Command/Mode's
// observation of a new output happens-before its next actuator emission in
// the same iteration.
func (c *CommandMode) SetNavigationOutput(out models.ActuatorCommand) {
	c.mu.Lock()
	c.navOutput = out
	c.mu.Unlock()
}

// State returns a snapshot of the current TruckState.
func (c *CommandMode) State() models.TruckState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LatestActuator returns the most recently computed ActuatorCommand.
func (c *CommandMode) LatestActuator() models.ActuatorCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActuator
}

func (c *CommandMode) Start(ctx context.Context) { c.task.Start(ctx, c.iterate) }
func (c *CommandMode) Stop()                     { c.task.Stop() }

func (c *CommandMode) iterate(ctx context.Context) {
	start := time.Now()
	sample := c.ring.PeekLatest()

	c.mu.Lock()
	c.latestSample = sample
	faultCondition := sample.Temperature > tempCriticalThreshold || sample.FaultElectrical || sample.FaultHydraulic

	wasAutomatic := c.state.Automatic
	if c.pending {
		cmd := c.pendingCmd
		if cmd.RequestAuto {
			if !c.state.Automatic && !c.state.Fault {
				c.state.Automatic = true
			} else {
				c.emitLocked(events.Event{Category: events.CategoryMode, Type: "request_rejected", Fields: map[string]interface{}{"request": "auto"}})
			}
		}
		if cmd.RequestManual {
			c.state.Automatic = false
		}
		if cmd.RequestRearm && c.state.Fault {
			c.rearmAck = true
		}
		c.manualAccel = cmd.Accelerate
		c.manualSteerL = cmd.SteerLeft
		c.manualSteerR = cmd.SteerRight
		c.pending = false
	}

	if steeringResetOnModeTransition && wasAutomatic != c.state.Automatic {
		c.lastActuator.Steering = 0
	}

	if faultCondition {
		if !c.state.Fault {
			c.emitLocked(events.Event{Category: events.CategoryMode, Type: "fault_entered", Severity: "critical"})
		}
		c.state.Fault = true
		c.rearmAck = false
	} else if c.state.Fault && c.rearmAck {
		c.state.Fault = false
		c.rearmAck = false
		c.emitLocked(events.Event{Category: events.CategoryMode, Type: "fault_cleared"})
	}

	var out models.ActuatorCommand
	switch {
	case c.state.Fault:
		out = models.ActuatorCommand{Velocity: 0, Steering: 0, Arrived: c.navOutput.Arrived}
	case c.state.Automatic:
		out = c.navOutput
	default:
		velocity := clamp(c.manualAccel, -100, 100)
		steering := clamp(c.lastActuator.Steering+(c.manualSteerL-c.manualSteerR), -180, 180)
		out = models.ActuatorCommand{Velocity: velocity, Steering: steering, Arrived: c.navOutput.Arrived}
	}
	c.lastActuator = out
	state := c.state
	c.mu.Unlock()

	c.stateGauge.Set(stateCode(state))
	c.wd.Heartbeat(CommandModeName)
	c.pm.Record(CommandModeName, time.Since(start))
}

// emitLocked must be called with c.mu held.
func (c *CommandMode) emitLocked(ev events.Event) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(ev)
}

func stateCode(s models.TruckState) float64 {
	switch {
	case s.Fault:
		return 2
	case s.Automatic:
		return 1
	default:
		return 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

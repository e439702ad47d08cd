// Package engine assembles the eleven components of the haulage truck's
// control core behind a single Engine facade: construction wires every
// task to the Ring Buffer, Performance Monitor and Watchdog, registers
// the Fault Detector's callback routing, and Start/Stop drive the
// documented startup/shutdown ordering.
package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/orefield/haulcore/engine/internal/boundary"
	"github.com/orefield/haulcore/engine/internal/buffer"
	"github.com/orefield/haulcore/engine/internal/perfmon"
	"github.com/orefield/haulcore/engine/internal/routeplanner"
	"github.com/orefield/haulcore/engine/internal/scheduler"
	"github.com/orefield/haulcore/engine/internal/tasks"
	"github.com/orefield/haulcore/engine/internal/telemetry/events"
	"github.com/orefield/haulcore/engine/internal/telemetry/health"
	"github.com/orefield/haulcore/engine/internal/telemetry/logging"
	"github.com/orefield/haulcore/engine/internal/telemetry/metrics"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

// Snapshot is a unified, JSON-friendly view of engine state, suitable for
// the CLI's periodic snapshot ticker or an operator-facing endpoint.
type Snapshot struct {
	StartedAt     time.Time              `json:"started_at"`
	Uptime        time.Duration          `json:"uptime"`
	RingOccupancy int                    `json:"ring_occupancy"`
	RingCapacity  int                    `json:"ring_capacity"`
	TruckState    models.TruckState      `json:"truck_state"`
	LastActuator  models.ActuatorCommand `json:"last_actuator"`
	Performance   []models.TaskStats     `json:"performance"`
	Watchdog      []models.WatchdogEntry `json:"watchdog"`
}

// Engine composes the Ring Buffer, Performance Monitor, Watchdog, the six
// periodic tasks, the Route Planner, and the boundary file watcher behind
// a single facade.
type Engine struct {
	cfg Config

	ring     *buffer.Ring
	pm       *perfmon.Monitor
	wd       *watchdog.Watchdog
	planner  *routeplanner.Planner
	watcher  *boundary.Watcher
	bus      events.Bus
	metrics  metrics.Provider
	health   *health.Evaluator

	sensorFilter  *tasks.SensorFilter
	faultDetector *tasks.FaultDetector
	commandMode   *tasks.CommandMode
	navigation    *tasks.Navigation
	dataLogger    *tasks.DataLogger
	localSnapshot *tasks.LocalSnapshot

	mainTask *scheduler.Task

	started   atomic.Bool
	startedAt time.Time

	forcedRefreshCounter int
	lastActuatorSent     models.ActuatorCommand
	lastStateSent        models.TruckState
	sentOnce             bool

	log logging.Logger
}

// New constructs every component and registers tasks with the Watchdog and
// Performance Monitor, but does not start any goroutines — call Start for
// that. If any registration fails, no task has been started and the
// partially-built Engine is discarded (construction is atomic).
func New(cfg Config) (*Engine, error) {
	e := &Engine{cfg: cfg, log: logging.For(logging.ModuleMain)}

	e.metrics = selectMetricsProvider(cfg)
	e.bus = events.NewBus(e.metrics)

	e.ring = buffer.New(cfg.RingBufferCapacity, e.metrics)
	e.pm = perfmon.NewMonitor(e.metrics, e.bus)
	e.wd = watchdog.New(cfg.WatchdogCheckPeriod, nil, e.metrics, e.bus)
	watchdog.SetCurrent(e.wd)
	e.planner = routeplanner.New()

	watcher, err := boundary.NewWatcher(cfg.InboundDir, cfg.OutboundDir, cfg.TruckID)
	if err != nil {
		return nil, err
	}
	e.watcher = watcher

	if err := e.registerTask(tasks.SensorFilterName, cfg.SensorFilterPeriod, cfg.WatchdogTimeout); err != nil {
		return nil, err
	}
	if err := e.registerTask(tasks.FaultDetectorName, cfg.FaultDetectorPeriod, cfg.WatchdogTimeout); err != nil {
		return nil, err
	}
	if err := e.registerTask(tasks.CommandModeName, cfg.CommandModePeriod, cfg.WatchdogTimeout); err != nil {
		return nil, err
	}
	if err := e.registerTask(tasks.NavigationName, cfg.NavigationPeriod, cfg.WatchdogTimeout); err != nil {
		return nil, err
	}
	if err := e.registerTask(tasks.DataLoggerName, cfg.DataLoggerPeriod, cfg.WatchdogTimeout); err != nil {
		return nil, err
	}
	if err := e.registerTask(tasks.LocalSnapshotName, cfg.SnapshotPeriod, cfg.WatchdogTimeout); err != nil {
		return nil, err
	}

	e.sensorFilter = tasks.NewSensorFilter(cfg.SensorFilterPeriod, cfg.FilterOrder, e.ring, e.pm, e.wd)
	e.faultDetector = tasks.NewFaultDetector(cfg.FaultDetectorPeriod, e.ring, e.pm, e.wd, e.bus)
	e.commandMode = tasks.NewCommandMode(cfg.CommandModePeriod, e.ring, e.pm, e.wd, e.bus, e.metrics)
	e.navigation = tasks.NewNavigation(cfg.NavigationPeriod, e.ring, e.pm, e.wd, e.bus, e.planner,
		e.commandMode.State, e.commandMode.SetNavigationOutput)
	e.dataLogger = tasks.NewDataLogger(cfg.DataLoggerPeriod, cfg.LogPath, cfg.TruckID, e.ring, e.pm, e.wd, e.commandMode.State)
	e.localSnapshot = tasks.NewLocalSnapshot(cfg.SnapshotPeriod, e.ring, e.pm, e.wd, e.commandMode.State, e.commandMode.LatestActuator)

	// Route fault edges to Command/Mode (via its periodic fault-condition
	// re-check, already wired through the shared Ring Buffer), Navigation
	// (via the shared TruckState it already reads), and the Logger.
	e.faultDetector.Register(func(kind models.FaultKind, sample models.FilteredSensorSample) {
		e.dataLogger.LogEvent(sample.TimestampMillis, e.commandMode.State(), sample.PositionX, sample.PositionY, "fault:"+kind.String())
	})

	e.mainTask = scheduler.New("main-coordinator", mainLoopInterval(cfg))
	e.setupHealth()

	return e, nil
}

func mainLoopInterval(cfg Config) time.Duration {
	interval := cfg.CommandModePeriod
	if cfg.NavigationPeriod < interval {
		interval = cfg.NavigationPeriod
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return interval
}

func (e *Engine) registerTask(name string, period, watchdogTimeout time.Duration) error {
	e.pm.Register(name, period)
	timeout := watchdogTimeout
	if timeout <= 0 {
		timeout = period * 5
	}
	e.wd.Register(name, timeout)
	return nil
}

func (e *Engine) setupHealth() {
	e.health = health.NewEvaluator(time.Second)
	e.health.Register(health.ProbeFunc{ProbeName: "ring_buffer", Fn: func() health.ProbeResult {
		size, cap := e.ring.Size(), e.ring.Capacity()
		if cap == 0 {
			return health.Unknown("ring_buffer", "no capacity configured")
		}
		ratio := float64(size) / float64(cap)
		if ratio > 0.95 {
			return health.Degraded("ring_buffer", "near capacity")
		}
		return health.Healthy("ring_buffer", "")
	}})
	e.health.Register(health.ProbeFunc{ProbeName: "watchdog", Fn: func() health.ProbeResult {
		if e.wd.GlobalFaultCount() > 0 {
			return health.Degraded("watchdog", "at least one timeout observed")
		}
		return health.Healthy("watchdog", "")
	}})
	e.health.Register(health.ProbeFunc{ProbeName: "performance", Fn: func() health.ProbeResult {
		for _, s := range e.pm.Report() {
			if s.DeadlineViolations > 0 {
				return health.Degraded("performance", "deadline violations observed")
			}
		}
		return health.Healthy("performance", "")
	}})
}

func selectMetricsProvider(cfg Config) metrics.Provider {
	switch strings.ToLower(cfg.MetricsBackend) {
	case "otel", "opentelemetry":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{})
	case "noop":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	}
}

// MetricsHandler returns the HTTP handler for metrics exposition
// (Prometheus backend only); nil for other backends.
func (e *Engine) MetricsHandler() http.Handler {
	if hp, ok := e.metrics.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// HealthSnapshot evaluates (or returns cached) subsystem health.
func (e *Engine) HealthSnapshot() health.Snapshot {
	return e.health.Evaluate()
}

// Start brings up the tasks in the documented order (Sensor Filter,
// Command/Mode, Fault Detector, Navigation, Data Logger, Watchdog, Local
// Snapshot), then starts the Main Coordinator's own boundary pump.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return models.ErrEngineAlreadyStarted
	}
	e.startedAt = time.Now()

	e.sensorFilter.Start(ctx)
	e.commandMode.Start(ctx)
	e.faultDetector.Start(ctx)
	e.navigation.Start(ctx)
	e.dataLogger.Start(ctx)
	e.wd.Start(ctx)
	e.localSnapshot.Start(ctx)

	e.mainTask.Start(ctx, e.mainIterate)
	return nil
}

// Stop prints the performance report and stops tasks in reverse order.
func (e *Engine) Stop() {
	if !e.started.CompareAndSwap(true, false) {
		return
	}
	e.log.Info(nil, "shutting down", "report", perfmon.FormatReport(e.pm.Report()))

	e.mainTask.Stop()
	e.localSnapshot.Stop()
	e.wd.Stop()
	e.dataLogger.Stop()
	e.navigation.Stop()
	e.faultDetector.Stop()
	e.commandMode.Stop()
	e.sensorFilter.Stop()

	_ = e.watcher.Close()
}

// mainIterate is the Main Coordinator's own loop body: poll boundary
// inputs, fan state between tasks, write boundary outputs.
func (e *Engine) mainIterate(ctx context.Context) {
	// Only touch the inbound directory when fsnotify (or its fallback
	// rescan ticker) has signaled a change since the last drain. Main
	// still ticks on its own fixed period, but it only pays for a
	// ReadDir/Remove pass when something actually moved, which is what
	// makes the boundary pump low-latency instead of a busy-poll loop.
	select {
	case <-e.watcher.Dirty():
		in := e.watcher.Poll()
		if in.Sensor != nil {
			e.sensorFilter.SetRaw(*in.Sensor)
		}
		if in.Command != nil {
			e.commandMode.SubmitCommand(*in.Command)
		}
		if in.Setpoint != nil {
			e.planner.SetTarget(in.Setpoint.TargetX, in.Setpoint.TargetY, in.Setpoint.TargetSpeed)
		}
		if in.Obstacles != nil {
			e.planner.UpdateObstacles(in.Obstacles)
		}
	default:
	}

	actuator := e.commandMode.LatestActuator()
	state := e.commandMode.State()

	e.forcedRefreshCounter++
	forced := e.forcedRefreshCounter >= e.cfg.ForcedRefreshN
	if forced {
		e.forcedRefreshCounter = 0
	}

	if forced || !e.sentOnce || actuator != e.lastActuatorSent {
		if err := e.watcher.WriteActuator(actuator); err != nil {
			e.log.Warn(ctx, "failed writing actuator boundary output", "error", err)
		}
		e.lastActuatorSent = actuator
	}
	if forced || !e.sentOnce || state != e.lastStateSent {
		if err := e.watcher.WriteState(state); err != nil {
			e.log.Warn(ctx, "failed writing state boundary output", "error", err)
		}
		e.lastStateSent = state
	}
	e.sentOnce = true
}

// Snapshot returns a unified view of engine state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		StartedAt:     e.startedAt,
		Uptime:        time.Since(e.startedAt),
		RingOccupancy: e.ring.Size(),
		RingCapacity:  e.ring.Capacity(),
		TruckState:    e.commandMode.State(),
		LastActuator:  e.commandMode.LatestActuator(),
		Performance:   e.pm.Report(),
		Watchdog:      e.wd.Snapshot(),
	}
}

// SnapshotJSON marshals Snapshot for the CLI's periodic ticker.
func (e *Engine) SnapshotJSON() ([]byte, error) {
	return json.Marshal(e.Snapshot())
}

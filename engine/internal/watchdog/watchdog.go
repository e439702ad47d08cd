// Package watchdog implements heartbeat-based liveness detection: a
// registration table of name -> timeout/last-heartbeat, monitored by a
// background goroutine that invokes a pluggable fault handler on timeout.
package watchdog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orefield/haulcore/engine/internal/telemetry/events"
	"github.com/orefield/haulcore/engine/internal/telemetry/logging"
	"github.com/orefield/haulcore/engine/internal/telemetry/metrics"
	"github.com/orefield/haulcore/engine/models"
)

const DefaultCheckPeriod = 100 * time.Millisecond

// FaultHandler is invoked on a watchdog timeout with the task name and
// elapsed milliseconds since its last heartbeat. The default handler
// records a critical structured event and never restarts the task.
type FaultHandler func(name string, elapsedMillis int64)

type entry struct {
	timeout             time.Duration
	lastHeartbeat       time.Time
	everReported        bool
	consecutiveTimeouts int64
}

// Watchdog is the Watchdog table lock (#9 in the global ordering,
// independent, always last if combined with another lock).
type Watchdog struct {
	mu          sync.Mutex
	entries     map[string]*entry
	checkPeriod time.Duration
	handler     FaultHandler

	globalFaultCount atomic.Int64

	task *schedulerTask

	bus      events.Bus
	provider metrics.Provider
	mTimeout metrics.Counter
	mActive  metrics.Gauge
}

// schedulerTask is a minimal local re-implementation of the periodic loop
// shape so this package does not import engine/internal/scheduler — the
// watchdog's own monitor loop predates, and is independent of, the task
// scheduler the other six periodic tasks share.
type schedulerTask struct {
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func New(checkPeriod time.Duration, handler FaultHandler, provider metrics.Provider, bus events.Bus) *Watchdog {
	if checkPeriod <= 0 {
		checkPeriod = DefaultCheckPeriod
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	w := &Watchdog{
		entries:     make(map[string]*entry),
		checkPeriod: checkPeriod,
		provider:    provider,
		bus:         bus,
	}
	if handler == nil {
		handler = w.defaultFaultHandler
	}
	w.handler = handler
	w.mTimeout = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "haulcore", Subsystem: "watchdog", Name: "timeouts_total", Help: "watchdog timeout events", Labels: []string{"task"},
	}})
	w.mActive = provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "haulcore", Subsystem: "watchdog", Name: "timed_out_tasks", Help: "number of tasks currently past their heartbeat timeout",
	}})
	return w
}

var log = logging.For(logging.ModuleWatchdog)

func (w *Watchdog) defaultFaultHandler(name string, elapsedMillis int64) {
	log.Crit(context.Background(), "watchdog timeout", "task", name, "elapsed_ms", elapsedMillis)
}

// Register adds a task to the table with no heartbeat recorded yet. An
// entry that has never heartbeated is never timed out (bootstrap grace).
func (w *Watchdog) Register(name string, timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[name] = &entry{timeout: timeout}
}

// Heartbeat records liveness for a task, resetting its consecutive-timeout
// count.
func (w *Watchdog) Heartbeat(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[name]
	if !ok {
		return
	}
	e.lastHeartbeat = time.Now()
	e.everReported = true
	e.consecutiveTimeouts = 0
}

// Start spins the monitor goroutine, checking every registered entry once
// per checkPeriod.
func (w *Watchdog) Start(ctx context.Context) {
	t := &schedulerTask{stopCh: make(chan struct{})}
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	w.task = t
	t.wg.Add(1)
	go w.monitorLoop(ctx, t)
}

func (w *Watchdog) monitorLoop(ctx context.Context, t *schedulerTask) {
	defer t.wg.Done()
	ticker := time.NewTicker(w.checkPeriod)
	defer ticker.Stop()
	for t.running.Load() {
		select {
		case <-ticker.C:
			w.check()
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watchdog) check() {
	now := time.Now()
	type firing struct {
		name    string
		elapsed int64
	}
	var fired []firing

	w.mu.Lock()
	timedOutCount := 0
	for name, e := range w.entries {
		if !e.everReported {
			continue
		}
		if now.Sub(e.lastHeartbeat) > e.timeout {
			e.consecutiveTimeouts++
			w.globalFaultCount.Add(1)
			fired = append(fired, firing{name: name, elapsed: now.Sub(e.lastHeartbeat).Milliseconds()})
			// Reset to avoid storming on long outages: the next check
			// period starts a fresh timeout window.
			e.lastHeartbeat = now
			timedOutCount++
		}
	}
	w.mu.Unlock()

	w.mActive.Set(float64(timedOutCount))
	for _, f := range fired {
		w.mTimeout.Inc(1, f.name)
		w.handler(f.name, f.elapsed)
		if w.bus != nil {
			_ = w.bus.Publish(events.Event{Category: events.CategoryWatchdog, Type: "timeout", Severity: "critical",
				Labels: map[string]string{"task": f.name}, Fields: map[string]interface{}{"elapsed_ms": f.elapsed}})
		}
	}
}

func (w *Watchdog) Stop() {
	if w.task == nil {
		return
	}
	if !w.task.running.CompareAndSwap(true, false) {
		return
	}
	close(w.task.stopCh)
	w.task.wg.Wait()
}

// GlobalFaultCount returns the cumulative number of timeout events fired
// across every registered task.
func (w *Watchdog) GlobalFaultCount() int64 { return w.globalFaultCount.Load() }

// Snapshot returns a point-in-time copy of every registered entry.
func (w *Watchdog) Snapshot() []models.WatchdogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.WatchdogEntry, 0, len(w.entries))
	for name, e := range w.entries {
		out = append(out, models.WatchdogEntry{
			Name:                name,
			TimeoutMillis:       e.timeout.Milliseconds(),
			EverReported:        e.everReported,
			ConsecutiveTimeouts: e.consecutiveTimeouts,
			LastHeartbeatMillis: e.lastHeartbeat.UnixMilli(),
		})
	}
	return out
}

// current is the process-wide "current" watchdog, an alternative to
// constructor injection for task code that cannot easily carry a
// reference. haulcore's tasks are constructed with an injected *Watchdog
// (the preferred, ergonomic choice per the design notes); engine.New
// also stores its Watchdog here via SetCurrent, so any caller can reach
// it through Current without threading a pointer through every call site.
var current atomic.Pointer[Watchdog]

func SetCurrent(w *Watchdog) { current.Store(w) }
func Current() *Watchdog     { return current.Load() }

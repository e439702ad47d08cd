// Package perfmon is the Performance Monitor: per-task execution-time
// statistics and deadline-violation accounting. Recording never blocks the
// measuring task and never fails.
package perfmon

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/orefield/haulcore/engine/internal/telemetry/events"
	"github.com/orefield/haulcore/engine/internal/telemetry/metrics"
	"github.com/orefield/haulcore/engine/models"
)

const rollingWindowCapacity = 100

// utilizationWarnThreshold is the fraction of the nominal period above
// which an iteration triggers a utilization warning, even if it did not
// itself exceed the deadline.
const utilizationWarnThreshold = 0.8

type taskRecord struct {
	periodMicros int64

	window []int64
	sum    int64 // running sum of window, kept in lockstep with window

	last, min, max int64
	sampleCount    int64

	deadlineViolations  int64
	worstOverrunMicros  int64
	utilizationWarnings int64

	execHist    metrics.Histogram
	violCounter metrics.Counter
	warnCounter metrics.Counter
}

// Monitor owns the Performance Monitor lock (independent; always last if
// combined with another lock, per the core's lock-ordering discipline).
type Monitor struct {
	mu       sync.Mutex
	tasks    map[string]*taskRecord
	provider metrics.Provider
	bus      events.Bus
}

func NewMonitor(provider metrics.Provider, bus events.Bus) *Monitor {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Monitor{tasks: make(map[string]*taskRecord), provider: provider, bus: bus}
}

// Register records a task's expected period. Re-registering resets the
// task's accumulated statistics.
func (m *Monitor) Register(name string, period time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &taskRecord{periodMicros: period.Microseconds()}
	rec.execHist = m.provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "haulcore", Subsystem: "perfmon", Name: "execution_seconds", Help: "task iteration execution time", Labels: []string{"task"},
	}})
	rec.violCounter = m.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "haulcore", Subsystem: "perfmon", Name: "deadline_violations_total", Help: "iterations whose execution time exceeded the nominal period", Labels: []string{"task"},
	}})
	rec.warnCounter = m.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "haulcore", Subsystem: "perfmon", Name: "utilization_warnings_total", Help: "iterations whose execution time exceeded the utilization warning threshold", Labels: []string{"task"},
	}})
	m.tasks[name] = rec
}

// Record reports one task iteration's measured elapsed time.
func (m *Monitor) Record(name string, elapsed time.Duration) {
	micros := elapsed.Microseconds()

	m.mu.Lock()
	rec, ok := m.tasks[name]
	if !ok {
		m.mu.Unlock()
		return
	}

	rec.last = micros
	if rec.sampleCount == 0 || micros < rec.min {
		rec.min = micros
	}
	if micros > rec.max {
		rec.max = micros
	}
	rec.sampleCount++

	// Mean and standard deviation are reported over the current rolling
	// window, not all-time history: maintain the window's running sum
	// incrementally, evicting the oldest sample's contribution as it
	// falls out of the window.
	rec.window = append(rec.window, micros)
	rec.sum += micros
	if len(rec.window) > rollingWindowCapacity {
		rec.sum -= rec.window[0]
		rec.window = rec.window[1:]
	}

	violated := rec.periodMicros > 0 && micros > rec.periodMicros
	if violated {
		rec.deadlineViolations++
		overrun := micros - rec.periodMicros
		if overrun > rec.worstOverrunMicros {
			rec.worstOverrunMicros = overrun
		}
	}
	warned := rec.periodMicros > 0 && float64(micros) > float64(rec.periodMicros)*utilizationWarnThreshold
	if warned {
		rec.utilizationWarnings++
	}
	snap := rec.snapshot(name)
	m.mu.Unlock()

	rec.execHist.Observe(elapsed.Seconds(), name)
	if violated {
		rec.violCounter.Inc(1, name)
		m.emit(events.Event{Category: events.CategoryPerf, Type: "deadline_violation", Severity: "warning",
			Labels: map[string]string{"task": name}, Fields: map[string]interface{}{"elapsed_micros": micros, "period_micros": rec.periodMicros}})
	} else if warned {
		rec.warnCounter.Inc(1, name)
		m.emit(events.Event{Category: events.CategoryPerf, Type: "utilization_warning", Severity: "warning",
			Labels: map[string]string{"task": name}, Fields: map[string]interface{}{"elapsed_micros": micros, "period_micros": rec.periodMicros}})
	}
	_ = snap
}

func (m *Monitor) emit(ev events.Event) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(ev)
}

// snapshot must be called with m.mu held. Mean and standard deviation are
// computed over the current rolling window only, per the windowed
// statistics the Performance Monitor is specified to report.
func (r *taskRecord) snapshot(name string) models.TaskStats {
	mean, stddev := 0.0, 0.0
	if n := len(r.window); n > 0 {
		mean = float64(r.sum) / float64(n)
		if n > 1 {
			var sqDiff float64
			for _, v := range r.window {
				d := float64(v) - mean
				sqDiff += d * d
			}
			stddev = math.Sqrt(sqDiff / float64(n-1))
		}
	}
	return models.TaskStats{
		Name:                name,
		Period:              r.periodMicros,
		LastMicros:          r.last,
		MinMicros:           r.min,
		MaxMicros:           r.max,
		MeanMicros:          mean,
		StdDevMicros:        stddev,
		SampleCount:         r.sampleCount,
		DeadlineViolations:  r.deadlineViolations,
		WorstOverrunMicros:  r.worstOverrunMicros,
		UtilizationWarnings: r.utilizationWarnings,
	}
}

// Snapshot returns the current statistics for a single task.
func (m *Monitor) Snapshot(name string) (models.TaskStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[name]
	if !ok {
		return models.TaskStats{}, false
	}
	return rec.snapshot(name), true
}

// Report returns every registered task's statistics, sorted by name for a
// stable shutdown-time tabular dump.
func (m *Monitor) Report() []models.TaskStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TaskStats, 0, len(m.tasks))
	for name, rec := range m.tasks {
		out = append(out, rec.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset clears a task's accumulated statistics without unregistering it.
// Intended for test harnesses.
func (m *Monitor) Reset(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.tasks[name]; ok {
		period := rec.periodMicros
		hist, viol, warn := rec.execHist, rec.violCounter, rec.warnCounter
		m.tasks[name] = &taskRecord{periodMicros: period, execHist: hist, violCounter: viol, warnCounter: warn}
	}
}

// FormatReport renders Report() as the shutdown-time tabular dump.
func FormatReport(stats []models.TaskStats) string {
	out := "task                 period_us   last_us    min_us    max_us   mean_us stddev_us  samples  violations  worst_overrun_us  warnings\n"
	for _, s := range stats {
		out += fmt.Sprintf("%-20s %10d %9d %9d %9d %9.1f %9.1f %8d %11d %17d %9d\n",
			s.Name, s.Period, s.LastMicros, s.MinMicros, s.MaxMicros, s.MeanMicros, s.StdDevMicros,
			s.SampleCount, s.DeadlineViolations, s.WorstOverrunMicros, s.UtilizationWarnings)
	}
	return out
}

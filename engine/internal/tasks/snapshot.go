package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/orefield/haulcore/engine/internal/buffer"
	"github.com/orefield/haulcore/engine/internal/perfmon"
	"github.com/orefield/haulcore/engine/internal/scheduler"
	"github.com/orefield/haulcore/engine/internal/telemetry/logging"
	"github.com/orefield/haulcore/engine/internal/watchdog"
	"github.com/orefield/haulcore/engine/models"
)

const LocalSnapshotName = "local-snapshot"

// StatusRecord is the consolidated status the Local Snapshot task emits
// each iteration.
type StatusRecord struct {
	Sample    models.FilteredSensorSample
	State     models.TruckState
	Actuator  models.ActuatorCommand
	CapturedAtMillis int64
}

// LocalSnapshot periodically consolidates the latest sample, truck state,
// and actuator command into a single StatusRecord. It owns the snapshot
// lock, which is held alone and takes no part in the numbered global
// ordering.
type LocalSnapshot struct {
	mu     sync.Mutex
	latest StatusRecord

	stateFn    func() models.TruckState
	actuatorFn func() models.ActuatorCommand

	ring *buffer.Ring
	pm   *perfmon.Monitor
	wd   *watchdog.Watchdog
	task *scheduler.Task
	log  logging.Logger
}

func NewLocalSnapshot(period time.Duration, ring *buffer.Ring, pm *perfmon.Monitor, wd *watchdog.Watchdog, stateFn func() models.TruckState, actuatorFn func() models.ActuatorCommand) *LocalSnapshot {
	return &LocalSnapshot{
		stateFn:    stateFn,
		actuatorFn: actuatorFn,
		ring:       ring,
		pm:         pm,
		wd:         wd,
		task:       scheduler.New(LocalSnapshotName, period),
		log:        logging.For(logging.ModuleLocalSnapshot),
	}
}

func (s *LocalSnapshot) Start(ctx context.Context) { s.task.Start(ctx, s.iterate) }
func (s *LocalSnapshot) Stop()                     { s.task.Stop() }

// Latest returns the most recently captured StatusRecord.
func (s *LocalSnapshot) Latest() StatusRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *LocalSnapshot) iterate(ctx context.Context) {
	start := time.Now()
	sample := s.ring.PeekLatest()
	state := s.stateFn()
	actuator := s.actuatorFn()

	s.mu.Lock()
	s.latest = StatusRecord{
		Sample:           sample,
		State:            state,
		Actuator:         actuator,
		CapturedAtMillis: time.Now().UnixMilli(),
	}
	s.mu.Unlock()

	s.wd.Heartbeat(LocalSnapshotName)
	s.pm.Record(LocalSnapshotName, time.Since(start))
}

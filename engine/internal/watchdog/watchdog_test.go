package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatNeverTimesOutBeforeFirstReport(t *testing.T) {
	var fired atomic.Int64
	w := New(20*time.Millisecond, func(name string, elapsedMillis int64) { fired.Add(1) }, nil, nil)
	w.Register("task-a", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int64(0), fired.Load(), "an entry that never heartbeated must never be reported as timed out")
}

func TestTimeoutFiresOnceThenResets(t *testing.T) {
	var fired atomic.Int64
	w := New(15*time.Millisecond, func(name string, elapsedMillis int64) { fired.Add(1) }, nil, nil)
	w.Register("task-b", 20*time.Millisecond)
	w.Heartbeat("task-b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	time.Sleep(40 * time.Millisecond)
	assert.GreaterOrEqual(t, fired.Load(), int64(1))
	assert.Equal(t, int64(1), w.GlobalFaultCount())

	snap := w.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(1), snap[0].ConsecutiveTimeouts)
}

func TestHeartbeatResetsConsecutiveTimeouts(t *testing.T) {
	w := New(time.Hour, func(string, int64) {}, nil, nil)
	w.Register("task-c", 10*time.Millisecond)
	w.Heartbeat("task-c")
	time.Sleep(20 * time.Millisecond)
	w.check()
	snap := w.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(1), snap[0].ConsecutiveTimeouts)

	w.Heartbeat("task-c")
	snap = w.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(0), snap[0].ConsecutiveTimeouts)
}

func TestCurrentWatchdogProcessGlobal(t *testing.T) {
	w := New(time.Second, nil, nil, nil)
	SetCurrent(w)
	assert.Same(t, w, Current())
}

// Package buffer implements the bounded circular store of filtered sensor
// samples shared between the Sensor Filter producer and every consumer
// task. Overwrite-on-full trades data completeness for strict producer
// liveness: write never blocks and never fails.
package buffer

import (
	"context"
	"sync"

	"github.com/orefield/haulcore/engine/internal/telemetry/metrics"
	"github.com/orefield/haulcore/engine/models"
)

const DefaultCapacity = 200

// Ring is the single-lock bounded circular buffer described by the core's
// concurrency model (lock #1 in the global ordering).
type Ring struct {
	mu       sync.Mutex
	cond     *sync.Cond
	data     []models.FilteredSensorSample
	head     int
	tail     int
	count    int
	capacity int

	overwrites metrics.Counter
	occupancy  metrics.Gauge
}

func New(capacity int, provider metrics.Provider) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	r := &Ring{
		data:     make([]models.FilteredSensorSample, capacity),
		capacity: capacity,
		overwrites: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "haulcore", Subsystem: "ring_buffer", Name: "overwrites_total", Help: "samples dropped because the ring buffer was full",
		}}),
		occupancy: provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "haulcore", Subsystem: "ring_buffer", Name: "occupancy", Help: "current ring buffer element count",
		}}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Write pushes a sample at the tail. If the buffer is full the oldest
// element is dropped (head advances) rather than blocking the writer.
func (r *Ring) Write(sample models.FilteredSensorSample) {
	r.mu.Lock()
	if r.count == r.capacity {
		r.head = (r.head + 1) % r.capacity
		r.count--
		r.overwrites.Inc(1)
	}
	r.data[r.tail] = sample
	r.tail = (r.tail + 1) % r.capacity
	r.count++
	r.occupancy.Set(float64(r.count))
	r.cond.Broadcast()
	r.mu.Unlock()
}

// ReadBlocking pops the oldest element, waiting for a write if the buffer
// is empty. Used only by test harnesses; no production consumer blocks.
func (r *Ring) ReadBlocking(ctx context.Context) (models.FilteredSensorSample, error) {
	woken := make(chan struct{})
	defer close(woken)
	go func() {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		case <-woken:
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.count == 0 {
		if err := ctx.Err(); err != nil {
			return models.FilteredSensorSample{}, err
		}
		r.cond.Wait()
	}
	sample := r.data[r.head]
	r.head = (r.head + 1) % r.capacity
	r.count--
	r.occupancy.Set(float64(r.count))
	return sample, nil
}

// PeekLatest returns a copy of the most recently written sample without
// removing it. Returns the zero value if the buffer is empty. Never blocks.
func (r *Ring) PeekLatest() models.FilteredSensorSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return models.FilteredSensorSample{}
	}
	idx := (r.tail - 1 + r.capacity) % r.capacity
	return r.data[idx]
}

func (r *Ring) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Ring) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == 0
}

func (r *Ring) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == r.capacity
}

func (r *Ring) Capacity() int { return r.capacity }

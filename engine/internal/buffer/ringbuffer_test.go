package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orefield/haulcore/engine/models"
)

func sampleAt(x int) models.FilteredSensorSample {
	return models.FilteredSensorSample{PositionX: x, TimestampMillis: int64(x)}
}

func TestWriteIncrementsSizeUntilCapacity(t *testing.T) {
	r := New(4, nil)
	for i := 1; i <= 4; i++ {
		r.Write(sampleAt(i))
		assert.Equal(t, i, r.Size())
	}
	assert.True(t, r.IsFull())
}

func TestWriteOverCapacityDropsOldest(t *testing.T) {
	r := New(200, nil)
	for i := 1; i <= 250; i++ {
		r.Write(sampleAt(i))
	}
	require.Equal(t, 200, r.Size())
	latest := r.PeekLatest()
	assert.Equal(t, 250, latest.PositionX)

	ctx := context.Background()
	first, err := r.ReadBlocking(ctx)
	require.NoError(t, err)
	assert.Equal(t, 51, first.PositionX)
}

func TestPeekLatestOnEmptyReturnsZeroValue(t *testing.T) {
	r := New(10, nil)
	assert.Equal(t, models.FilteredSensorSample{}, r.PeekLatest())
	assert.True(t, r.IsEmpty())
}

func TestPeekLatestReturnsMostRecentWrite(t *testing.T) {
	r := New(10, nil)
	r.Write(sampleAt(1))
	r.Write(sampleAt(2))
	r.Write(sampleAt(3))
	assert.Equal(t, 3, r.PeekLatest().PositionX)
}

func TestReadBlockingFIFOOrder(t *testing.T) {
	r := New(200, nil)
	for i := 1; i <= 5; i++ {
		r.Write(sampleAt(i))
	}
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		s, err := r.ReadBlocking(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, s.PositionX)
	}
	assert.True(t, r.IsEmpty())
}

func TestReadBlockingWaitsForWrite(t *testing.T) {
	r := New(10, nil)
	done := make(chan models.FilteredSensorSample, 1)
	go func() {
		s, err := r.ReadBlocking(context.Background())
		if err == nil {
			done <- s
		}
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("expected ReadBlocking to still be waiting")
	default:
	}

	r.Write(sampleAt(42))
	select {
	case s := <-done:
		assert.Equal(t, 42, s.PositionX)
	case <-time.After(time.Second):
		t.Fatal("ReadBlocking never woke after write")
	}
}

func TestReadBlockingCancelledByContext(t *testing.T) {
	r := New(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := r.ReadBlocking(ctx)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadBlocking never returned after cancellation")
	}
}

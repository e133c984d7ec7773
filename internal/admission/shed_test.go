package admission

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShedderLimitsInFlight(t *testing.T) {
	s := NewShedder(ShedOptions{MaxInFlight: 2, HeapSample: func() uint64 { return 0 }})

	r1, ov := s.Enter()
	require.Nil(t, ov)
	r2, ov := s.Enter()
	require.Nil(t, ov)

	_, ov = s.Enter()
	require.NotNil(t, ov)
	assert.Equal(t, StatusOverloaded, ov.Status)
	assert.Equal(t, int64(2), ov.InFlight)
	assert.Equal(t, 30, ov.RetryAfterSeconds())
	assert.Equal(t, int64(2), s.InFlight())

	r1()
	r1()
	assert.Equal(t, int64(1), s.InFlight())

	r3, ov := s.Enter()
	require.Nil(t, ov)
	r2()
	r3()
	assert.Equal(t, int64(0), s.InFlight())
}

func TestShedderHeapPressure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var heap atomic.Uint64
	heap.Store(600 << 20)
	s := NewShedder(ShedOptions{
		MaxHeapBytes: DefaultMaxHeapBytes,
		RetryAfter:   10 * time.Second,
		HeapSample:   heap.Load,
		Now:          clock.Now,
	})

	_, ov := s.Enter()
	require.NotNil(t, ov)
	assert.Equal(t, StatusMemoryPressure, ov.Status)
	assert.Equal(t, uint64(600<<20), ov.HeapBytes)
	assert.Equal(t, 10, ov.RetryAfterSeconds())
	assert.Equal(t, int64(0), s.InFlight())

	// The cached sample holds until the next sampling tick.
	heap.Store(100 << 20)
	_, ov = s.Enter()
	require.NotNil(t, ov)

	clock.Advance(time.Second)
	release, ov := s.Enter()
	require.Nil(t, ov)
	release()
}

func TestShedderDisabledByDefault(t *testing.T) {
	s := NewShedder(ShedOptions{})
	for range 100 {
		_, ov := s.Enter()
		require.Nil(t, ov)
	}
	assert.Equal(t, int64(100), s.InFlight())
}

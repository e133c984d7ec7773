package admission

import (
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"

	"relief.org/internal/obs"
)

// Overload statuses.
const (
	StatusMemoryPressure = "service_unavailable"
	StatusOverloaded     = "overloaded"
)

const (
	DefaultMaxHeapBytes = 500 << 20
	DefaultShedRetry    = 30 * time.Second
	heapSampleEvery     = 250 * time.Millisecond
	heapMetric          = "/memory/classes/heap/objects:bytes"
)

// ShedOptions configures a Shedder. A zero limit disables that check.
type ShedOptions struct {
	MaxInFlight  int64
	MaxHeapBytes uint64
	RetryAfter   time.Duration
	// HeapSample reports live heap bytes. Defaults to runtime/metrics.
	HeapSample func() uint64
	Now        func() time.Time
}

// Overload describes why a request was shed.
type Overload struct {
	Status     string
	Message    string
	RetryAfter time.Duration
	InFlight   int64
	HeapBytes  uint64
}

func (o *Overload) RetryAfterSeconds() int {
	return max(int(o.RetryAfter.Round(time.Second)/time.Second), 1)
}

// Shedder rejects work while the process is short on memory or already
// holding too many requests. It runs ahead of the quota policies.
type Shedder struct {
	opts     ShedOptions
	inFlight atomic.Int64

	mu      sync.Mutex
	heap    uint64
	sampled time.Time
}

func NewShedder(opts ShedOptions) *Shedder {
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = DefaultShedRetry
	}
	if opts.HeapSample == nil {
		opts.HeapSample = readHeap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Shedder{opts: opts}
}

// Enter admits one request. When it returns a nil Overload the caller must
// invoke release once the request finishes.
func (s *Shedder) Enter() (release func(), ov *Overload) {
	if limit := s.opts.MaxHeapBytes; limit > 0 {
		if heap := s.heapBytes(); heap > limit {
			obs.AdmissionDecisions.WithLabelValues("system", "shed_memory").Inc()
			return nil, &Overload{
				Status:     StatusMemoryPressure,
				Message:    "Server is currently experiencing heavy load. Please retry later.",
				RetryAfter: s.opts.RetryAfter,
				InFlight:   s.inFlight.Load(),
				HeapBytes:  heap,
			}
		}
	}
	n := s.inFlight.Add(1)
	if limit := s.opts.MaxInFlight; limit > 0 && n > limit {
		s.inFlight.Add(-1)
		obs.AdmissionDecisions.WithLabelValues("system", "shed_inflight").Inc()
		return nil, &Overload{
			Status:     StatusOverloaded,
			Message:    "System processing capacity exceeded.",
			RetryAfter: s.opts.RetryAfter,
			InFlight:   n - 1,
		}
	}
	var once sync.Once
	return func() { once.Do(func() { s.inFlight.Add(-1) }) }, nil
}

// InFlight reports requests currently admitted.
func (s *Shedder) InFlight() int64 { return s.inFlight.Load() }

func (s *Shedder) heapBytes() uint64 {
	now := s.opts.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampled.IsZero() || now.Sub(s.sampled) >= heapSampleEvery {
		s.heap = s.opts.HeapSample()
		s.sampled = now
	}
	return s.heap
}

func readHeap() uint64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

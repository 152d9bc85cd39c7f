package session

import (
	"fmt"
	"sync"

	"github.com/flarelab/papiscan/internal/papi"
)

// node represents an internal linked list node for the observation buffer.
type node struct {
	obs  *papi.Observation
	next *node
}

// ObservationBuffer implements a thread-safe buffer for storing light
// observations in canonical frame order before they are flushed to storage
// in batches. Per-light workers may complete out of order within a frame,
// and a slow frame may finish after its successor; the buffer absorbs both
// so the persisted series is still ordered by frame index and point.
type ObservationBuffer struct {
	capacity   int // Maximum number of observations to store
	flushCount int // Number of observations to remove when buffer reaches capacity

	mu   sync.Mutex
	head *node
	size int
}

// NewObservationBuffer creates a buffer that stores up to capacity
// observations and releases flushCount observations when full.
//
// Returns an error if parameters are invalid.
func NewObservationBuffer(capacity, flushCount int) (*ObservationBuffer, error) {
	if capacity <= 0 || flushCount <= 0 || flushCount > capacity {
		return nil, fmt.Errorf("invalid buffer parameters: capacity=%d, toFlush=%d", capacity, flushCount)
	}
	return &ObservationBuffer{
		capacity:   capacity,
		flushCount: flushCount,
	}, nil
}

// Insert adds an observation to the buffer in canonical order. Returns an
// error if the observation is nil.
func (ob *ObservationBuffer) Insert(obs *papi.Observation) error {
	if obs == nil {
		return fmt.Errorf("cannot insert nil observation")
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if ob.head == nil {
		ob.head = &node{obs: obs}
		ob.size++
		return nil
	}

	// Special case: observation belongs before head
	if compareOrder(obs, ob.head.obs) < 0 {
		n := &node{obs: obs, next: ob.head}
		ob.head = n
		ob.size++
		return nil
	}

	// Find insertion point
	current := ob.head
	for current != nil {
		if current.next == nil || compareOrder(current.next.obs, obs) > 0 {
			n := &node{obs: obs, next: current.next}
			current.next = n
			ob.size++
			return nil
		}
		current = current.next
	}

	return nil
}

// IsFull returns true if the buffer has reached its capacity.
func (ob *ObservationBuffer) IsFull() bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	return ob.size >= ob.capacity
}

// Flush removes and returns the oldest observations from the buffer.
// Returns nil if the buffer is empty. The number of observations returned
// is determined by the flushCount parameter and buffer state.
func (ob *ObservationBuffer) Flush() []papi.Observation {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if ob.head == nil || ob.size == 0 {
		return nil
	}

	count := ob.flushCount
	if ob.size > ob.capacity {
		count += ob.size - ob.capacity
	}
	count = min(count, ob.size)

	results := make([]papi.Observation, 0, count)
	current := ob.head
	for i := 0; i < count && current != nil; i++ {
		results = append(results, *current.obs)
		current = current.next
	}

	ob.head = current
	ob.size -= len(results)
	return results
}

// DrainAll removes and returns all observations from the buffer.
// Returns nil if the buffer is empty.
func (ob *ObservationBuffer) DrainAll() []papi.Observation {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if ob.head == nil || ob.size == 0 {
		return nil
	}

	results := make([]papi.Observation, 0, ob.size)
	current := ob.head
	for current != nil {
		results = append(results, *current.obs)
		current = current.next
	}

	ob.head = nil
	ob.size = 0
	return results
}

// Size returns the current number of observations in the buffer.
func (ob *ObservationBuffer) Size() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.size
}

// Clear removes all observations from the buffer.
func (ob *ObservationBuffer) Clear() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.head = nil
	ob.size = 0
}

// compareOrder determines the canonical ordering of two observations:
// frame index first, point identifier second. Returns a negative value if
// 'a' belongs before 'b', positive if after, zero for the same slot.
func compareOrder(a, b *papi.Observation) int {
	if a.FrameIndex != b.FrameIndex {
		return a.FrameIndex - b.FrameIndex
	}
	switch {
	case a.PointID < b.PointID:
		return -1
	case a.PointID > b.PointID:
		return 1
	default:
		return 0
	}
}

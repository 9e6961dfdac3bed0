package recording

import (
	"github.com/invincible-ocean/roboi-edge/internal/detection"
)

// BufferedFrame is one ring buffer record: the raw frame together with the
// detections computed on it, so snapshots rendered later reflect what was
// actually detected at that moment.
type BufferedFrame struct {
	Frame      *detection.Frame
	Detections []detection.Detection
}

// FrameRing is a fixed-capacity circular buffer of pre-event frames. The
// oldest entry is overwritten on overflow. Not safe for concurrent use;
// the Recorder serializes access under its own mutex.
type FrameRing struct {
	frames   []BufferedFrame
	head     int
	count    int
	capacity int
}

// NewFrameRing creates a ring holding at most capacity frames.
func NewFrameRing(capacity int) *FrameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameRing{
		frames:   make([]BufferedFrame, capacity),
		capacity: capacity,
	}
}

// Push appends a frame, evicting the oldest when full.
func (r *FrameRing) Push(f BufferedFrame) {
	r.frames[r.head] = f
	r.head = (r.head + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// Len returns the number of buffered frames.
func (r *FrameRing) Len() int {
	return r.count
}

// Capacity returns the fixed capacity.
func (r *FrameRing) Capacity() int {
	return r.capacity
}

// Tail returns the most recent n frames in arrival order (oldest first).
// n greater than the current length returns everything buffered.
func (r *FrameRing) Tail(n int) []BufferedFrame {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}

	out := make([]BufferedFrame, n)
	start := (r.head - n + r.capacity) % r.capacity
	for i := 0; i < n; i++ {
		out[i] = r.frames[(start+i)%r.capacity]
	}
	return out
}

// Clear drops every buffered frame.
func (r *FrameRing) Clear() {
	r.frames = make([]BufferedFrame, r.capacity)
	r.head = 0
	r.count = 0
}

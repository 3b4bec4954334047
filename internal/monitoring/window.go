package monitoring

import "math"

// Window keeps a bounded sequence of the most recent raw values for one
// sensor. It is process-memory only; losing it on restart degrades anomaly
// detection to "not enough samples" until it refills.
type Window struct {
	values   []float64
	capacity int
}

// NewWindow constructs a window holding at most capacity values.
func NewWindow(capacity int) *Window {
	if capacity < MinSamples {
		capacity = MinSamples
	}
	return &Window{values: make([]float64, 0, capacity), capacity: capacity}
}

// Push appends a value, evicting the oldest when full.
func (w *Window) Push(value float64) {
	if len(w.values) >= w.capacity {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}
	w.values = append(w.values, value)
}

// Len returns the number of stored values.
func (w *Window) Len() int {
	return len(w.values)
}

// Stats computes mean and population standard deviation over the stored
// history. The caller pushes the new sample only after reading Stats, so the
// current sample never scores against itself.
func (w *Window) Stats() (mean, stddev float64) {
	n := len(w.values)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range w.values {
		sum += v
	}
	mean = sum / float64(n)

	var variance float64
	for _, v := range w.values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(n)
	return mean, math.Sqrt(variance)
}

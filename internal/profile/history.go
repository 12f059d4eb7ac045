package profile

import "math"

// WindowSize bounds every baseline history.
const WindowSize = 100

// History is a fixed-capacity sliding window of observations for one signal.
// The oldest value is evicted once the window is full.
type History struct {
	capacity int
	values   []float64
	position int
	samples  int
}

// NewHistory creates an empty window holding at most capacity values.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{
		capacity: capacity,
		values:   make([]float64, capacity),
	}
}

// Append adds v, evicting the oldest value when full.
func (h *History) Append(v float64) {
	h.values[h.position] = v
	h.position = (h.position + 1) % h.capacity
	if h.samples < h.capacity {
		h.samples++
	}
}

// Len returns the number of values currently held.
func (h *History) Len() int {
	return h.samples
}

// Values returns a copy of the window, oldest first.
func (h *History) Values() []float64 {
	out := make([]float64, 0, h.samples)
	start := 0
	if h.samples == h.capacity {
		start = h.position
	}
	for i := 0; i < h.samples; i++ {
		out = append(out, h.values[(start+i)%h.capacity])
	}
	return out
}

// Stats summarizes a window.
type Stats struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int     `json:"count"`
}

// Stats returns the mean and population standard deviation of the window.
// An empty window reports zeros. Values near the float64 limit are rescaled
// so the result stays finite.
func (h *History) Stats() Stats {
	if h.samples == 0 {
		return Stats{}
	}

	values := h.Values()
	mean, std := meanStd(values, 1)
	if math.IsInf(mean, 0) || math.IsInf(std, 0) {
		var peak float64
		for _, v := range values {
			peak = math.Max(peak, math.Abs(v))
		}
		mean, std = meanStd(values, peak)
		mean, std = mean*peak, std*peak
	}

	return Stats{
		Mean:  mean,
		Std:   std,
		Count: len(values),
	}
}

// meanStd returns the mean and population standard deviation of values/scale.
func meanStd(values []float64, scale float64) (float64, float64) {
	n := float64(len(values))

	var sum float64
	for _, v := range values {
		sum += v / scale
	}
	mean := sum / n

	var sq float64
	for _, v := range values {
		d := v/scale - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

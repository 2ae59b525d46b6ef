package streaming

import "sort"

const defaultLatencyCapacity = 1000

// LatencyRecorder keeps decision latencies in a fixed-size ring buffer and
// reports percentiles over whatever it currently holds.
type LatencyRecorder struct {
	buf  []float64
	next int
	full bool
}

// NewLatencyRecorder builds a recorder; capacity <= 0 uses the default (1000).
func NewLatencyRecorder(capacity int) *LatencyRecorder {
	if capacity <= 0 {
		capacity = defaultLatencyCapacity
	}
	return &LatencyRecorder{buf: make([]float64, capacity)}
}

// Record appends one latency observation in seconds.
func (r *LatencyRecorder) Record(sec float64) {
	r.buf[r.next] = sec
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Count returns the number of held observations.
func (r *LatencyRecorder) Count() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Percentiles returns (p50, p95) over the held observations, using the
// rank = (n-1)*p interpolation convention. Zeroes when empty.
func (r *LatencyRecorder) Percentiles() (p50, p95 float64) {
	n := r.Count()
	if n == 0 {
		return 0, 0
	}
	xs := make([]float64, n)
	copy(xs, r.buf[:n])
	sort.Float64s(xs)
	return interp(xs, 0.50), interp(xs, 0.95)
}

func interp(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := float64(len(sorted)-1) * p
	lo := int(rank)
	frac := rank - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

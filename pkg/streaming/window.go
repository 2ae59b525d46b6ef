// Package streaming implements the event-time evaluator: sliding windows,
// watermark-based lateness handling, and decision snapshot emission.
package streaming

import "math"

// WindowSpec describes a sliding window. Starts are align_epoch + k*slide;
// a bucket covers the half-open range [start, start+size).
type WindowSpec struct {
	WindowSizeSec float64 `yaml:"window_size_sec" json:"window_size_sec"`
	SlideSec      float64 `yaml:"slide_sec" json:"slide_sec"`
	AlignEpochSec float64 `yaml:"align_epoch_sec" json:"align_epoch_sec"`
}

// Normalize fills a zero slide (tumbling window) and clamps slide to size.
func (w WindowSpec) Normalize() WindowSpec {
	if w.SlideSec <= 0 || w.SlideSec > w.WindowSizeSec {
		w.SlideSec = w.WindowSizeSec
	}
	return w
}

// Starts returns the start of every bucket whose range contains t,
// oldest first.
func (w WindowSpec) Starts(t float64) []float64 {
	w = w.Normalize()
	if w.WindowSizeSec <= 0 {
		return nil
	}
	// Newest bucket containing t starts at the largest align+k*slide <= t.
	k := math.Floor((t - w.AlignEpochSec) / w.SlideSec)
	newest := w.AlignEpochSec + k*w.SlideSec

	var starts []float64
	for s := newest; s > t-w.WindowSizeSec; s -= w.SlideSec {
		starts = append(starts, s)
	}
	// Collected newest-first; callers expect oldest-first.
	for i, j := 0, len(starts)-1; i < j; i, j = i+1, j-1 {
		starts[i], starts[j] = starts[j], starts[i]
	}
	return starts
}

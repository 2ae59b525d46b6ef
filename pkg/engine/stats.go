package engine

import (
	"math"
	"sort"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Std returns the population standard deviation of xs.
func Std(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	var acc float64
	for _, x := range xs {
		d := x - m
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(xs)))
}

// Percentile computes the p-th percentile (0..1) of xs using linear
// interpolation with the rank convention rank = (n-1)*p. Changing the
// convention would change golden outputs.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	rank := float64(len(sorted)-1) * p
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// SampleStats summarizes xs. For a single observed value pass a one-element
// slice; the result degenerates to that value with zero spread.
func SampleStats(xs []float64) contracts.SampleStats {
	if len(xs) == 0 {
		return contracts.SampleStats{}
	}
	return contracts.SampleStats{
		Mean:   Mean(xs),
		Median: Percentile(xs, 0.5),
		P95:    Percentile(xs, 0.95),
		Std:    Std(xs),
		Count:  len(xs),
	}
}

// KSStatistic computes the two-sample Kolmogorov-Smirnov statistic
// D = max_t |F_a(t) - F_b(t)| with a merge scan over the sorted samples.
func KSStatistic(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := make([]float64, len(a))
	copy(sa, a)
	sort.Float64s(sa)
	sb := make([]float64, len(b))
	copy(sb, b)
	sort.Float64s(sb)

	var i, j int
	var d float64
	na, nb := float64(len(sa)), float64(len(sb))
	for i < len(sa) && j < len(sb) {
		// Step past every observation equal to t on both sides before
		// comparing the ECDFs, so ties never inflate D.
		t := math.Min(sa[i], sb[j])
		for i < len(sa) && sa[i] == t {
			i++
		}
		for j < len(sb) && sb[j] == t {
			j++
		}
		diff := math.Abs(float64(i)/na - float64(j)/nb)
		if diff > d {
			d = diff
		}
	}
	return d
}

// Pearson returns the Pearson correlation coefficient of paired samples,
// or 0 when either side has zero variance or the lengths differ.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

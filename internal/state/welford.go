package state

import "math"

// Welford is an online mean/variance accumulator (Welford's algorithm),
// used so PerIdState and the Baseline Engine can report stable mean/sigma
// without re-summing history on every frame (spec §4.1 "Algorithmic
// notes").
type Welford struct {
	count int64
	mean  float64
	m2    float64
}

// Push folds x into the running statistics.
func (w *Welford) Push(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

// Count returns the number of samples folded in so far.
func (w *Welford) Count() int64 { return w.count }

// Mean returns the running mean, or 0 if no samples were pushed.
func (w *Welford) Mean() float64 { return w.mean }

// StdDev returns the running population standard deviation, or 0 if
// fewer than two samples were pushed.
func (w *Welford) StdDev() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count))
}

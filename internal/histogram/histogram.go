// Package histogram defines the canonical binned-spectrum representation
// shared by the extraction and comparison engines.
package histogram

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Histogram is an immutable binned energy spectrum.
//
// Invariants (enforced by New):
//   - len(Edges) == len(Counts) + 1
//   - Edges strictly increasing
//   - Counts non-negative
//
// Derived quantities (mean, sigma) are computed on demand rather than
// cached, so a Histogram can never hold stale moments.
type Histogram struct {
	// Counts holds the bin contents, Counts[i] for the bin
	// [Edges[i], Edges[i+1]). Contents are float64 because macro
	// artifacts may carry weighted (fractional) bin values.
	Counts []float64

	// Edges holds the bin boundaries, strictly increasing.
	Edges []float64
}

// New validates the bin contents and edges and constructs a Histogram.
// The slices are copied; callers may reuse their backing arrays.
func New(counts, edges []float64) (*Histogram, error) {
	if len(edges) != len(counts)+1 {
		return nil, fmt.Errorf("histogram: %d edges for %d counts (want counts+1)", len(edges), len(counts))
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("histogram: need at least one bin")
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return nil, fmt.Errorf("histogram: edges not strictly increasing at index %d (%g <= %g)", i, edges[i], edges[i-1])
		}
	}
	for i, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("histogram: negative count %g in bin %d", c, i)
		}
	}
	h := &Histogram{
		Counts: append([]float64(nil), counts...),
		Edges:  append([]float64(nil), edges...),
	}
	return h, nil
}

// Bins returns the number of bins.
func (h *Histogram) Bins() int {
	return len(h.Counts)
}

// Centers returns the midpoint of every bin.
func (h *Histogram) Centers() []float64 {
	centers := make([]float64, len(h.Counts))
	for i := range h.Counts {
		centers[i] = (h.Edges[i] + h.Edges[i+1]) / 2
	}
	return centers
}

// Total returns the sum of all bin contents.
func (h *Histogram) Total() float64 {
	return floats.Sum(h.Counts)
}

// MaxContent returns the largest single bin content.
func (h *Histogram) MaxContent() float64 {
	return floats.Max(h.Counts)
}

// Moments returns the count-weighted mean and standard deviation of the
// spectrum. When the histogram holds no counts at all the moments are
// undefined; both values are reported as zero and degenerate is true so
// callers can surface a warning instead of dividing by zero.
func (h *Histogram) Moments() (mean, sigma float64, degenerate bool) {
	if h.Total() == 0 {
		return 0, 0, true
	}
	centers := h.Centers()
	mean = stat.Mean(centers, h.Counts)
	// Population variance: count-weighted average squared deviation.
	variance := stat.MomentAbout(2, centers, mean, h.Counts)
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance), false
}

// Expand flattens the histogram into individual observations by repeating
// each bin center int(count) times. Fractional counts truncate. An all-zero
// histogram expands to an empty slice.
func (h *Histogram) Expand() []float64 {
	var samples []float64
	centers := h.Centers()
	for i, c := range h.Counts {
		for n := 0; n < int(c); n++ {
			samples = append(samples, centers[i])
		}
	}
	return samples
}

// Package stats holds latency histograms and their statistical reduction.
package stats

import (
	"fmt"
	"math"
	"sort"
)

// Histogram maps a latency bucket (microseconds) to its occurrence count.
// The zero value is not usable; call New.
type Histogram struct {
	counts  map[int]uint64
	samples uint64
}

// New creates an empty histogram.
func New() *Histogram {
	return &Histogram{counts: make(map[int]uint64)}
}

// Add records count occurrences of bucket index.
func (h *Histogram) Add(index int, count uint64) error {
	if index < 0 {
		return fmt.Errorf("negative bucket index %d", index)
	}
	if count == 0 {
		return nil
	}
	h.counts[index] += count
	h.samples += count
	return nil
}

// Merge adds every bucket of o into h.
func (h *Histogram) Merge(o *Histogram) {
	for idx, c := range o.counts {
		h.counts[idx] += c
		h.samples += c
	}
}

// NumSamples returns the total of all bucket counts.
func (h *Histogram) NumSamples() uint64 {
	return h.samples
}

// Count returns the count stored for index.
func (h *Histogram) Count(index int) uint64 {
	return h.counts[index]
}

// Indices returns the non-zero bucket indices in ascending order.
func (h *Histogram) Indices() []int {
	idx := make([]int, 0, len(h.counts))
	for i, c := range h.counts {
		if c > 0 {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	return idx
}

// Summary is the reduction of a histogram.
type Summary struct {
	Samples uint64
	Min     int
	Max     int
	Range   int
	Mode    int
	Mean    float64
	Median  float64
	MAD     float64
	StdDev  float64
}

// Reduce computes the summary statistics in one pass over the sorted buckets
// plus one for the deviations. Mean, mode, median, MAD and standard deviation
// stay zero unless there are at least two samples.
func (h *Histogram) Reduce() Summary {
	s := Summary{Samples: h.samples}
	idx := h.Indices()
	if len(idx) == 0 {
		return s
	}
	s.Min = idx[0]
	s.Max = idx[len(idx)-1]
	s.Range = s.Max - s.Min
	if h.samples <= 1 {
		return s
	}

	n := float64(h.samples)
	var sum float64
	var best uint64
	for _, i := range idx {
		c := h.counts[i]
		sum += float64(i) * float64(c)
		if c > best {
			best = c
			s.Mode = i
		}
	}
	s.Mean = sum / n
	s.Median = h.median(idx)

	var abs, sq float64
	for _, i := range idx {
		c := float64(h.counts[i])
		d := float64(i) - s.Mean
		abs += c * math.Abs(d)
		sq += c * d * d
	}
	s.MAD = abs / n
	s.StdDev = math.Sqrt(sq / (n - 1))
	return s
}

// median walks cumulative counts to find the middle sample, averaging the two
// middle samples when the total is even.
func (h *Histogram) median(idx []int) float64 {
	lo := (h.samples - 1) / 2
	hi := h.samples / 2
	loVal, hiVal := -1, -1
	var seen uint64
	for _, i := range idx {
		seen += h.counts[i]
		if loVal < 0 && seen > lo {
			loVal = i
		}
		if seen > hi {
			hiVal = i
			break
		}
	}
	return float64(loVal+hiVal) / 2
}

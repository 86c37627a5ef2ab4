package stats

import (
	"strconv"

	"github.com/srodi/jitterlens/pkg/report"
)

const unitMicroseconds = "us"

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Fragment renders a statistics node; the eight statistics are only present
// when at least one sample was recorded.
func (s Summary) Fragment() *report.Node {
	n := report.NewNode("statistics")
	n.NewTextChild("samples", strconv.FormatUint(s.Samples, 10))
	if s.Samples == 0 {
		return n
	}
	add := func(name, val string) {
		n.NewTextChild(name, val).SetAttr("unit", unitMicroseconds)
	}
	add("minimum", strconv.Itoa(s.Min))
	add("maximum", strconv.Itoa(s.Max))
	add("median", formatFloat(s.Median))
	add("mode", strconv.Itoa(s.Mode))
	add("range", strconv.Itoa(s.Range))
	add("mean", formatFloat(s.Mean))
	add("mean_absolute_deviation", formatFloat(s.MAD))
	add("standard_deviation", formatFloat(s.StdDev))
	return n
}

// Fragment renders the non-zero buckets in ascending order.
func (h *Histogram) Fragment(nbuckets int) *report.Node {
	n := report.NewNode("histogram").SetIntAttr("nbuckets", nbuckets)
	for _, i := range h.Indices() {
		n.NewChild("bucket").
			SetIntAttr("index", i).
			SetAttr("value", strconv.FormatUint(h.counts[i], 10))
	}
	return n
}

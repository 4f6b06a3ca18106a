package calibration

import (
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/roach88/quantflow/internal/store"
)

// Default histogram settings.
const (
	DefaultNumBins       = 256
	DefaultMinPercentile = 0.001
	DefaultMaxPercentile = 99.999
)

// Collector accumulates the values seen by each aggregator id across
// samples.
type Collector struct {
	opts Options

	// per id: one [min, max] pair per observation, and every value when a
	// histogram is needed.
	ranges map[string][][2]float64
	values map[string][]float64
}

// NewCollector creates a collector for the given method.
func NewCollector(opts Options) (*Collector, error) {
	switch opts.Method {
	case MethodMinMax, MethodAverageMinMax, MethodHistogramPercentile:
	case "":
		opts.Method = MethodMinMax
	default:
		return nil, fmt.Errorf("unknown calibration method %q", opts.Method)
	}
	if opts.NumBins <= 0 {
		opts.NumBins = DefaultNumBins
	}
	if opts.MinPercentile == 0 && opts.MaxPercentile == 0 {
		opts.MinPercentile, opts.MaxPercentile = DefaultMinPercentile, DefaultMaxPercentile
	}
	if opts.MinPercentile < 0 || opts.MaxPercentile > 100 || opts.MinPercentile >= opts.MaxPercentile {
		return nil, fmt.Errorf("invalid percentiles [%v, %v]", opts.MinPercentile, opts.MaxPercentile)
	}
	return &Collector{
		opts:   opts,
		ranges: make(map[string][][2]float64),
		values: make(map[string][]float64),
	}, nil
}

// Observe records one observation of id. It has the Observer signature.
func (c *Collector) Observe(id string, values []float32) {
	if len(values) == 0 {
		return
	}
	xs := make([]float64, len(values))
	for i, v := range values {
		xs[i] = float64(v)
	}
	c.ranges[id] = append(c.ranges[id], [2]float64{floats.Min(xs), floats.Max(xs)})
	if c.opts.Method == MethodHistogramPercentile {
		c.values[id] = append(c.values[id], xs...)
	}
}

// Statistics returns one statistic per observed id, ordered by id.
func (c *Collector) Statistics() []store.Statistic {
	ids := make([]string, 0, len(c.ranges))
	for id := range c.ranges {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]store.Statistic, 0, len(ids))
	for _, id := range ids {
		st := store.Statistic{ID: id, Method: c.opts.Method, NumSamples: int64(len(c.ranges[id]))}
		mins, maxs := c.split(id)
		switch c.opts.Method {
		case MethodMinMax:
			st.Min, st.Max = float32(floats.Min(mins)), float32(floats.Max(maxs))
		case MethodAverageMinMax:
			st.Min, st.Max = float32(stat.Mean(mins, nil)), float32(stat.Mean(maxs, nil))
		case MethodHistogramPercentile:
			st.Min, st.Max, st.Histogram = c.percentiles(id)
		}
		out = append(out, st)
	}
	return out
}

func (c *Collector) split(id string) (mins, maxs []float64) {
	for _, r := range c.ranges[id] {
		mins = append(mins, r[0])
		maxs = append(maxs, r[1])
	}
	return mins, maxs
}

func (c *Collector) percentiles(id string) (lo, hi float32, hist []int64) {
	xs := slices.Clone(c.values[id])
	sort.Float64s(xs)
	lo = float32(stat.Quantile(c.opts.MinPercentile/100, stat.Empirical, xs, nil))
	hi = float32(stat.Quantile(c.opts.MaxPercentile/100, stat.Empirical, xs, nil))

	first, last := xs[0], xs[len(xs)-1]
	if first == last {
		return lo, hi, []int64{int64(len(xs))}
	}
	dividers := make([]float64, c.opts.NumBins+1)
	floats.Span(dividers, first, last)
	// Histogram bins are half-open; widen the top edge to include the max.
	dividers[len(dividers)-1] = last + (last-first)*1e-9 + 1e-12
	counts := stat.Histogram(nil, dividers, xs, nil)
	hist = make([]int64, len(counts))
	for i, n := range counts {
		hist[i] = int64(n)
	}
	return lo, hi, hist
}

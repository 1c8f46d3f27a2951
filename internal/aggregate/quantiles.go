package aggregate

import (
	"fmt"
	"math"
	"strconv"

	"profiler/internal/infer"
	"profiler/internal/profile"
)

// quantilePoints are the reported quantiles, in ascending order so a single
// ordered walk can satisfy them all.
var quantilePoints = []struct {
	label string
	p     float64
}{
	{"p1", 0.01},
	{"p5", 0.05},
	{"p25", 0.25},
	{"p50", 0.50},
	{"p75", 0.75},
	{"p95", 0.95},
	{"p99", 0.99},
}

// histogramSteps are the base bucket edges, scaled by powers of ten until
// the observed maximum fits under the top finite edge.
var histogramSteps = []float64{100, 200, 500, 1000}

// finalizeNumeric computes exact quantiles and the fixed-boundary histogram
// with one ordered enumeration of the distinct index. Values that fail the
// numeric format are present in the index but invisible here; every rank is
// taken against the count of valid observations.
func (c *Column) finalizeNumeric() (*profile.NumericStats, error) {
	n := c.num.N()
	ns := &profile.NumericStats{
		Quantiles:      map[string]float64{},
		GaussianPValue: 1.0,
	}
	if n == 0 {
		return ns, nil
	}
	ns.Min = c.num.Min()
	ns.Max = c.num.Max()
	ns.Mean = c.num.Mean()
	ns.StdDev = c.num.StdDev()
	ns.GaussianPValue = c.num.GaussianP()

	edges := histogramEdges(c.num.Max())
	counts := make([]int64, len(edges)+1)

	// Ranks use the ceiling convention: the q-quantile is the smallest value
	// whose cumulative valid count reaches ceil(q*n).
	ranks := make([]int64, len(quantilePoints))
	for i, qp := range quantilePoints {
		r := int64(math.Ceil(qp.p * float64(n)))
		if r < 1 {
			r = 1
		}
		ranks[i] = r
	}

	var cum int64
	next := 0
	err := c.idx.Walk(true, func(v string, count int64) error {
		if !infer.NumericRe.MatchString(v) {
			return nil
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		cum += count

		b := len(edges)
		for i, e := range edges {
			if x < e {
				b = i
				break
			}
		}
		counts[b] += count

		for next < len(ranks) && cum >= ranks[next] {
			ns.Quantiles[quantilePoints[next].label] = x
			next++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("column %s: quantile walk: %w", c.name, err)
	}
	if cum != n {
		return nil, fmt.Errorf("column %s: quantile walk saw %d valid values, moments saw %d", c.name, cum, n)
	}

	ns.Median = ns.Quantiles["p50"]
	ns.Histogram = buildHistogram(edges, counts)
	return ns, nil
}

// histogramEdges scales the base edges by the smallest power of ten that
// keeps the maximum under the top finite edge times ten.
func histogramEdges(max float64) []float64 {
	scale := 1.0
	top := histogramSteps[len(histogramSteps)-1]
	for max >= top*scale*10 && scale < 1e15 {
		scale *= 10
	}
	edges := make([]float64, len(histogramSteps))
	for i, s := range histogramSteps {
		edges[i] = s * scale
	}
	return edges
}

func buildHistogram(edges []float64, counts []int64) []profile.HistogramBucket {
	out := make([]profile.HistogramBucket, 0, len(counts))
	low := 0.0
	for i, e := range edges {
		high := e
		out = append(out, profile.HistogramBucket{Low: low, High: &high, Count: counts[i]})
		low = e
	}
	out = append(out, profile.HistogramBucket{Low: low, Count: counts[len(edges)]})
	return out
}

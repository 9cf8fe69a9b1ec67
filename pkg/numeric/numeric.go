// Package numeric is the narrow boundary through which the pipeline
// consumes statistical primitives. Aggregation and threshold learning
// call these helpers instead of embedding their own math, so every
// component applies the exact same rules.
package numeric

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	return stat.Mean(values, nil)
}

// Std returns the sample standard deviation (Bessel-corrected).
// A single observation has no spread, so it yields 0 rather than NaN.
func Std(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	return stat.StdDev(values, nil)
}

func Sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}

	return total
}

// Percentile computes the q-th percentile (q in [0, 1]) using linear
// interpolation between closest ranks. The rule is applied identically
// everywhere percentiles appear, so recomputing an unchanged input is
// bit-identical.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	frac := pos - float64(lower)

	if lower+1 >= len(sorted) {
		return sorted[lower]
	}

	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

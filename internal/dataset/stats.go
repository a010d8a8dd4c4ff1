package dataset

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Sorted returns a sorted copy of xs
func Sorted(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)
	return out
}

// Quantile returns the p-quantile of sorted data using linear interpolation
// between closest ranks, the convention spreadsheet and dataframe users
// expect (gonum only offers the empirical and p*n interpolation variants).
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Median of unsorted data
func Median(xs []float64) float64 {
	return Quantile(Sorted(xs), 0.5)
}

// Mean of xs, NaN when empty
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}

// IQRBounds returns the lower and upper fences q1-k*iqr and q3+k*iqr
func IQRBounds(xs []float64, k float64) (lower, upper float64) {
	s := Sorted(xs)
	q1, q3 := Quantile(s, 0.25), Quantile(s, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

// Mode returns the most frequent non-missing value, preferring the smallest
// value (by text order) on ties.
func Mode(c *Column) interface{} {
	counts := make(map[string]int)
	values := make(map[string]interface{})
	for _, v := range c.Values {
		if v == nil {
			continue
		}
		k := FormatValue(v)
		counts[k]++
		values[k] = v
	}
	var best string
	bestCount := 0
	for k, n := range counts {
		if n > bestCount || (n == bestCount && less(values[k], values[best])) {
			best, bestCount = k, n
		}
	}
	if bestCount == 0 {
		return nil
	}
	return values[best]
}

func less(a, b interface{}) bool {
	fa, okA := a.(float64)
	fb, okB := b.(float64)
	if okA && okB {
		return fa < fb
	}
	return FormatValue(a) < FormatValue(b)
}

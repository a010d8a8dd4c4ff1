// Package numfmt holds the rounding rules used for every figure the service
// reports back to clients.
package numfmt

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round rounds v half away from zero to the given number of decimal places.
// NaN and infinities are returned unchanged.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Ratio returns part/total, or 0 when total is zero.
func Ratio(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total
}

// Percent returns part/total*100 rounded to two places, or 0 when total is zero.
func Percent(part, total float64) float64 {
	return Round(Ratio(part, total)*100, 2)
}

// Finite replaces NaN and infinities with zero so values survive JSON encoding.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

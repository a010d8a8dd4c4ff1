package analysis

import (
	"math"
	"sort"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/pkg/numfmt"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Correlation methods
const (
	Pearson  = "pearson"
	Spearman = "spearman"
	Kendall  = "kendall"
)

const defaultCorrelationThreshold = 0.5

type SignificantCorrelation struct {
	Variable1   string   `json:"variable1"`
	Variable2   string   `json:"variable2"`
	Correlation float64  `json:"correlation"`
	Strength    string   `json:"strength"`
	PValue      *float64 `json:"p_value,omitempty"`
	N           int      `json:"n"`
}

type CorrelationParams struct {
	Method         string  `json:"method"`
	Threshold      float64 `json:"threshold"`
	VariablesCount int     `json:"variables_count"`
}

// CorrelationResult holds the matrix; undefined coefficients (constant or
// too short columns) are null.
type CorrelationResult struct {
	CorrelationMatrix       map[string]map[string]*float64 `json:"correlation_matrix"`
	SignificantCorrelations []SignificantCorrelation       `json:"significant_correlations"`
	AnalysisParams          CorrelationParams              `json:"analysis_params"`
}

// Strength labels the magnitude of a coefficient
func Strength(r float64) string {
	a := math.Abs(r)
	switch {
	case a >= 0.8:
		return "very strong"
	case a >= 0.6:
		return "strong"
	case a >= 0.4:
		return "moderate"
	case a >= 0.2:
		return "weak"
	default:
		return "very weak"
	}
}

// Correlation computes pairwise coefficients over complete observations
func Correlation(f *dataset.Frame, method string, threshold float64) (CorrelationResult, error) {
	if method == "" {
		method = Pearson
	}
	if method != Pearson && method != Spearman && method != Kendall {
		return CorrelationResult{}, apperrors.Invalidf("unsupported correlation method %q", method).
			WithField("method", "must be one of pearson, spearman, kendall", "oneof")
	}
	if threshold <= 0 {
		threshold = defaultCorrelationThreshold
	}
	cols := f.NumericColumns()
	if len(cols) < 2 {
		return CorrelationResult{}, apperrors.Invalidf("correlation needs at least two numeric columns")
	}

	res := CorrelationResult{
		CorrelationMatrix:       make(map[string]map[string]*float64, len(cols)),
		SignificantCorrelations: []SignificantCorrelation{},
		AnalysisParams:          CorrelationParams{Method: method, Threshold: threshold, VariablesCount: len(cols)},
	}
	for _, c := range cols {
		res.CorrelationMatrix[c.Name] = make(map[string]*float64, len(cols))
	}
	for i, a := range cols {
		one := 1.0
		res.CorrelationMatrix[a.Name][a.Name] = &one
		for _, b := range cols[i+1:] {
			x, y := pairwise(a, b)
			r := coefficient(method, x, y)
			rp := roundPtr(r)
			res.CorrelationMatrix[a.Name][b.Name] = rp
			res.CorrelationMatrix[b.Name][a.Name] = rp
			if rp == nil || math.Abs(*rp) < threshold {
				continue
			}
			sc := SignificantCorrelation{
				Variable1:   a.Name,
				Variable2:   b.Name,
				Correlation: *rp,
				Strength:    Strength(*rp),
				N:           len(x),
			}
			if method == Pearson {
				sc.PValue = roundPtr(pearsonPValue(r, len(x)))
			}
			res.SignificantCorrelations = append(res.SignificantCorrelations, sc)
		}
	}
	sort.SliceStable(res.SignificantCorrelations, func(i, j int) bool {
		return math.Abs(res.SignificantCorrelations[i].Correlation) > math.Abs(res.SignificantCorrelations[j].Correlation)
	})
	return res, nil
}

// pairwise returns the values of rows where both columns are present
func pairwise(a, b *dataset.Column) ([]float64, []float64) {
	x := make([]float64, 0, len(a.Values))
	y := make([]float64, 0, len(a.Values))
	for i := range a.Values {
		av, okA := a.FloatAt(i)
		bv, okB := b.FloatAt(i)
		if okA && okB {
			x = append(x, av)
			y = append(y, bv)
		}
	}
	return x, y
}

func coefficient(method string, x, y []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	switch method {
	case Spearman:
		return stat.Correlation(Ranks(x), Ranks(y), nil)
	case Kendall:
		return KendallTau(x, y)
	default:
		return stat.Correlation(x, y, nil)
	}
}

// Ranks assigns 1-based ranks, averaging ties
func Ranks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return xs[idx[i]] < xs[idx[j]] })
	ranks := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// KendallTau computes Kendall's tau-b
func KendallTau(x, y []float64) float64 {
	var concordant, discordant, tiesX, tiesY float64
	for i := 0; i < len(x); i++ {
		for j := i + 1; j < len(x); j++ {
			dx := sign(x[i] - x[j])
			dy := sign(y[i] - y[j])
			switch {
			case dx == 0 && dy == 0:
			case dx == 0:
				tiesX++
			case dy == 0:
				tiesY++
			case dx == dy:
				concordant++
			default:
				discordant++
			}
		}
	}
	denom := math.Sqrt((concordant + discordant + tiesX) * (concordant + discordant + tiesY))
	if denom == 0 {
		return math.NaN()
	}
	return (concordant - discordant) / denom
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// pearsonPValue is the two-sided p-value of r under the null of no correlation
func pearsonPValue(r float64, n int) float64 {
	if n < 3 {
		return math.NaN()
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return numfmt.Finite(2 * dist.Survival(math.Abs(t)))
}

package analysis

import (
	"fmt"
	"math"
	"sort"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/pkg/numfmt"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Hypothesis test types
const (
	TTest     = "t_test"
	ChiSquare = "chi_square"
	Anova     = "anova"
)

// HypothesisParams selects the test and the columns it runs on.
//
// t_test runs a Welch two-sample test on GroupColumn/ValueColumn (exactly two
// groups) or on Column and Column2, and a one-sample test of Column against
// Mu otherwise. chi_square tests independence of Column and Column2. anova
// compares ValueColumn across the groups of GroupColumn.
type HypothesisParams struct {
	TestType    string   `json:"test_type"`
	Alpha       float64  `json:"alpha"`
	Column      string   `json:"column"`
	Column2     string   `json:"column2"`
	GroupColumn string   `json:"group_column"`
	ValueColumn string   `json:"value_column"`
	Mu          *float64 `json:"mu"`
}

type HypothesisResult struct {
	TestType       string                 `json:"test_type"`
	TestResults    map[string]interface{} `json:"test_results"`
	IsSignificant  bool                   `json:"is_significant"`
	AlphaLevel     float64                `json:"alpha_level"`
	Interpretation string                 `json:"interpretation"`
}

// Hypothesis runs the requested test on f
func Hypothesis(f *dataset.Frame, p HypothesisParams) (HypothesisResult, error) {
	if p.TestType == "" {
		p.TestType = TTest
	}
	if p.Alpha == 0 {
		p.Alpha = 0.05
	}
	if p.Alpha <= 0 || p.Alpha >= 1 {
		return HypothesisResult{}, apperrors.Invalidf("alpha must be between 0 and 1")
	}

	var (
		results map[string]interface{}
		pValue  float64
		err     error
	)
	switch p.TestType {
	case TTest:
		results, pValue, err = tTest(f, p)
	case ChiSquare:
		results, pValue, err = chiSquare(f, p)
	case Anova:
		results, pValue, err = anova(f, p)
	default:
		err = apperrors.Invalidf("unsupported test_type %q", p.TestType).
			WithField("test_type", "must be one of t_test, chi_square, anova", "oneof")
	}
	if err != nil {
		return HypothesisResult{}, err
	}

	significant := pValue < p.Alpha
	return HypothesisResult{
		TestType:       p.TestType,
		TestResults:    results,
		IsSignificant:  significant,
		AlphaLevel:     p.Alpha,
		Interpretation: Interpret(significant, p.Alpha),
	}, nil
}

// Interpret phrases the test decision
func Interpret(significant bool, alpha float64) string {
	if significant {
		return fmt.Sprintf("The result is statistically significant at α = %g level. We reject the null hypothesis.", alpha)
	}
	return fmt.Sprintf("The result is not statistically significant at α = %g level. We fail to reject the null hypothesis.", alpha)
}

func numericColumn(f *dataset.Frame, name, field string) ([]float64, error) {
	if name == "" {
		return nil, apperrors.Invalidf("%s is required", field).WithField(field, "required", "required")
	}
	c, err := f.MustColumn(name)
	if err != nil {
		return nil, err
	}
	if !c.IsNumeric() {
		return nil, apperrors.Invalidf("column %q is not numeric", name)
	}
	return c.Floats(), nil
}

// groups splits the value column by the text of the group column
func groups(f *dataset.Frame, groupCol, valueCol string) ([]string, map[string][]float64, error) {
	if groupCol == "" || valueCol == "" {
		return nil, nil, apperrors.Invalidf("group_column and value_column are required")
	}
	g, err := f.MustColumn(groupCol)
	if err != nil {
		return nil, nil, err
	}
	v, err := f.MustColumn(valueCol)
	if err != nil {
		return nil, nil, err
	}
	if !v.IsNumeric() {
		return nil, nil, apperrors.Invalidf("column %q is not numeric", valueCol)
	}
	out := make(map[string][]float64)
	for i, gv := range g.Values {
		x, ok := v.FloatAt(i)
		if gv == nil || !ok {
			continue
		}
		key := dataset.FormatValue(gv)
		out[key] = append(out[key], x)
	}
	names := make([]string, 0, len(out))
	for k := range out {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, out, nil
}

func tTest(f *dataset.Frame, p HypothesisParams) (map[string]interface{}, float64, error) {
	switch {
	case p.GroupColumn != "":
		names, byGroup, err := groups(f, p.GroupColumn, p.ValueColumn)
		if err != nil {
			return nil, 0, err
		}
		if len(names) != 2 {
			return nil, 0, apperrors.Invalidf("t_test needs exactly two groups in %q, found %d", p.GroupColumn, len(names))
		}
		res, pv, err := welch(byGroup[names[0]], byGroup[names[1]], p.Alpha)
		if err == nil {
			res["groups"] = names
		}
		return res, pv, err
	case p.Column2 != "":
		a, err := numericColumn(f, p.Column, "column")
		if err != nil {
			return nil, 0, err
		}
		b, err := numericColumn(f, p.Column2, "column2")
		if err != nil {
			return nil, 0, err
		}
		return welch(a, b, p.Alpha)
	default:
		x, err := numericColumn(f, p.Column, "column")
		if err != nil {
			return nil, 0, err
		}
		mu := 0.0
		if p.Mu != nil {
			mu = *p.Mu
		}
		return oneSample(x, mu, p.Alpha)
	}
}

func oneSample(x []float64, mu, alpha float64) (map[string]interface{}, float64, error) {
	n := float64(len(x))
	if n < 2 {
		return nil, 0, apperrors.Invalidf("t_test needs at least two observations")
	}
	mean, std := stat.MeanStdDev(x, nil)
	se := std / math.Sqrt(n)
	if se == 0 {
		return nil, 0, apperrors.Invalidf("t_test is undefined for a constant sample")
	}
	df := n - 1
	t := (mean - mu) / se
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	pv := 2 * dist.Survival(math.Abs(t))
	crit := dist.Quantile(1 - alpha/2)
	return map[string]interface{}{
		"test_statistic":      numfmt.Round(t, places),
		"p_value":             numfmt.Round(pv, places),
		"degrees_of_freedom":  df,
		"confidence_interval": []float64{numfmt.Round(mean-crit*se, 3), numfmt.Round(mean+crit*se, 3)},
		"sample_mean":         numfmt.Round(mean, places),
		"hypothesized_mean":   mu,
		"variant":             "one_sample",
	}, pv, nil
}

func welch(a, b []float64, alpha float64) (map[string]interface{}, float64, error) {
	n1, n2 := float64(len(a)), float64(len(b))
	if n1 < 2 || n2 < 2 {
		return nil, 0, apperrors.Invalidf("t_test needs at least two observations per sample")
	}
	m1, v1 := stat.MeanVariance(a, nil)
	m2, v2 := stat.MeanVariance(b, nil)
	s1, s2 := v1/n1, v2/n2
	se := math.Sqrt(s1 + s2)
	if se == 0 {
		return nil, 0, apperrors.Invalidf("t_test is undefined for constant samples")
	}
	t := (m1 - m2) / se
	df := (s1 + s2) * (s1 + s2) / (s1*s1/(n1-1) + s2*s2/(n2-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	pv := 2 * dist.Survival(math.Abs(t))
	crit := dist.Quantile(1 - alpha/2)
	diff := m1 - m2
	return map[string]interface{}{
		"test_statistic":      numfmt.Round(t, places),
		"p_value":             numfmt.Round(pv, places),
		"degrees_of_freedom":  numfmt.Round(df, 2),
		"confidence_interval": []float64{numfmt.Round(diff-crit*se, 3), numfmt.Round(diff+crit*se, 3)},
		"mean_difference":     numfmt.Round(diff, places),
		"variant":             "welch_two_sample",
	}, pv, nil
}

func chiSquare(f *dataset.Frame, p HypothesisParams) (map[string]interface{}, float64, error) {
	if p.Column == "" || p.Column2 == "" {
		return nil, 0, apperrors.Invalidf("chi_square needs column and column2")
	}
	a, err := f.MustColumn(p.Column)
	if err != nil {
		return nil, 0, err
	}
	b, err := f.MustColumn(p.Column2)
	if err != nil {
		return nil, 0, err
	}

	rowIdx, colIdx := map[string]int{}, map[string]int{}
	type cell struct{ r, c int }
	counts := map[cell]float64{}
	var total float64
	for i := range a.Values {
		if a.Values[i] == nil || b.Values[i] == nil {
			continue
		}
		rk, ck := dataset.FormatValue(a.Values[i]), dataset.FormatValue(b.Values[i])
		if _, ok := rowIdx[rk]; !ok {
			rowIdx[rk] = len(rowIdx)
		}
		if _, ok := colIdx[ck]; !ok {
			colIdx[ck] = len(colIdx)
		}
		counts[cell{rowIdx[rk], colIdx[ck]}]++
		total++
	}
	r, c := len(rowIdx), len(colIdx)
	if r < 2 || c < 2 {
		return nil, 0, apperrors.Invalidf("chi_square needs at least two categories in each column")
	}
	rowSum := make([]float64, r)
	colSum := make([]float64, c)
	for k, n := range counts {
		rowSum[k.r] += n
		colSum[k.c] += n
	}

	df := float64((r - 1) * (c - 1))
	yates := df == 1
	var chi float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			expected := rowSum[i] * colSum[j] / total
			diff := math.Abs(counts[cell{i, j}] - expected)
			if yates {
				diff = math.Max(0, diff-0.5)
			}
			chi += diff * diff / expected
		}
	}
	dist := distuv.ChiSquared{K: df}
	pv := dist.Survival(chi)
	return map[string]interface{}{
		"test_statistic":     numfmt.Round(chi, places),
		"p_value":            numfmt.Round(pv, places),
		"degrees_of_freedom": df,
		"critical_value":     numfmt.Round(dist.Quantile(1-p.Alpha), places),
		"yates_correction":   yates,
		"observations":       int(total),
	}, pv, nil
}

func anova(f *dataset.Frame, p HypothesisParams) (map[string]interface{}, float64, error) {
	names, byGroup, err := groups(f, p.GroupColumn, p.ValueColumn)
	if err != nil {
		return nil, 0, err
	}
	k := len(names)
	if k < 2 {
		return nil, 0, apperrors.Invalidf("anova needs at least two groups in %q", p.GroupColumn)
	}
	var all []float64
	for _, n := range names {
		all = append(all, byGroup[n]...)
	}
	nTotal := len(all)
	if nTotal <= k {
		return nil, 0, apperrors.Invalidf("anova needs more observations than groups")
	}
	grand := stat.Mean(all, nil)
	var ssb, ssw float64
	means := make(map[string]float64, k)
	for _, n := range names {
		xs := byGroup[n]
		m := stat.Mean(xs, nil)
		means[n] = numfmt.Round(m, places)
		ssb += float64(len(xs)) * (m - grand) * (m - grand)
		for _, x := range xs {
			ssw += (x - m) * (x - m)
		}
	}
	dfb, dfw := float64(k-1), float64(nTotal-k)
	if ssw == 0 {
		return nil, 0, apperrors.Invalidf("anova is undefined when every group is constant")
	}
	fStat := (ssb / dfb) / (ssw / dfw)
	dist := distuv.F{D1: dfb, D2: dfw}
	pv := dist.Survival(fStat)
	return map[string]interface{}{
		"f_statistic":       numfmt.Round(fStat, places),
		"p_value":           numfmt.Round(pv, places),
		"between_groups_df": dfb,
		"within_groups_df":  dfw,
		"group_means":       means,
	}, pv, nil
}

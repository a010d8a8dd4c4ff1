// Package analysis implements the statistical analysis feature: descriptive
// statistics, correlations, hypothesis tests and outlier detection.
package analysis

import (
	"math"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/pkg/numfmt"
	"gonum.org/v1/gonum/stat"
)

const places = 4

// ColumnStats are the descriptive statistics of one numeric column.
// Skewness needs 3 values and kurtosis 4; below that they are null.
type ColumnStats struct {
	Count    int      `json:"count"`
	Mean     float64  `json:"mean"`
	Std      float64  `json:"std"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	Median   float64  `json:"median"`
	Q1       float64  `json:"q1"`
	Q3       float64  `json:"q3"`
	Skewness *float64 `json:"skewness"`
	Kurtosis *float64 `json:"kurtosis"`
}

type DescriptiveSummary struct {
	TotalColumnsAnalyzed int      `json:"total_columns_analyzed"`
	AnalysisType         string   `json:"analysis_type"`
	SkippedColumns       []string `json:"skipped_columns,omitempty"`
}

type DescriptiveResult struct {
	DescriptiveStatistics map[string]ColumnStats `json:"descriptive_statistics"`
	Summary               DescriptiveSummary     `json:"summary"`
}

// Describe computes statistics of xs
func Describe(xs []float64) ColumnStats {
	s := dataset.Sorted(xs)
	n := len(s)
	cs := ColumnStats{Count: n}
	if n == 0 {
		return cs
	}
	mean, std := stat.MeanStdDev(s, nil)
	if n < 2 {
		std = 0
	}
	cs.Mean = numfmt.Round(mean, places)
	cs.Std = numfmt.Round(std, places)
	cs.Min = s[0]
	cs.Max = s[n-1]
	cs.Median = numfmt.Round(dataset.Quantile(s, 0.5), places)
	cs.Q1 = numfmt.Round(dataset.Quantile(s, 0.25), places)
	cs.Q3 = numfmt.Round(dataset.Quantile(s, 0.75), places)
	if n >= 3 && std > 0 {
		cs.Skewness = roundPtr(stat.Skew(s, nil))
	}
	if n >= 4 && std > 0 {
		cs.Kurtosis = roundPtr(stat.ExKurtosis(s, nil))
	}
	return cs
}

func roundPtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	r := numfmt.Round(v, places)
	return &r
}

// Descriptive computes statistics for every numeric column of f
func Descriptive(f *dataset.Frame) (DescriptiveResult, error) {
	res := DescriptiveResult{
		DescriptiveStatistics: make(map[string]ColumnStats),
		Summary:               DescriptiveSummary{AnalysisType: "descriptive"},
	}
	for _, c := range f.Columns() {
		if !c.IsNumeric() {
			res.Summary.SkippedColumns = append(res.Summary.SkippedColumns, c.Name)
			continue
		}
		res.DescriptiveStatistics[c.Name] = Describe(c.Floats())
	}
	if len(res.DescriptiveStatistics) == 0 {
		return res, apperrors.Invalidf("no numeric columns to analyze")
	}
	res.Summary.TotalColumnsAnalyzed = len(res.DescriptiveStatistics)
	return res, nil
}

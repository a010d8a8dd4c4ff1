package analysis

import (
	"math"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/pkg/numfmt"
	"gonum.org/v1/gonum/stat"
)

// Outlier detection methods
const (
	MethodIQR    = "iqr"
	MethodZScore = "zscore"
)

type ColumnOutliers struct {
	TotalPoints       int     `json:"total_points"`
	OutlierCount      int     `json:"outlier_count"`
	OutlierPercentage float64 `json:"outlier_percentage"`
	MethodUsed        string  `json:"method_used"`
	OutlierIndices    []int   `json:"outlier_indices"`
	LowerBound        float64 `json:"lower_bound"`
	UpperBound        float64 `json:"upper_bound"`
}

type OutlierResult struct {
	OutlierAnalysis      map[string]ColumnOutliers `json:"outlier_analysis"`
	Method               string                    `json:"method"`
	TotalColumnsAnalyzed int                       `json:"total_columns_analyzed"`
}

// Outliers flags values outside 1.5×IQR fences (iqr) or with |z| above
// threshold (zscore, default 3). Indices refer to frame rows.
func Outliers(f *dataset.Frame, method string, threshold float64) (OutlierResult, error) {
	if method == "" {
		method = MethodIQR
	}
	if method != MethodIQR && method != MethodZScore {
		return OutlierResult{}, apperrors.Invalidf("unsupported outlier method %q", method).
			WithField("method", "must be one of iqr, zscore", "oneof")
	}
	if threshold <= 0 {
		threshold = 3
	}
	res := OutlierResult{OutlierAnalysis: make(map[string]ColumnOutliers), Method: method}
	for _, c := range f.NumericColumns() {
		res.OutlierAnalysis[c.Name] = columnOutliers(c, method, threshold)
	}
	if len(res.OutlierAnalysis) == 0 {
		return res, apperrors.Invalidf("no numeric columns to analyze")
	}
	res.TotalColumnsAnalyzed = len(res.OutlierAnalysis)
	return res, nil
}

func columnOutliers(c *dataset.Column, method string, threshold float64) ColumnOutliers {
	xs := c.Floats()
	var lower, upper float64
	if method == MethodIQR {
		lower, upper = dataset.IQRBounds(xs, 1.5)
	} else {
		mean, std := stat.PopMeanStdDev(xs, nil)
		lower, upper = mean-threshold*std, mean+threshold*std
		if std == 0 {
			lower, upper = math.Inf(-1), math.Inf(1)
		}
	}
	out := ColumnOutliers{
		TotalPoints:    len(xs),
		MethodUsed:     method,
		OutlierIndices: []int{},
		LowerBound:     numfmt.Round(numfmt.Finite(lower), places),
		UpperBound:     numfmt.Round(numfmt.Finite(upper), places),
	}
	for i := range c.Values {
		if v, ok := c.FloatAt(i); ok && (v < lower || v > upper) {
			out.OutlierIndices = append(out.OutlierIndices, i)
		}
	}
	out.OutlierCount = len(out.OutlierIndices)
	out.OutlierPercentage = numfmt.Percent(float64(out.OutlierCount), float64(out.TotalPoints))
	return out
}

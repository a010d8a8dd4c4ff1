// Package validation scores data quality and checks datasets against
// schemas, anomaly detectors and business rules.
package validation

import (
	"fmt"
	"math"
	"time"

	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/pkg/numfmt"
	"gonum.org/v1/gonum/stat"
)

// Check statuses
const (
	Pass    = "pass"
	Warning = "warning"
	Fail    = "fail"
)

// Validation levels
const (
	LevelBasic         = "basic"
	LevelStandard      = "standard"
	LevelComprehensive = "comprehensive"
)

const maxRecommendations = 10

// Band grades a fraction: below Pass passes, below Warn warns, anything
// else fails.
type Band struct {
	Pass float64
	Warn float64
}

func (b Band) grade(fraction float64) string {
	switch {
	case fraction < b.Pass:
		return Pass
	case fraction < b.Warn:
		return Warning
	default:
		return Fail
	}
}

// withPass moves the band to a new pass limit, keeping its warning width
func (b Band) withPass(limit float64) Band {
	return Band{Pass: limit, Warn: limit + (b.Warn - b.Pass)}
}

// Thresholds hold the overall score limit and one band per quality check,
// all as fractions.
type Thresholds struct {
	Quality     float64
	Missing     Band
	Duplicate   Band
	InvalidType Band
	Outlier     Band
}

// DefaultThresholds returns the limits used when nothing is configured
func DefaultThresholds() Thresholds {
	return Thresholds{
		Quality:     0.8,
		Missing:     Band{Pass: 0.05, Warn: 0.10},
		Duplicate:   Band{Pass: 0.02, Warn: 0.05},
		InvalidType: Band{Pass: 0.01, Warn: 0.03},
		Outlier:     Band{Pass: 0.03, Warn: 0.07},
	}
}

// QualityCheck is one check of one column. Only the percentage field of the
// check's own kind is set.
type QualityCheck struct {
	MissingPercentage       *float64 `json:"missing_percentage,omitempty"`
	DuplicatePercentage     *float64 `json:"duplicate_percentage,omitempty"`
	InvalidFormatPercentage *float64 `json:"invalid_format_percentage,omitempty"`
	OutlierPercentage       *float64 `json:"outlier_percentage,omitempty"`
	Skewness                *float64 `json:"skewness,omitempty"`
	Kurtosis                *float64 `json:"kurtosis,omitempty"`
	Status                  string   `json:"status"`
	Description             string   `json:"description"`
}

type ValidationSummary struct {
	TotalColumnsAssessed int       `json:"total_columns_assessed"`
	ValidationLevel      string    `json:"validation_level"`
	AssessmentTimestamp  time.Time `json:"assessment_timestamp"`
	PassedChecks         int       `json:"passed_checks"`
	FailedChecks         int       `json:"failed_checks"`
	WarningChecks        int       `json:"warning_checks"`
}

type QualityResult struct {
	OverallQualityScore   float64                            `json:"overall_quality_score"`
	MeetsQualityThreshold bool                               `json:"meets_quality_threshold"`
	QualityReport         map[string]map[string]QualityCheck `json:"quality_report"`
	ValidationSummary     ValidationSummary                  `json:"validation_summary"`
	Recommendations       []string                           `json:"recommendations"`
}

func pct(v float64) *float64 {
	r := numfmt.Round(v*100, 2)
	return &r
}

// valueKind buckets a cell as number, bool or string
func valueKind(v interface{}) string {
	switch v.(type) {
	case float64:
		return "number"
	case bool:
		return "bool"
	default:
		return "string"
	}
}

// dominantKind returns the most common kind among present cells and the
// share of present cells of another kind.
func dominantKind(c *dataset.Column) (string, float64) {
	counts := map[string]int{}
	present := 0
	for _, v := range c.Values {
		if v == nil {
			continue
		}
		counts[valueKind(v)]++
		present++
	}
	best, bestN := "", -1
	for _, k := range []string{"number", "bool", "string"} {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	if present == 0 {
		return best, 0
	}
	return best, float64(present-bestN) / float64(present)
}

// Quality runs the completeness, uniqueness, validity and consistency checks
// on every column, plus distribution shape on the comprehensive level.
func Quality(f *dataset.Frame, level string, th Thresholds, now time.Time) QualityResult {
	if level == "" {
		level = LevelStandard
	}
	res := QualityResult{QualityReport: map[string]map[string]QualityCheck{}}
	var passed, failed, warned, total int
	var recs []string

	for _, c := range f.Columns() {
		report := map[string]QualityCheck{}
		n := len(c.Values)
		missing := c.Missing()
		present := n - missing

		missFrac := 0.0
		if n > 0 {
			missFrac = float64(missing) / float64(n)
		}
		report["completeness"] = QualityCheck{
			MissingPercentage: pct(missFrac),
			Status:            th.Missing.grade(missFrac),
			Description:       fmt.Sprintf("%.2f%% missing values", missFrac*100),
		}

		distinct := map[string]struct{}{}
		for _, v := range c.Values {
			if v != nil {
				distinct[valueKind(v)+":"+dataset.FormatValue(v)] = struct{}{}
			}
		}
		dupFrac := 0.0
		if present > 0 {
			dupFrac = float64(present-len(distinct)) / float64(present)
		}
		report["uniqueness"] = QualityCheck{
			DuplicatePercentage: pct(dupFrac),
			Status:              th.Duplicate.grade(dupFrac),
			Description:         fmt.Sprintf("%.2f%% duplicate values", dupFrac*100),
		}

		kind, invalidFrac := dominantKind(c)
		report["validity"] = QualityCheck{
			InvalidFormatPercentage: pct(invalidFrac),
			Status:                  th.InvalidType.grade(invalidFrac),
			Description:             fmt.Sprintf("%.2f%% values are not %s", invalidFrac*100, kind),
		}

		outFrac := 0.0
		xs := c.Floats()
		if c.IsNumeric() && len(xs) >= 4 {
			lo, hi := dataset.IQRBounds(xs, 1.5)
			out := 0
			for _, x := range xs {
				if x < lo || x > hi {
					out++
				}
			}
			outFrac = float64(out) / float64(len(xs))
		}
		report["consistency"] = QualityCheck{
			OutlierPercentage: pct(outFrac),
			Status:            th.Outlier.grade(outFrac),
			Description:       fmt.Sprintf("%.2f%% outliers detected", outFrac*100),
		}

		if level == LevelComprehensive && c.IsNumeric() && len(xs) >= 4 {
			skew := numfmt.Finite(stat.Skew(xs, nil))
			kurt := numfmt.Finite(stat.ExKurtosis(xs, nil))
			status := Pass
			if math.Abs(skew) > 2 || math.Abs(kurt) > 7 {
				status = Warning
			}
			s, k := numfmt.Round(skew, 3), numfmt.Round(kurt, 3)
			report["distribution"] = QualityCheck{
				Skewness:    &s,
				Kurtosis:    &k,
				Status:      status,
				Description: fmt.Sprintf("skewness %.3f, excess kurtosis %.3f", s, k),
			}
		}

		for _, name := range []string{"completeness", "uniqueness", "validity", "consistency", "distribution"} {
			check, ok := report[name]
			if !ok {
				continue
			}
			total++
			switch check.Status {
			case Pass:
				passed++
			case Warning:
				warned++
			case Fail:
				failed++
				recs = append(recs, recommendation(name, c.Name))
			}
		}
		res.QualityReport[c.Name] = report
	}

	if total > 0 {
		res.OverallQualityScore = numfmt.Round(float64(passed)/float64(total)*100, 2)
	}
	res.MeetsQualityThreshold = res.OverallQualityScore/100 >= th.Quality
	res.ValidationSummary = ValidationSummary{
		TotalColumnsAssessed: f.Width(),
		ValidationLevel:      level,
		AssessmentTimestamp:  now.UTC(),
		PassedChecks:         passed,
		FailedChecks:         failed,
		WarningChecks:        warned,
	}
	if len(recs) == 0 {
		recs = append(recs, "Data quality is good. Continue monitoring for any changes.")
	}
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	res.Recommendations = recs
	return res
}

func recommendation(check, column string) string {
	switch check {
	case "completeness":
		return fmt.Sprintf("Address missing values in column '%s' - consider imputation or data collection improvements", column)
	case "uniqueness":
		return fmt.Sprintf("Remove or investigate duplicate values in column '%s'", column)
	case "validity":
		return fmt.Sprintf("Validate and correct invalid formats in column '%s'", column)
	default:
		return fmt.Sprintf("Investigate and handle outliers in column '%s'", column)
	}
}

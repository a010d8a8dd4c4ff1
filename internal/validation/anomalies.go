package validation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/pkg/numfmt"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Detection methods
const (
	Statistical  = "statistical"
	PatternBased = "pattern_based"
)

const maxListedAnomalies = 100

// sensitivity maps to the z-score limit and to the largest share a format
// may have and still count as a deviation from the dominant format.
var sensitivities = map[string]struct{ z, rareShare float64 }{
	"low":    {z: 3.5, rareShare: 0.01},
	"medium": {z: 3.0, rareShare: 0.05},
	"high":   {z: 2.5, rareShare: 0.10},
}

type Anomaly struct {
	AnomalyID       string      `json:"anomaly_id"`
	RowIndex        int         `json:"row_index"`
	Value           interface{} `json:"value"`
	Type            string      `json:"type"`
	Severity        string      `json:"severity"`
	Description     string      `json:"description"`
	DetectionMethod string      `json:"detection_method"`
	ConfidenceScore float64     `json:"confidence_score"`
}

type ColumnAnomalies struct {
	Column               string    `json:"column"`
	DetectedAnomalies    []Anomaly `json:"detected_anomalies"`
	AnomalyCount         int       `json:"anomaly_count"`
	DetectionMethodsUsed []string  `json:"detection_methods_used"`
	SensitivityLevel     string    `json:"sensitivity_level"`
}

type AnomalySummary struct {
	TotalAnomaliesDetected int       `json:"total_anomalies_detected"`
	ColumnsAnalyzed        int       `json:"columns_analyzed"`
	DetectionMethods       []string  `json:"detection_methods"`
	SensitivityLevel       string    `json:"sensitivity_level"`
	DetectionTimestamp     time.Time `json:"detection_timestamp"`
}

type AnomalyResult struct {
	AnomalyDetectionResults map[string]ColumnAnomalies `json:"anomaly_detection_results"`
	Summary                 AnomalySummary             `json:"summary"`
	Recommendations         []string                   `json:"recommendations"`
}

// formatSignature maps letters to A and digits to 9, collapsing runs
func formatSignature(s string) string {
	var b strings.Builder
	var last rune = -1
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			r = 'A'
		case unicode.IsDigit(r):
			r = '9'
		}
		if r != last || (r != 'A' && r != '9') {
			b.WriteRune(r)
		}
		last = r
	}
	return b.String()
}

func severity(excess float64) string {
	switch {
	case excess >= 2:
		return "high"
	case excess >= 1:
		return "medium"
	default:
		return "low"
	}
}

func statisticalAnomalies(c *dataset.Column, limit float64) []Anomaly {
	if !c.IsNumeric() {
		return nil
	}
	xs := c.Floats()
	if len(xs) < 3 {
		return nil
	}
	mean, std := stat.PopMeanStdDev(xs, nil)
	if std == 0 {
		return nil
	}
	norm := distuv.UnitNormal
	var out []Anomaly
	for i, v := range c.Values {
		x, ok := v.(float64)
		if !ok {
			continue
		}
		z := math.Abs(x-mean) / std
		if z <= limit {
			continue
		}
		out = append(out, Anomaly{
			RowIndex:        i,
			Value:           x,
			Type:            "outlier",
			Severity:        severity(z - limit),
			Description:     fmt.Sprintf("Value %s in %s is %.2f standard deviations from the mean", dataset.FormatValue(x), c.Name, z),
			DetectionMethod: Statistical,
			ConfidenceScore: numfmt.Round(1-2*norm.Survival(z), 3),
		})
	}
	return out
}

func patternAnomalies(c *dataset.Column, rareShare float64) []Anomaly {
	if c.IsNumeric() {
		return nil
	}
	sigs := make([]string, len(c.Values))
	counts := map[string]int{}
	present := 0
	for i, v := range c.Values {
		if v == nil {
			continue
		}
		sigs[i] = valueKind(v) + ":" + formatSignature(dataset.FormatValue(v))
		counts[sigs[i]]++
		present++
	}
	if present < 3 {
		return nil
	}
	dominant, domN := "", 0
	for sig, n := range counts {
		if n > domN || (n == domN && sig < dominant) {
			dominant, domN = sig, n
		}
	}
	domShare := float64(domN) / float64(present)
	var out []Anomaly
	for i, v := range c.Values {
		if v == nil || sigs[i] == dominant {
			continue
		}
		share := float64(counts[sigs[i]]) / float64(present)
		if share > rareShare {
			continue
		}
		kind := "pattern_deviation"
		if valueKind(v) != strings.SplitN(dominant, ":", 2)[0] {
			kind = "format_inconsistency"
		}
		out = append(out, Anomaly{
			RowIndex:        i,
			Value:           v,
			Type:            kind,
			Severity:        severity(domShare*3 - 1),
			Description:     fmt.Sprintf("Value %q in %s does not follow the dominant format", dataset.FormatValue(v), c.Name),
			DetectionMethod: PatternBased,
			ConfidenceScore: numfmt.Round(domShare*(1-share), 3),
		})
	}
	return out
}

// Anomalies runs the selected detectors over the chosen columns (all when
// none are named).
func Anomalies(f *dataset.Frame, columns, methods []string, sensitivity string, now time.Time) (AnomalyResult, error) {
	if sensitivity == "" {
		sensitivity = "medium"
	}
	sens, ok := sensitivities[sensitivity]
	if !ok {
		return AnomalyResult{}, apperrors.Invalidf("unknown sensitivity %q", sensitivity).WithField("sensitivity", "must be one of low, medium, high", "oneof")
	}
	if len(methods) == 0 {
		methods = []string{Statistical, PatternBased}
	}
	for _, m := range methods {
		if m != Statistical && m != PatternBased {
			return AnomalyResult{}, apperrors.Invalidf("unknown detection method %q", m).WithField("methods", "must be statistical or pattern_based", "oneof")
		}
	}
	if len(columns) == 0 {
		columns = f.Names()
	}

	res := AnomalyResult{AnomalyDetectionResults: map[string]ColumnAnomalies{}}
	total := 0
	for _, name := range columns {
		c, err := f.MustColumn(name)
		if err != nil {
			return AnomalyResult{}, err
		}
		var found []Anomaly
		for _, m := range methods {
			if m == Statistical {
				found = append(found, statisticalAnomalies(c, sens.z)...)
			} else {
				found = append(found, patternAnomalies(c, sens.rareShare)...)
			}
		}
		sort.SliceStable(found, func(i, j int) bool { return found[i].RowIndex < found[j].RowIndex })
		for i := range found {
			found[i].AnomalyID = fmt.Sprintf("anomaly_%d", i+1)
		}
		count := len(found)
		if len(found) > maxListedAnomalies {
			found = found[:maxListedAnomalies]
		}
		if found == nil {
			found = []Anomaly{}
		}
		res.AnomalyDetectionResults[name] = ColumnAnomalies{
			Column:               name,
			DetectedAnomalies:    found,
			AnomalyCount:         count,
			DetectionMethodsUsed: methods,
			SensitivityLevel:     sensitivity,
		}
		total += count
	}
	res.Summary = AnomalySummary{
		TotalAnomaliesDetected: total,
		ColumnsAnalyzed:        len(columns),
		DetectionMethods:       methods,
		SensitivityLevel:       sensitivity,
		DetectionTimestamp:     now.UTC(),
	}
	for _, name := range columns {
		switch n := res.AnomalyDetectionResults[name].AnomalyCount; {
		case n > 10:
			res.Recommendations = append(res.Recommendations, fmt.Sprintf("High number of anomalies in '%s' - review data collection process", name))
		case n > 5:
			res.Recommendations = append(res.Recommendations, fmt.Sprintf("Moderate anomalies in '%s' - investigate and validate", name))
		}
	}
	if len(res.Recommendations) == 0 {
		res.Recommendations = []string{"Anomaly levels are within acceptable ranges."}
	}
	return res, nil
}

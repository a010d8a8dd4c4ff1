package validation

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/config"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func frameOf(cols map[string][]interface{}) *dataset.Frame {
	n := 0
	for _, v := range cols {
		n = len(v)
	}
	records := make([]map[string]interface{}, n)
	for i := range records {
		records[i] = map[string]interface{}{}
		for name, vals := range cols {
			records[i][name] = vals[i]
		}
	}
	return dataset.FromRecords(records)
}

func repeat(v interface{}, n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func seq(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func fptr(v float64) *float64 { return &v }

func TestQualityAllPass(t *testing.T) {
	f := frameOf(map[string][]interface{}{"id": seq(10)})
	res := Quality(f, "", DefaultThresholds(), now)

	assert.Equal(t, 100.0, res.OverallQualityScore)
	assert.True(t, res.MeetsQualityThreshold)
	assert.Equal(t, LevelStandard, res.ValidationSummary.ValidationLevel)
	assert.Equal(t, 4, res.ValidationSummary.PassedChecks)
	assert.Equal(t, []string{"Data quality is good. Continue monitoring for any changes."}, res.Recommendations)
	for _, name := range []string{"completeness", "uniqueness", "validity", "consistency"} {
		assert.Equal(t, Pass, res.QualityReport["id"][name].Status, name)
	}
	_, ok := res.QualityReport["id"]["distribution"]
	assert.False(t, ok)
}

func TestQualityFailingColumn(t *testing.T) {
	f := frameOf(map[string][]interface{}{
		"id":   seq(10),
		"city": repeat("Berlin", 10),
	})
	res := Quality(f, LevelStandard, DefaultThresholds(), now)

	assert.Equal(t, 87.5, res.OverallQualityScore)
	assert.True(t, res.MeetsQualityThreshold)
	assert.Equal(t, Fail, res.QualityReport["city"]["uniqueness"].Status)
	assert.Equal(t, 90.0, *res.QualityReport["city"]["uniqueness"].DuplicatePercentage)
	assert.Equal(t, 1, res.ValidationSummary.FailedChecks)
	assert.Equal(t, []string{"Remove or investigate duplicate values in column 'city'"}, res.Recommendations)
}

func TestQualityMissingValues(t *testing.T) {
	vals := seq(10)
	vals[3] = nil
	f := frameOf(map[string][]interface{}{"v": vals})
	res := Quality(f, LevelBasic, DefaultThresholds(), now)

	check := res.QualityReport["v"]["completeness"]
	assert.Equal(t, 10.0, *check.MissingPercentage)
	assert.Equal(t, Fail, check.Status)
	assert.Contains(t, res.Recommendations[0], "Address missing values in column 'v'")
	assert.False(t, res.MeetsQualityThreshold)
}

func TestQualityBands(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name     string
		band     Band
		fraction float64
		want     string
	}{
		{"completeness pass", th.Missing, 0.04, Pass},
		{"completeness at pass limit", th.Missing, 0.05, Warning},
		{"completeness warning", th.Missing, 0.09, Warning},
		{"completeness at warn limit", th.Missing, 0.10, Fail},
		{"uniqueness pass", th.Duplicate, 0.01, Pass},
		{"uniqueness warning", th.Duplicate, 0.04, Warning},
		{"uniqueness at warn limit", th.Duplicate, 0.05, Fail},
		{"validity pass", th.InvalidType, 0.005, Pass},
		{"validity warning", th.InvalidType, 0.025, Warning},
		{"validity at warn limit", th.InvalidType, 0.03, Fail},
		{"consistency pass", th.Outlier, 0.02, Pass},
		{"consistency warning", th.Outlier, 0.06, Warning},
		{"consistency at warn limit", th.Outlier, 0.07, Fail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.band.grade(tc.fraction))
		})
	}
}

func TestQualityDuplicatesWarnBelowFivePercent(t *testing.T) {
	// 50 values, 2 repeats: 4% duplicates
	vals := seq(50)
	vals[10] = vals[0]
	vals[20] = vals[1]
	f := frameOf(map[string][]interface{}{"v": vals})
	res := Quality(f, LevelStandard, DefaultThresholds(), now)

	check := res.QualityReport["v"]["uniqueness"]
	assert.Equal(t, 4.0, *check.DuplicatePercentage)
	assert.Equal(t, Warning, check.Status)
}

func TestQualityInvalidFormatWarnsBelowThreePercent(t *testing.T) {
	// 40 numbers, 1 string: 2.5% invalid
	vals := seq(40)
	vals[7] = "unknown"
	f := frameOf(map[string][]interface{}{"v": vals})
	res := Quality(f, LevelStandard, DefaultThresholds(), now)

	check := res.QualityReport["v"]["validity"]
	assert.Equal(t, 2.5, *check.InvalidFormatPercentage)
	assert.Equal(t, Warning, check.Status)
}

func TestQualityComprehensiveAddsDistribution(t *testing.T) {
	f := frameOf(map[string][]interface{}{
		"id":   seq(10),
		"name": []interface{}{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
	})
	res := Quality(f, LevelComprehensive, DefaultThresholds(), now)

	dist, ok := res.QualityReport["id"]["distribution"]
	require.True(t, ok)
	assert.Equal(t, Pass, dist.Status)
	assert.InDelta(t, 0, *dist.Skewness, 1e-9)
	_, ok = res.QualityReport["name"]["distribution"]
	assert.False(t, ok)
}

func schemaFrame() *dataset.Frame {
	return frameOf(map[string][]interface{}{
		"age":   []interface{}{25.0, 40.0, -3.0, 130.0},
		"email": []interface{}{"a@x.com", "b@y.org", "c@z.net", "d@w.io"},
		"extra": seq(4),
	})
}

func schemaRules() map[string]ColumnSchema {
	return map[string]ColumnSchema{
		"age":         {Type: "integer", MinValue: fptr(0), MaxValue: fptr(120)},
		"email":       {Type: "string", Pattern: `[^@]+@[^@]+\.[a-z]+`},
		"missing_col": {Type: "string"},
	}
}

func TestSchemaNonStrict(t *testing.T) {
	res, err := Schema(schemaFrame(), schemaRules(), false, now)
	require.NoError(t, err)

	require.Len(t, res.ValidationResults, 3)
	age := res.ValidationResults[0]
	assert.Equal(t, "age", age.ColumnName)
	assert.Equal(t, Fail, age.Status)
	require.Len(t, age.Violations, 2)
	assert.Equal(t, "min_value", age.Violations[0].Rule)
	assert.Equal(t, []int{2}, age.Violations[0].SampleRows)
	assert.Equal(t, "max_value", age.Violations[1].Rule)
	assert.Equal(t, []int{3}, age.Violations[1].SampleRows)

	assert.Equal(t, Pass, res.ValidationResults[1].Status)
	assert.Equal(t, Skipped, res.ValidationResults[2].Status)
	assert.Equal(t, 50.0, res.SchemaCompliancePercentage)
	assert.Equal(t, 1, res.SchemaSummary.SkippedColumns)
	require.Len(t, res.Violations, 1)
}

func TestSchemaStrict(t *testing.T) {
	res, err := Schema(schemaFrame(), schemaRules(), true, now)
	require.NoError(t, err)

	require.Len(t, res.ValidationResults, 4)
	assert.Equal(t, Fail, res.ValidationResults[2].Status)
	assert.Equal(t, "required_column", res.ValidationResults[2].Violations[0].Rule)
	assert.Equal(t, "extra", res.ValidationResults[3].ColumnName)
	assert.Equal(t, "unexpected_column", res.ValidationResults[3].Violations[0].Rule)
	assert.Equal(t, 25.0, res.SchemaCompliancePercentage)
	assert.True(t, res.SchemaSummary.StrictMode)
}

func TestSchemaNullableAndAllowedValues(t *testing.T) {
	f := frameOf(map[string][]interface{}{
		"tier": []interface{}{"gold", nil, "silver", "bronze"},
	})
	no := false
	res, err := Schema(f, map[string]ColumnSchema{
		"tier": {Nullable: &no, AllowedValues: []interface{}{"gold", "silver"}, MaxLength: intPtr(6)},
	}, false, now)
	require.NoError(t, err)

	col := res.ValidationResults[0]
	require.Len(t, col.ValidatedRules, 3)
	assert.Equal(t, "nullable", col.ValidatedRules[0].Rule)
	assert.Equal(t, 1, col.ValidatedRules[0].ViolatingRows)
	assert.Equal(t, Pass, col.ValidatedRules[1].Status)
	assert.Equal(t, "allowed_values", col.ValidatedRules[2].Rule)
	assert.Equal(t, 1, col.ValidatedRules[2].ViolatingRows)
}

func intPtr(v int) *int { return &v }

func TestSchemaErrors(t *testing.T) {
	_, err := Schema(schemaFrame(), map[string]ColumnSchema{"email": {Pattern: "("}}, false, now)
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))

	_, err = Schema(schemaFrame(), nil, false, now)
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
}

func TestFormatSignature(t *testing.T) {
	assert.Equal(t, "A-9", formatSignature("AB-12"))
	assert.Equal(t, "A@A.A", formatSignature("john@mail.com"))
	assert.Equal(t, "9/9/9", formatSignature("01/02/2024"))
}

func TestAnomaliesStatisticalAndPattern(t *testing.T) {
	v := append(repeat(10.0, 19), 100.0)
	code := append(repeat("AB-12", 18), "zz", 7.0)
	f := frameOf(map[string][]interface{}{"v": v, "code": code})

	res, err := Anomalies(f, nil, nil, "", now)
	require.NoError(t, err)

	vr := res.AnomalyDetectionResults["v"]
	require.Equal(t, 1, vr.AnomalyCount)
	a := vr.DetectedAnomalies[0]
	assert.Equal(t, 19, a.RowIndex)
	assert.Equal(t, Statistical, a.DetectionMethod)
	assert.Equal(t, "medium", a.Severity)
	assert.InDelta(t, 1.0, a.ConfidenceScore, 1e-3)

	cr := res.AnomalyDetectionResults["code"]
	require.Equal(t, 2, cr.AnomalyCount)
	assert.Equal(t, "pattern_deviation", cr.DetectedAnomalies[0].Type)
	assert.Equal(t, 18, cr.DetectedAnomalies[0].RowIndex)
	assert.Equal(t, "format_inconsistency", cr.DetectedAnomalies[1].Type)
	assert.Equal(t, "anomaly_2", cr.DetectedAnomalies[1].AnomalyID)

	assert.Equal(t, 3, res.Summary.TotalAnomaliesDetected)
	assert.Equal(t, "medium", res.Summary.SensitivityLevel)
	assert.Equal(t, []string{"Anomaly levels are within acceptable ranges."}, res.Recommendations)
}

func TestAnomaliesSensitivity(t *testing.T) {
	v := append(repeat(10.0, 19), 100.0)
	f := frameOf(map[string][]interface{}{"v": v})

	res, err := Anomalies(f, nil, []string{Statistical}, "low", now)
	require.NoError(t, err)
	require.Equal(t, 1, res.AnomalyDetectionResults["v"].AnomalyCount)
	assert.Equal(t, "low", res.AnomalyDetectionResults["v"].DetectedAnomalies[0].Severity)

	_, err = Anomalies(f, nil, nil, "extreme", now)
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
	_, err = Anomalies(f, nil, []string{"isolation_forest"}, "", now)
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
}

func TestAnomaliesListIsCapped(t *testing.T) {
	v := append(repeat(0.0, 3000), repeat(100.0, 150)...)
	f := frameOf(map[string][]interface{}{"v": v})

	res, err := Anomalies(f, nil, []string{Statistical}, "medium", now)
	require.NoError(t, err)
	col := res.AnomalyDetectionResults["v"]
	assert.Equal(t, 150, col.AnomalyCount)
	assert.Len(t, col.DetectedAnomalies, maxListedAnomalies)
	assert.Equal(t, []string{"High number of anomalies in 'v' - review data collection process"}, res.Recommendations)
}

func rulesFrame() *dataset.Frame {
	return frameOf(map[string][]interface{}{
		"age":    []interface{}{25.0, 40.0, -3.0, 130.0},
		"status": []interface{}{"active", "inactive", "active", "active"},
	})
}

func TestBusinessRules(t *testing.T) {
	res, err := BusinessRules(rulesFrame(), []BusinessRule{
		{RuleID: "age_range", Condition: "age >= 0 AND age <= 120", Severity: "high"},
		{RuleID: "status", Condition: "status == 'active' OR age > 30"},
	}, now)
	require.NoError(t, err)

	require.Len(t, res.RuleValidationResults, 2)
	r1 := res.RuleValidationResults[0]
	assert.False(t, r1.Passed)
	assert.Equal(t, 2, r1.ViolationsCount)
	assert.Equal(t, 50.0, r1.CompliancePercentage)
	assert.Equal(t, []int{2, 3}, r1.SampleRows)
	assert.Equal(t, "high", r1.Severity)

	r2 := res.RuleValidationResults[1]
	assert.True(t, r2.Passed)
	assert.Equal(t, 100.0, r2.CompliancePercentage)
	assert.Equal(t, "medium", r2.Severity)

	assert.Equal(t, 50.0, res.BusinessRuleComplianceRate)
	assert.Equal(t, 1, res.Summary.FailedRules)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "age_range", res.Violations[0].RuleID)
}

func TestBusinessRulesErrors(t *testing.T) {
	_, err := BusinessRules(rulesFrame(), []BusinessRule{{RuleID: "x", Condition: "salary > 10"}}, now)
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))

	_, err = BusinessRules(rulesFrame(), []BusinessRule{{RuleID: "x", Condition: "age >"}}, now)
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))

	_, err = BusinessRules(rulesFrame(), []BusinessRule{{RuleID: "x"}}, now)
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
}

type inlineResolver struct{}

func (inlineResolver) Resolve(_ context.Context, ref dataset.Ref) (*dataset.Frame, error) {
	if len(ref.Data) == 0 {
		return nil, apperrors.Invalidf("No data provided: supply data_id or data")
	}
	f := dataset.FromRecords(ref.Data)
	if len(ref.Columns) == 0 {
		return f, nil
	}
	return f.Select(ref.Columns)
}

func TestServiceUsesConfiguredThresholds(t *testing.T) {
	th := ThresholdsFrom(config.ValidationConfig{QualityThreshold: 0.9, MissingThreshold: 0.2})
	assert.Equal(t, 0.9, th.Quality)
	assert.Equal(t, 0.2, th.Missing.Pass)
	assert.InDelta(t, 0.25, th.Missing.Warn, 1e-12)
	assert.Equal(t, DefaultThresholds().Outlier, th.Outlier)

	s := NewService(inlineResolver{}, th, zaptest.NewLogger(t))
	s.now = func() time.Time { return now }

	data := []map[string]interface{}{
		{"v": 1.0, "c": "a"}, {"v": 2.0, "c": "b"}, {"v": nil, "c": "c"},
		{"v": 4.0, "c": "d"}, {"v": 5.0, "c": "e"}, {"v": 6.0, "c": "f"},
	}
	res, err := s.Quality(context.Background(), QualityRequest{Ref: dataset.Ref{Data: data, Columns: []string{"v"}}})
	require.NoError(t, err)
	assert.Contains(t, res.QualityReport, "v")
	assert.NotContains(t, res.QualityReport, "c")
	assert.Equal(t, Pass, res.QualityReport["v"]["completeness"].Status)
	assert.Equal(t, now, res.ValidationSummary.AssessmentTimestamp)

	_, err = s.Quality(context.Background(), QualityRequest{Ref: dataset.Ref{Data: data}, ValidationLevel: "exhaustive"})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))

	_, err = s.BusinessRules(context.Background(), BusinessRulesRequest{Ref: dataset.Ref{Data: data}})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))

	_, err = s.Anomalies(context.Background(), AnomalyRequest{})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
}

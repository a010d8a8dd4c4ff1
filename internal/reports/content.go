package reports

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Aidin1998/analytics/internal/analysis"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/internal/ml"
	"github.com/Aidin1998/analytics/internal/validation"
	"github.com/Aidin1998/analytics/pkg/numfmt"
)

const (
	maxSuggestedPerKind = 5
	maxBarCategories    = 20
	topFeatures         = 3
	noDataset           = "No dataset supplied"
)

type Unavailable struct {
	Title string `json:"title"`
	Note  string `json:"note"`
}

type ExecutiveSummary struct {
	Title                string   `json:"title"`
	KeyFindings          []string `json:"key_findings"`
	RecommendationsCount int      `json:"recommendations_count"`
	CriticalIssues       int      `json:"critical_issues"`
	OverallAssessment    string   `json:"overall_assessment"`
}

type DatasetInfo struct {
	TotalRows               int            `json:"total_rows"`
	TotalColumns            int            `json:"total_columns"`
	DataTypes               map[string]int `json:"data_types"`
	MissingValuesPercentage float64        `json:"missing_values_percentage"`
	DuplicateRecords        int            `json:"duplicate_records"`
}

type DataOverview struct {
	Title            string      `json:"title"`
	DatasetInfo      DatasetInfo `json:"dataset_info"`
	DataSources      []string    `json:"data_sources"`
	CollectionPeriod string      `json:"collection_period"`
}

type StatisticsSummary struct {
	VariablesAnalyzed             int  `json:"variables_analyzed"`
	SignificantCorrelations       int  `json:"significant_correlations"`
	OutliersDetected              int  `json:"outliers_detected"`
	DistributionAnalysisCompleted bool `json:"distribution_analysis_completed"`
}

type StatisticalAnalysis struct {
	Title                 string                          `json:"title"`
	DescriptiveStatistics StatisticsSummary               `json:"descriptive_statistics"`
	ColumnStatistics      map[string]analysis.ColumnStats `json:"column_statistics"`
	KeyInsights           []string                        `json:"key_insights"`
}

type ChartSuggestion struct {
	ChartType string   `json:"chart_type"`
	Columns   []string `json:"columns"`
	Reason    string   `json:"reason"`
}

type Visualizations struct {
	Title               string            `json:"title"`
	ChartsGenerated     int               `json:"charts_generated"`
	ChartTypes          map[string]int    `json:"chart_types"`
	SuggestedCharts     []ChartSuggestion `json:"suggested_charts"`
	InteractiveFeatures []string          `json:"interactive_features"`
	ExportFormats       []string          `json:"export_formats"`
}

type BestModel struct {
	Name      string   `json:"name"`
	ModelType string   `json:"model_type"`
	Algorithm string   `json:"algorithm"`
	Metric    string   `json:"metric"`
	Score     *float64 `json:"score"`
	CVMean    float64  `json:"cross_validation_score"`
}

type FeatureSummary struct {
	TopFeatures  []string `json:"top_features"`
	FeatureCount int      `json:"feature_count"`
}

type MLResults struct {
	Title                string          `json:"title"`
	ModelsTrained        int             `json:"models_trained"`
	Models               []string        `json:"models"`
	BestModelPerformance *BestModel      `json:"best_model_performance,omitempty"`
	FeatureImportance    *FeatureSummary `json:"feature_importance,omitempty"`
}

type DataQuality struct {
	Title                 string             `json:"title"`
	OverallScore          float64            `json:"overall_score"`
	MeetsQualityThreshold bool               `json:"meets_quality_threshold"`
	QualityDimensions     map[string]float64 `json:"quality_dimensions"`
	IssuesFound           int                `json:"issues_found"`
	CriticalIssues        int                `json:"critical_issues"`
	Recommendations       []string           `json:"recommendations"`
}

type Recommendation struct {
	Priority string `json:"priority"`
	Text     string `json:"text"`
}

type RecommendationsSection struct {
	Title                  string           `json:"title"`
	TotalRecommendations   int              `json:"total_recommendations"`
	PriorityLevels         map[string]int   `json:"priority_levels"`
	Recommendations        []Recommendation `json:"recommendations"`
	ImplementationTimeline string           `json:"implementation_timeline"`
}

type TechnicalDetails struct {
	AnalysisMethodology  string   `json:"analysis_methodology"`
	ToolsUsed            []string `json:"tools_used"`
	DataProcessingSteps  int      `json:"data_processing_steps"`
	ValidationProcedures int      `json:"validation_procedures"`
}

type Appendix struct {
	Title            string            `json:"title"`
	TechnicalDetails TechnicalDetails  `json:"technical_details"`
	Glossary         map[string]string `json:"glossary"`
}

var governance = []string{
	"Implement automated data quality monitoring",
	"Schedule regular data validation checks",
	"Enhance data documentation",
}

// source holds everything a report is computed from. Analyses run at most
// once per report and are shared by the sections that need them.
type source struct {
	frame      *dataset.Frame
	sources    []string
	models     []ml.ModelSummary
	importance map[string]float64
	thresholds validation.Thresholds
	now        time.Time

	quality     *validation.QualityResult
	correlation *analysis.CorrelationResult
	outliers    *analysis.OutlierResult
	descriptive *analysis.DescriptiveResult
}

func (s *source) qualityResult() *validation.QualityResult {
	if s.quality == nil {
		q := validation.Quality(s.frame, validation.LevelStandard, s.thresholds, s.now)
		s.quality = &q
	}
	return s.quality
}

// Analyses that fail (e.g. no numeric columns) leave their part empty.
func (s *source) correlationResult() *analysis.CorrelationResult {
	if s.correlation == nil {
		res, err := analysis.Correlation(s.frame, analysis.Pearson, 0)
		if err != nil {
			res = analysis.CorrelationResult{}
		}
		s.correlation = &res
	}
	return s.correlation
}

func (s *source) outlierResult() *analysis.OutlierResult {
	if s.outliers == nil {
		res, err := analysis.Outliers(s.frame, analysis.MethodIQR, 0)
		if err != nil {
			res = analysis.OutlierResult{}
		}
		s.outliers = &res
	}
	return s.outliers
}

func (s *source) descriptiveResult() *analysis.DescriptiveResult {
	if s.descriptive == nil {
		res, err := analysis.Descriptive(s.frame)
		if err != nil {
			res = analysis.DescriptiveResult{}
		}
		s.descriptive = &res
	}
	return s.descriptive
}

func (s *source) totalOutliers() int {
	n := 0
	for _, c := range s.outlierResult().OutlierAnalysis {
		n += c.OutlierCount
	}
	return n
}

func (s *source) missingPercentage() float64 {
	if s.frame.Size() == 0 {
		return 0
	}
	return numfmt.Round(float64(s.frame.MissingCells())/float64(s.frame.Size())*100, 2)
}

func (s *source) build(section string) interface{} {
	if s.frame == nil {
		switch section {
		case SectionDataOverview, SectionStatisticalAnalysis, SectionVisualizations, SectionDataQuality:
			return Unavailable{Title: sectionTitles[section], Note: noDataset}
		}
	}
	switch section {
	case SectionExecutiveSummary:
		return s.executiveSummary()
	case SectionDataOverview:
		return s.dataOverview()
	case SectionStatisticalAnalysis:
		return s.statisticalAnalysis()
	case SectionVisualizations:
		return s.visualizations()
	case SectionMLResults:
		return s.mlResults()
	case SectionDataQuality:
		return s.dataQuality()
	case SectionRecommendations:
		return s.recommendations()
	default:
		return s.appendix()
	}
}

var sectionTitles = map[string]string{
	SectionExecutiveSummary:    "Executive Summary",
	SectionDataOverview:        "Data Overview",
	SectionStatisticalAnalysis: "Statistical Analysis",
	SectionVisualizations:      "Visualizations",
	SectionMLResults:           "Machine Learning Results",
	SectionDataQuality:         "Data Quality Assessment",
	SectionRecommendations:     "Recommendations",
	SectionAppendix:            "Appendix",
}

func assessment(score float64) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 80:
		return "Good"
	case score >= 70:
		return "Satisfactory"
	default:
		return "Needs Improvement"
	}
}

func (s *source) executiveSummary() ExecutiveSummary {
	out := ExecutiveSummary{Title: sectionTitles[SectionExecutiveSummary], OverallAssessment: "Not assessed"}
	if s.frame != nil {
		q := s.qualityResult()
		out.KeyFindings = append(out.KeyFindings,
			fmt.Sprintf("Data quality score: %s%%", dataset.FormatValue(q.OverallQualityScore)),
			fmt.Sprintf("Total records analyzed: %d", s.frame.Len()),
			fmt.Sprintf("Significant correlations identified: %d", len(s.correlationResult().SignificantCorrelations)),
			fmt.Sprintf("Data completeness: %s%%", dataset.FormatValue(numfmt.Round(100-s.missingPercentage(), 2))),
		)
		out.CriticalIssues = q.ValidationSummary.FailedChecks
		out.OverallAssessment = assessment(q.OverallQualityScore)
	}
	if len(s.models) > 0 {
		out.KeyFindings = append(out.KeyFindings, fmt.Sprintf("Models trained: %d", len(s.models)))
		if best := s.bestModel(); best != nil && best.Score != nil {
			out.KeyFindings = append(out.KeyFindings, fmt.Sprintf("Best model: %s (%s %s)", best.Name, best.Metric, dataset.FormatValue(*best.Score)))
		}
	}
	if out.KeyFindings == nil {
		out.KeyFindings = []string{}
	}
	out.RecommendationsCount = len(s.recommendationList())
	return out
}

func (s *source) dataOverview() DataOverview {
	types := map[string]int{"numeric": 0, "categorical": 0, "boolean": 0, "empty": 0}
	for _, c := range s.frame.Columns() {
		switch {
		case c.IsNumeric():
			types["numeric"]++
		case c.DType() == "bool":
			types["boolean"]++
		case c.DType() == "empty":
			types["empty"]++
		default:
			types["categorical"]++
		}
	}
	dups := 0
	for _, d := range s.frame.DuplicateRows() {
		if d {
			dups++
		}
	}
	return DataOverview{
		Title: sectionTitles[SectionDataOverview],
		DatasetInfo: DatasetInfo{
			TotalRows:               s.frame.Len(),
			TotalColumns:            s.frame.Width(),
			DataTypes:               types,
			MissingValuesPercentage: s.missingPercentage(),
			DuplicateRecords:        dups,
		},
		DataSources:      s.sources,
		CollectionPeriod: "Last 30 days",
	}
}

func (s *source) statisticalAnalysis() StatisticalAnalysis {
	desc := s.descriptiveResult()
	corr := s.correlationResult()
	out := StatisticalAnalysis{
		Title: sectionTitles[SectionStatisticalAnalysis],
		DescriptiveStatistics: StatisticsSummary{
			VariablesAnalyzed:             desc.Summary.TotalColumnsAnalyzed,
			SignificantCorrelations:       len(corr.SignificantCorrelations),
			OutliersDetected:              s.totalOutliers(),
			DistributionAnalysisCompleted: desc.Summary.TotalColumnsAnalyzed > 0,
		},
		ColumnStatistics: desc.DescriptiveStatistics,
		KeyInsights:      []string{},
	}
	for i, sc := range corr.SignificantCorrelations {
		if i == maxSuggestedPerKind {
			break
		}
		out.KeyInsights = append(out.KeyInsights, fmt.Sprintf("%s correlation between %s and %s (r = %s)",
			capitalize(sc.Strength), sc.Variable1, sc.Variable2, dataset.FormatValue(sc.Correlation)))
	}
	for _, name := range sortedKeys(s.outlierResult().OutlierAnalysis) {
		c := s.outlierResult().OutlierAnalysis[name]
		if c.OutlierPercentage > 5 {
			out.KeyInsights = append(out.KeyInsights, fmt.Sprintf("%s%% of %s values are outliers", dataset.FormatValue(c.OutlierPercentage), name))
		}
	}
	return out
}

func (s *source) visualizations() Visualizations {
	out := Visualizations{
		Title:               sectionTitles[SectionVisualizations],
		ChartTypes:          map[string]int{},
		SuggestedCharts:     []ChartSuggestion{},
		InteractiveFeatures: []string{"zoom", "hover", "selection"},
		ExportFormats:       []string{"PNG", "SVG", "PDF", "HTML"},
	}
	add := func(c ChartSuggestion) {
		out.SuggestedCharts = append(out.SuggestedCharts, c)
		out.ChartTypes[c.ChartType]++
	}
	numeric := s.frame.NumericColumns()
	for i, c := range numeric {
		if i == maxSuggestedPerKind {
			break
		}
		add(ChartSuggestion{ChartType: "histogram", Columns: []string{c.Name}, Reason: "distribution of " + c.Name})
	}
	for i, sc := range s.correlationResult().SignificantCorrelations {
		if i == maxSuggestedPerKind {
			break
		}
		add(ChartSuggestion{ChartType: "scatter", Columns: []string{sc.Variable1, sc.Variable2}, Reason: sc.Strength + " correlation"})
	}
	if len(numeric) >= 2 {
		names := make([]string, len(numeric))
		for i, c := range numeric {
			names[i] = c.Name
		}
		add(ChartSuggestion{ChartType: "heatmap", Columns: names, Reason: "correlation matrix"})
	}
	bars := 0
	for _, c := range s.frame.Columns() {
		if c.IsNumeric() || bars == maxSuggestedPerKind {
			continue
		}
		distinct := map[string]struct{}{}
		for _, v := range c.Strings() {
			distinct[v] = struct{}{}
		}
		if len(distinct) >= 2 && len(distinct) <= maxBarCategories {
			add(ChartSuggestion{ChartType: "bar", Columns: []string{c.Name}, Reason: "category counts of " + c.Name})
			bars++
		}
	}
	out.ChartsGenerated = len(out.SuggestedCharts)
	return out
}

// score ranks a model: accuracy for classifiers, r2 for regressors
func score(m ml.ModelSummary) (string, *float64) {
	if m.Performance.Accuracy != nil {
		return "accuracy", m.Performance.Accuracy
	}
	return "r2", m.Performance.R2
}

func (s *source) bestModel() *BestModel {
	var best *BestModel
	for _, m := range s.models {
		metric, v := score(m)
		if v == nil {
			continue
		}
		if best == nil || *v > *best.Score {
			best = &BestModel{Name: m.Name, ModelType: m.Type, Algorithm: m.Algorithm, Metric: metric, Score: v, CVMean: m.Performance.CVMean}
		}
	}
	return best
}

func (s *source) mlResults() MLResults {
	out := MLResults{Title: sectionTitles[SectionMLResults], ModelsTrained: len(s.models), Models: []string{}}
	for _, m := range s.models {
		out.Models = append(out.Models, m.Name)
	}
	out.BestModelPerformance = s.bestModel()
	if len(s.importance) > 0 {
		names := sortedKeys(s.importance)
		sort.SliceStable(names, func(i, j int) bool {
			return math.Abs(s.importance[names[i]]) > math.Abs(s.importance[names[j]])
		})
		if len(names) > topFeatures {
			names = names[:topFeatures]
		}
		out.FeatureImportance = &FeatureSummary{TopFeatures: names, FeatureCount: len(s.importance)}
	}
	return out
}

func (s *source) dataQuality() DataQuality {
	q := s.qualityResult()
	passed := map[string]int{}
	total := map[string]int{}
	for _, checks := range q.QualityReport {
		for name, c := range checks {
			total[name]++
			if c.Status == validation.Pass {
				passed[name]++
			}
		}
	}
	dims := map[string]float64{}
	for name, n := range total {
		dims[name] = numfmt.Round(float64(passed[name])/float64(n)*100, 1)
	}
	return DataQuality{
		Title:                 sectionTitles[SectionDataQuality],
		OverallScore:          q.OverallQualityScore,
		MeetsQualityThreshold: q.MeetsQualityThreshold,
		QualityDimensions:     dims,
		IssuesFound:           q.ValidationSummary.FailedChecks + q.ValidationSummary.WarningChecks,
		CriticalIssues:        q.ValidationSummary.FailedChecks,
		Recommendations:       q.Recommendations,
	}
}

func (s *source) recommendationList() []Recommendation {
	var out []Recommendation
	if s.frame != nil {
		q := s.qualityResult()
		if q.ValidationSummary.FailedChecks > 0 {
			for _, r := range q.Recommendations {
				out = append(out, Recommendation{Priority: "high", Text: r})
			}
		}
		for i, sc := range s.correlationResult().SignificantCorrelations {
			if i == maxSuggestedPerKind {
				break
			}
			if math.Abs(sc.Correlation) >= 0.8 {
				out = append(out, Recommendation{Priority: "medium", Text: fmt.Sprintf("Review %s and %s for redundancy", sc.Variable1, sc.Variable2)})
			}
		}
	}
	if best := s.bestModel(); best != nil && best.Score != nil && *best.Score < 0.7 {
		out = append(out, Recommendation{Priority: "medium", Text: fmt.Sprintf("Improve model %s: %s is %s", best.Name, best.Metric, dataset.FormatValue(*best.Score))})
	}
	for _, g := range governance {
		out = append(out, Recommendation{Priority: "low", Text: g})
	}
	return out
}

func (s *source) recommendations() RecommendationsSection {
	recs := s.recommendationList()
	levels := map[string]int{"high": 0, "medium": 0, "low": 0}
	for _, r := range recs {
		levels[r.Priority]++
	}
	timeline := "1-3 months"
	if levels["high"] > 0 {
		timeline = "3-6 months"
	}
	return RecommendationsSection{
		Title:                  sectionTitles[SectionRecommendations],
		TotalRecommendations:   len(recs),
		PriorityLevels:         levels,
		Recommendations:        recs,
		ImplementationTimeline: timeline,
	}
}

func (s *source) appendix() Appendix {
	return Appendix{
		Title: sectionTitles[SectionAppendix],
		TechnicalDetails: TechnicalDetails{
			AnalysisMethodology:  "Statistical analysis and machine learning techniques",
			ToolsUsed:            []string{"Go", "gonum", "gonum/plot"},
			DataProcessingSteps:  4,
			ValidationProcedures: 4,
		},
		Glossary: map[string]string{
			"completeness": "Share of cells that are not missing",
			"IQR":          "Interquartile range, Q3 minus Q1",
			"cv_mean":      "Mean score across cross-validation folds",
			"r2":           "Coefficient of determination on held-out rows",
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

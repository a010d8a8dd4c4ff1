// Package reports assembles analysis reports from datasets and trained
// models, exports them to files and runs scheduled generations.
package reports

import (
	"strings"

	apperrors "github.com/Aidin1998/analytics/common/errors"
)

// Report types
const (
	TypeExecutiveSummary = "executive_summary"
	TypeDetailedAnalysis = "detailed_analysis"
	TypeDataQuality      = "data_quality"
	TypeMLPerformance    = "ml_performance"
	TypeCustom           = "custom"
)

// Sections
const (
	SectionExecutiveSummary    = "executive_summary"
	SectionDataOverview        = "data_overview"
	SectionStatisticalAnalysis = "statistical_analysis"
	SectionVisualizations      = "visualizations"
	SectionMLResults           = "ml_results"
	SectionDataQuality         = "data_quality"
	SectionRecommendations     = "recommendations"
	SectionAppendix            = "appendix"
)

// sectionOrder is the order sections appear in rendered exports
var sectionOrder = []string{
	SectionExecutiveSummary,
	SectionDataOverview,
	SectionStatisticalAnalysis,
	SectionVisualizations,
	SectionMLResults,
	SectionDataQuality,
	SectionRecommendations,
	SectionAppendix,
}

// aliases expand shorthand section names. key_findings and
// feature_importance are parts of the summary and ML sections.
var aliases = map[string][]string{
	"summary":            {SectionExecutiveSummary},
	"analysis":           {SectionDataOverview, SectionStatisticalAnalysis},
	"key_findings":       {SectionExecutiveSummary},
	"feature_importance": {SectionMLResults},
}

// Template describes a report type
type Template struct {
	Name                    string   `json:"name"`
	Description             string   `json:"description"`
	DefaultSections         []string `json:"default_sections"`
	EstimatedGenerationTime string   `json:"estimated_generation_time"`
}

var templateOrder = []string{TypeExecutiveSummary, TypeDetailedAnalysis, TypeDataQuality, TypeMLPerformance, TypeCustom}

var templates = map[string]Template{
	TypeExecutiveSummary: {
		Name:                    "Executive Summary Report",
		Description:             "High-level overview report for management and stakeholders",
		DefaultSections:         []string{"executive_summary", "key_findings", "recommendations"},
		EstimatedGenerationTime: "under 1 minute",
	},
	TypeDetailedAnalysis: {
		Name:                    "Detailed Analysis Report",
		Description:             "Comprehensive analysis with all statistical and ML results",
		DefaultSections:         []string{"executive_summary", "data_overview", "statistical_analysis", "visualizations", "ml_results", "recommendations"},
		EstimatedGenerationTime: "1-3 minutes",
	},
	TypeDataQuality: {
		Name:                    "Data Quality Report",
		Description:             "Focused report on data quality assessment and recommendations",
		DefaultSections:         []string{"executive_summary", "data_overview", "data_quality", "recommendations"},
		EstimatedGenerationTime: "under 1 minute",
	},
	TypeMLPerformance: {
		Name:                    "Machine Learning Performance Report",
		Description:             "Machine learning model performance and evaluation report",
		DefaultSections:         []string{"executive_summary", "ml_results", "feature_importance", "recommendations"},
		EstimatedGenerationTime: "under 1 minute",
	},
	TypeCustom: {
		Name:                    "Custom Report",
		Description:             "Customizable report with user-selected sections",
		DefaultSections:         []string{"executive_summary", "data_overview", "analysis"},
		EstimatedGenerationTime: "depends on selected sections",
	},
}

type TemplatesResult struct {
	AvailableTemplates map[string]Template `json:"available_templates"`
	TotalTemplates     int                 `json:"total_templates"`
}

// Templates lists every report template
func Templates() TemplatesResult {
	out := make(map[string]Template, len(templates))
	for id, t := range templates {
		t.DefaultSections = append([]string(nil), t.DefaultSections...)
		out[id] = t
	}
	return TemplatesResult{AvailableTemplates: out, TotalTemplates: len(out)}
}

func checkReportType(reportType string) error {
	if _, ok := templates[reportType]; !ok {
		return apperrors.Invalidf("Unsupported report type %q. Supported types: %s", reportType, strings.Join(templateOrder, ", ")).
			WithField("report_type", "unsupported report type", "oneof")
	}
	return nil
}

// resolveSections expands aliases and returns canonical sections in
// rendering order. An empty request selects the template defaults.
func resolveSections(reportType string, requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = templates[reportType].DefaultSections
	}
	want := map[string]bool{}
	for _, name := range requested {
		if expanded, ok := aliases[name]; ok {
			for _, s := range expanded {
				want[s] = true
			}
			continue
		}
		known := false
		for _, s := range sectionOrder {
			if s == name {
				known = true
				break
			}
		}
		if !known {
			return nil, apperrors.Invalidf("unknown report section %q", name).WithField("include_sections", "unknown section", "oneof")
		}
		want[name] = true
	}
	var out []string
	for _, s := range sectionOrder {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

package validation

import (
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/pkg/numfmt"
)

// BusinessRule is a row predicate every row must satisfy, e.g.
// "age >= 0 AND age <= 120".
type BusinessRule struct {
	RuleID      string `json:"rule_id" binding:"required"`
	Description string `json:"description"`
	Condition   string `json:"condition" binding:"required"`
	Severity    string `json:"severity" binding:"omitempty,oneof=low medium high critical"`
}

type RuleOutcome struct {
	RuleID               string  `json:"rule_id"`
	Description          string  `json:"description"`
	Condition            string  `json:"condition"`
	Passed               bool    `json:"passed"`
	ViolationsCount      int     `json:"violations_count"`
	Severity             string  `json:"severity"`
	CompliancePercentage float64 `json:"compliance_percentage"`
	SampleRows           []int   `json:"sample_rows,omitempty"`
}

type RulesSummary struct {
	TotalRulesValidated int       `json:"total_rules_validated"`
	PassedRules         int       `json:"passed_rules"`
	FailedRules         int       `json:"failed_rules"`
	ValidationTimestamp time.Time `json:"validation_timestamp"`
}

type RulesResult struct {
	BusinessRuleComplianceRate float64       `json:"business_rule_compliance_rate"`
	RuleValidationResults      []RuleOutcome `json:"rule_validation_results"`
	Summary                    RulesSummary  `json:"summary"`
	Violations                 []RuleOutcome `json:"violations"`
}

// BusinessRules evaluates every rule against every row. A row violates a
// rule when the condition is false for it.
func BusinessRules(f *dataset.Frame, rules []BusinessRule, now time.Time) (RulesResult, error) {
	res := RulesResult{RuleValidationResults: []RuleOutcome{}, Violations: []RuleOutcome{}}
	passed := 0
	for i, r := range rules {
		if r.RuleID == "" || r.Condition == "" {
			return RulesResult{}, apperrors.Invalidf("business_rules[%d] needs rule_id and condition", i)
		}
		cond, err := dataset.ParseCondition(r.Condition)
		if err != nil {
			return RulesResult{}, apperrors.Invalidf("rule %s: %v", r.RuleID, err)
		}
		if err := dataset.CheckColumns(cond, f); err != nil {
			return RulesResult{}, apperrors.Invalidf("rule %s: %v", r.RuleID, err)
		}
		out := RuleOutcome{
			RuleID:               r.RuleID,
			Description:          r.Description,
			Condition:            r.Condition,
			Severity:             r.Severity,
			CompliancePercentage: 100,
		}
		if out.Severity == "" {
			out.Severity = "medium"
		}
		for row, ok := range dataset.Mask(cond, f) {
			if ok {
				continue
			}
			out.ViolationsCount++
			if len(out.SampleRows) < sampleRows {
				out.SampleRows = append(out.SampleRows, row)
			}
		}
		if n := f.Len(); n > 0 {
			out.CompliancePercentage = numfmt.Round(float64(n-out.ViolationsCount)/float64(n)*100, 2)
		}
		out.Passed = out.ViolationsCount == 0
		if out.Passed {
			passed++
		} else {
			res.Violations = append(res.Violations, out)
		}
		res.RuleValidationResults = append(res.RuleValidationResults, out)
	}
	res.BusinessRuleComplianceRate = 100
	if len(rules) > 0 {
		res.BusinessRuleComplianceRate = numfmt.Round(float64(passed)/float64(len(rules))*100, 2)
	}
	res.Summary = RulesSummary{
		TotalRulesValidated: len(rules),
		PassedRules:         passed,
		FailedRules:         len(rules) - passed,
		ValidationTimestamp: now.UTC(),
	}
	return res, nil
}

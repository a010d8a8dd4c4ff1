package validation

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"
	"unicode/utf8"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/pkg/numfmt"
)

// ColumnSchema lists the rules one column must satisfy
type ColumnSchema struct {
	Type          string        `json:"type,omitempty" binding:"omitempty,oneof=string integer float boolean datetime"`
	Nullable      *bool         `json:"nullable,omitempty"`
	MinLength     *int          `json:"min_length,omitempty" binding:"omitempty,min=0"`
	MaxLength     *int          `json:"max_length,omitempty" binding:"omitempty,min=0"`
	MinValue      *float64      `json:"min_value,omitempty"`
	MaxValue      *float64      `json:"max_value,omitempty"`
	Pattern       string        `json:"pattern,omitempty"`
	AllowedValues []interface{} `json:"allowed_values,omitempty"`
}

type RuleResult struct {
	Rule          string      `json:"rule"`
	Expected      interface{} `json:"expected"`
	Status        string      `json:"status"`
	ViolatingRows int         `json:"violating_rows"`
}

type Violation struct {
	Rule          string      `json:"rule"`
	Expected      interface{} `json:"expected"`
	Description   string      `json:"description"`
	ViolatingRows int         `json:"violating_rows"`
	SampleRows    []int       `json:"sample_rows,omitempty"`
}

type ColumnResult struct {
	ColumnName     string       `json:"column_name"`
	Status         string       `json:"status"`
	ValidatedRules []RuleResult `json:"validated_rules"`
	Violations     []Violation  `json:"violations"`
}

type SchemaSummary struct {
	TotalColumnsValidated int       `json:"total_columns_validated"`
	PassedValidations     int       `json:"passed_validations"`
	FailedValidations     int       `json:"failed_validations"`
	SkippedColumns        int       `json:"skipped_columns"`
	StrictMode            bool      `json:"strict_mode"`
	ValidationTimestamp   time.Time `json:"validation_timestamp"`
}

type SchemaResult struct {
	SchemaCompliancePercentage float64        `json:"schema_compliance_percentage"`
	ValidationResults          []ColumnResult `json:"validation_results"`
	SchemaSummary              SchemaSummary  `json:"schema_summary"`
	Violations                 []ColumnResult `json:"violations"`
}

// Skipped marks an expected column that is absent outside strict mode
const Skipped = "skipped"

const sampleRows = 10

var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
}

func isDatetime(v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func typeMatches(want string, v interface{}) bool {
	switch want {
	case "integer":
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case "float":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "datetime":
		return isDatetime(v)
	default:
		_, ok := v.(string)
		return ok
	}
}

type rule struct {
	name     string
	expected interface{}
	// ok reports whether a present cell satisfies the rule
	ok func(v interface{}) bool
	// nulls is true for the nullable rule, which only looks at missing cells
	nulls bool
}

func compileRules(s ColumnSchema) ([]rule, error) {
	var rules []rule
	if s.Type != "" {
		rules = append(rules, rule{name: "type", expected: s.Type, ok: func(v interface{}) bool { return typeMatches(s.Type, v) }})
	}
	if s.Nullable != nil {
		rules = append(rules, rule{name: "nullable", expected: *s.Nullable, nulls: true})
	}
	if s.MinLength != nil {
		n := *s.MinLength
		rules = append(rules, rule{name: "min_length", expected: n, ok: func(v interface{}) bool {
			return utf8.RuneCountInString(dataset.FormatValue(v)) >= n
		}})
	}
	if s.MaxLength != nil {
		n := *s.MaxLength
		rules = append(rules, rule{name: "max_length", expected: n, ok: func(v interface{}) bool {
			return utf8.RuneCountInString(dataset.FormatValue(v)) <= n
		}})
	}
	if s.MinValue != nil {
		m := *s.MinValue
		rules = append(rules, rule{name: "min_value", expected: m, ok: func(v interface{}) bool {
			f, ok := v.(float64)
			return ok && f >= m
		}})
	}
	if s.MaxValue != nil {
		m := *s.MaxValue
		rules = append(rules, rule{name: "max_value", expected: m, ok: func(v interface{}) bool {
			f, ok := v.(float64)
			return ok && f <= m
		}})
	}
	if s.Pattern != "" {
		re, err := regexp.Compile(`^(?:` + s.Pattern + `)$`)
		if err != nil {
			return nil, apperrors.Invalidf("invalid pattern %q: %v", s.Pattern, err).WithField("pattern", "invalid regular expression", "regexp")
		}
		rules = append(rules, rule{name: "pattern", expected: s.Pattern, ok: func(v interface{}) bool {
			return re.MatchString(dataset.FormatValue(v))
		}})
	}
	if len(s.AllowedValues) > 0 {
		allowed := map[string]struct{}{}
		for _, a := range s.AllowedValues {
			allowed[dataset.FormatValue(a)] = struct{}{}
		}
		rules = append(rules, rule{name: "allowed_values", expected: s.AllowedValues, ok: func(v interface{}) bool {
			_, ok := allowed[dataset.FormatValue(v)]
			return ok
		}})
	}
	return rules, nil
}

func validateColumn(c *dataset.Column, name string, s ColumnSchema) (ColumnResult, error) {
	rules, err := compileRules(s)
	if err != nil {
		return ColumnResult{}, err
	}
	res := ColumnResult{ColumnName: name, Status: Pass, ValidatedRules: []RuleResult{}, Violations: []Violation{}}
	for _, r := range rules {
		var bad []int
		for i, v := range c.Values {
			switch {
			case r.nulls:
				if v == nil && !r.expected.(bool) {
					bad = append(bad, i)
				}
			case v != nil && !r.ok(v):
				bad = append(bad, i)
			}
		}
		status := Pass
		if len(bad) > 0 {
			status = Fail
			res.Status = Fail
			sample := bad
			if len(sample) > sampleRows {
				sample = sample[:sampleRows]
			}
			res.Violations = append(res.Violations, Violation{
				Rule:          r.name,
				Expected:      r.expected,
				Description:   fmt.Sprintf("Column %s violates %s constraint in %d rows", name, r.name, len(bad)),
				ViolatingRows: len(bad),
				SampleRows:    sample,
			})
		}
		res.ValidatedRules = append(res.ValidatedRules, RuleResult{Rule: r.name, Expected: r.expected, Status: status, ViolatingRows: len(bad)})
	}
	return res, nil
}

// Schema validates each expected column. Strict mode also fails absent
// expected columns and columns the schema does not name; otherwise absent
// columns are skipped and left out of the compliance percentage.
func Schema(f *dataset.Frame, expected map[string]ColumnSchema, strict bool, now time.Time) (SchemaResult, error) {
	if len(expected) == 0 {
		return SchemaResult{}, apperrors.Invalidf("expected_schema must name at least one column").WithField("expected_schema", "required", "required")
	}
	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)

	res := SchemaResult{ValidationResults: []ColumnResult{}, Violations: []ColumnResult{}}
	for _, name := range names {
		c, ok := f.Column(name)
		if !ok {
			cr := ColumnResult{ColumnName: name, Status: Skipped, ValidatedRules: []RuleResult{}, Violations: []Violation{}}
			if strict {
				cr.Status = Fail
				cr.Violations = append(cr.Violations, Violation{Rule: "required_column", Expected: true, Description: fmt.Sprintf("Column %s is missing", name)})
			}
			res.ValidationResults = append(res.ValidationResults, cr)
			continue
		}
		cr, err := validateColumn(c, name, expected[name])
		if err != nil {
			return SchemaResult{}, err
		}
		res.ValidationResults = append(res.ValidationResults, cr)
	}
	if strict {
		for _, name := range f.Names() {
			if _, ok := expected[name]; ok {
				continue
			}
			res.ValidationResults = append(res.ValidationResults, ColumnResult{
				ColumnName:     name,
				Status:         Fail,
				ValidatedRules: []RuleResult{},
				Violations: []Violation{{
					Rule: "unexpected_column", Expected: false,
					Description: fmt.Sprintf("Column %s is not in the schema", name),
				}},
			})
		}
	}

	var passed, failed, skipped int
	for _, r := range res.ValidationResults {
		switch r.Status {
		case Pass:
			passed++
		case Fail:
			failed++
			res.Violations = append(res.Violations, r)
		default:
			skipped++
		}
	}
	if checked := passed + failed; checked > 0 {
		res.SchemaCompliancePercentage = numfmt.Round(float64(passed)/float64(checked)*100, 2)
	}
	res.SchemaSummary = SchemaSummary{
		TotalColumnsValidated: passed + failed,
		PassedValidations:     passed,
		FailedValidations:     failed,
		SkippedColumns:        skipped,
		StrictMode:            strict,
		ValidationTimestamp:   now.UTC(),
	}
	return res, nil
}

package dataset

import (
	"math"
	"strings"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"gonum.org/v1/gonum/stat"
)

// Transformation types
const (
	TransformNormalize   = "normalize"
	TransformStandardize = "standardize"
	TransformLog         = "log"
	TransformDrop        = "drop_columns"
	TransformRename      = "rename"
	TransformFillMissing = "fill_missing"
	TransformFilter      = "filter"
)

// TransformStep is one entry of the transformations list
type TransformStep struct {
	Type      string            `json:"type" binding:"required"`
	Columns   []string          `json:"columns,omitempty"`
	Mapping   map[string]string `json:"mapping,omitempty"`
	Value     interface{}       `json:"value,omitempty"`
	Condition string            `json:"condition,omitempty"`
}

// AppliedTransformation records what a step touched
type AppliedTransformation struct {
	TransformStep
	AffectedColumns []string `json:"affected_columns"`
	RowsAfter       int      `json:"rows_after"`
}

// TransformationResults summarises a Transform call
type TransformationResults struct {
	AppliedTransformations []AppliedTransformation `json:"applied_transformations"`
	TransformationCount    int                     `json:"transformation_count"`
	OriginalShape          [2]int                  `json:"original_shape"`
	ResultShape            [2]int                  `json:"result_shape"`
	Status                 string                  `json:"status"`
}

// Transform applies steps in order to a copy of f
func Transform(f *Frame, steps []TransformStep) (*Frame, TransformationResults, error) {
	res := TransformationResults{
		AppliedTransformations: make([]AppliedTransformation, 0, len(steps)),
		OriginalShape:          [2]int{f.Len(), f.Width()},
	}
	out := f.Clone()
	for _, step := range steps {
		var (
			affected []string
			err      error
		)
		switch step.Type {
		case TransformNormalize, TransformStandardize, TransformLog:
			affected, err = scaleColumns(out, step)
		case TransformDrop:
			out, affected, err = dropColumns(out, step.Columns)
		case TransformRename:
			affected, err = renameColumns(out, step.Mapping)
		case TransformFillMissing:
			affected, err = fillMissing(out, step)
		case TransformFilter:
			out, affected, err = filterRows(out, step.Condition)
		default:
			err = apperrors.Invalidf("unknown transformation %q", step.Type).
				WithField("type", "must be one of normalize, standardize, log, drop_columns, rename, fill_missing, filter", "oneof")
		}
		if err != nil {
			return nil, res, err
		}
		res.AppliedTransformations = append(res.AppliedTransformations, AppliedTransformation{
			TransformStep:   step,
			AffectedColumns: affected,
			RowsAfter:       out.Len(),
		})
	}
	res.TransformationCount = len(res.AppliedTransformations)
	res.ResultShape = [2]int{out.Len(), out.Width()}
	res.Status = "completed"
	return out, res, nil
}

// targetColumns resolves explicit names or falls back to all numeric columns
func targetColumns(f *Frame, names []string, numeric bool) ([]*Column, error) {
	if len(names) == 0 {
		if numeric {
			return f.NumericColumns(), nil
		}
		return f.columns, nil
	}
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		c, err := f.MustColumn(n)
		if err != nil {
			return nil, err
		}
		if numeric && !c.IsNumeric() {
			return nil, apperrors.Invalidf("column %q is not numeric", n)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func scaleColumns(f *Frame, step TransformStep) ([]string, error) {
	cols, err := targetColumns(f, step.Columns, true)
	if err != nil {
		return nil, err
	}
	var affected []string
	for _, c := range cols {
		xs := c.Floats()
		var fn func(float64) float64
		switch step.Type {
		case TransformNormalize:
			lo, hi := minMax(xs)
			span := hi - lo
			fn = func(v float64) float64 {
				if span == 0 {
					return 0
				}
				return (v - lo) / span
			}
		case TransformStandardize:
			mean, std := stat.PopMeanStdDev(xs, nil)
			fn = func(v float64) float64 {
				if std == 0 {
					return 0
				}
				return (v - mean) / std
			}
		default:
			for _, v := range xs {
				if v <= -1 {
					return nil, apperrors.Invalidf("log transform needs values greater than -1 in column %q", c.Name)
				}
			}
			fn = math.Log1p
		}
		for i := range c.Values {
			if v, ok := c.FloatAt(i); ok {
				c.Values[i] = fn(v)
			}
		}
		affected = append(affected, c.Name)
	}
	return affected, nil
}

func minMax(xs []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range xs {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func dropColumns(f *Frame, names []string) (*Frame, []string, error) {
	if len(names) == 0 {
		return nil, nil, apperrors.Invalidf("drop_columns requires columns")
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		if _, err := f.MustColumn(n); err != nil {
			return nil, nil, err
		}
		drop[n] = true
	}
	out := NewFrame()
	for _, c := range f.columns {
		if !drop[c.Name] {
			out.addColumn(c)
		}
	}
	return out, names, nil
}

func renameColumns(f *Frame, mapping map[string]string) ([]string, error) {
	if len(mapping) == 0 {
		return nil, apperrors.Invalidf("rename requires mapping")
	}
	for from, to := range mapping {
		if _, err := f.MustColumn(from); err != nil {
			return nil, err
		}
		if strings.TrimSpace(to) == "" {
			return nil, apperrors.Invalidf("cannot rename %q to an empty name", from)
		}
	}
	// the resulting names must stay unique, whether two sources share a
	// target or a target lands on a column that keeps its name
	final := make(map[string]string, len(f.columns))
	for _, c := range f.columns {
		name := c.Name
		if to, ok := mapping[name]; ok {
			name = to
		}
		if prev, dup := final[name]; dup {
			return nil, apperrors.Invalidf("cannot rename: %q and %q would both be named %q", prev, c.Name, name).
				WithField(name, "duplicate column name", "unique")
		}
		final[name] = c.Name
	}
	var affected []string
	f.index = make(map[string]int, len(f.columns))
	for i, c := range f.columns {
		if to, ok := mapping[c.Name]; ok {
			c.Name = to
			affected = append(affected, to)
		}
		f.index[c.Name] = i
	}
	return affected, nil
}

func fillMissing(f *Frame, step TransformStep) ([]string, error) {
	if step.Value == nil {
		return nil, apperrors.Invalidf("fill_missing requires value")
	}
	cols, err := targetColumns(f, step.Columns, false)
	if err != nil {
		return nil, err
	}
	fill := normalizeValue(step.Value)
	var affected []string
	for _, c := range cols {
		if fillColumn(c, fill) > 0 {
			affected = append(affected, c.Name)
		}
	}
	return affected, nil
}

func filterRows(f *Frame, expr string) (*Frame, []string, error) {
	if expr == "" {
		return nil, nil, apperrors.Invalidf("filter requires condition")
	}
	cond, err := ParseCondition(expr)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckColumns(cond, f); err != nil {
		return nil, nil, err
	}
	return f.Filter(Mask(cond, f)), cond.Columns(), nil
}

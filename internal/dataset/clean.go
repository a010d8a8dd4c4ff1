package dataset

import (
	apperrors "github.com/Aidin1998/analytics/common/errors"
)

// Missing value strategies
const (
	MissingDrop   = "drop"
	MissingMean   = "mean"
	MissingMedian = "median"
	MissingMode   = "mode"
	MissingZero   = "zero"
	MissingFfill  = "ffill"
	MissingNone   = "none"
)

// CleanOptions mirrors the cleaning_options request object
type CleanOptions struct {
	RemoveDuplicates  *bool   `json:"remove_duplicates"`
	HandleMissing     string  `json:"handle_missing"`
	RemoveOutliers    bool    `json:"remove_outliers"`
	OutlierMultiplier float64 `json:"outlier_multiplier"`
}

// CleaningSummary echoes the effective options
type CleaningSummary struct {
	RemoveDuplicates     bool   `json:"remove_duplicates"`
	MissingValueStrategy string `json:"missing_value_strategy"`
	OutlierRemoval       bool   `json:"outlier_removal"`
}

// CleaningResults reports what Clean changed
type CleaningResults struct {
	OriginalRows         int             `json:"original_rows"`
	CleanedRows          int             `json:"cleaned_rows"`
	DuplicatesRemoved    int             `json:"duplicates_removed"`
	MissingValuesHandled int             `json:"missing_values_handled"`
	OutliersRemoved      int             `json:"outliers_removed"`
	CleaningSummary      CleaningSummary `json:"cleaning_summary"`
}

// Clean removes duplicates, handles missing values and optionally drops IQR
// outliers, in that order. The input frame is not modified.
func Clean(f *Frame, opts CleanOptions) (*Frame, CleaningResults, error) {
	removeDup := true
	if opts.RemoveDuplicates != nil {
		removeDup = *opts.RemoveDuplicates
	}
	strategy := opts.HandleMissing
	if strategy == "" {
		strategy = MissingDrop
	}
	k := opts.OutlierMultiplier
	if k <= 0 {
		k = 1.5
	}

	res := CleaningResults{
		OriginalRows: f.Len(),
		CleaningSummary: CleaningSummary{
			RemoveDuplicates:     removeDup,
			MissingValueStrategy: strategy,
			OutlierRemoval:       opts.RemoveOutliers,
		},
	}

	out := f.Clone()
	if removeDup {
		dup := out.DuplicateRows()
		keep := make([]bool, len(dup))
		for i, d := range dup {
			keep[i] = !d
			if d {
				res.DuplicatesRemoved++
			}
		}
		out = out.Filter(keep)
	}

	handled, next, err := handleMissing(out, strategy)
	if err != nil {
		return nil, res, err
	}
	res.MissingValuesHandled = handled
	out = next

	if opts.RemoveOutliers {
		keep := make([]bool, out.Len())
		for i := range keep {
			keep[i] = true
		}
		for _, c := range out.NumericColumns() {
			lower, upper := IQRBounds(c.Floats(), k)
			for i := range c.Values {
				if v, ok := c.FloatAt(i); ok && (v < lower || v > upper) {
					keep[i] = false
				}
			}
		}
		for _, kept := range keep {
			if !kept {
				res.OutliersRemoved++
			}
		}
		out = out.Filter(keep)
	}

	res.CleanedRows = out.Len()
	return out, res, nil
}

func handleMissing(f *Frame, strategy string) (int, *Frame, error) {
	missing := f.MissingCells()
	switch strategy {
	case MissingNone:
		return 0, f, nil
	case MissingDrop:
		keep := make([]bool, f.Len())
		for i := range keep {
			keep[i] = true
			for _, c := range f.columns {
				if c.Values[i] == nil {
					keep[i] = false
					break
				}
			}
		}
		return missing, f.Filter(keep), nil
	case MissingMean, MissingMedian, MissingZero, MissingMode:
		handled := 0
		for _, c := range f.columns {
			fill := fillValue(c, strategy)
			if fill == nil {
				continue
			}
			handled += fillColumn(c, fill)
		}
		return handled, f, nil
	case MissingFfill:
		handled := 0
		for _, c := range f.columns {
			var last interface{}
			for i, v := range c.Values {
				if v == nil && last != nil {
					c.Values[i] = last
					handled++
				} else if v != nil {
					last = v
				}
			}
		}
		return handled, f, nil
	default:
		return 0, nil, apperrors.Invalidf("unknown handle_missing strategy %q", strategy).
			WithField("handle_missing", "must be one of drop, mean, median, mode, zero, ffill, none", "oneof")
	}
}

// fillValue picks the replacement for missing cells; numeric strategies only
// apply to numeric columns.
func fillValue(c *Column, strategy string) interface{} {
	if strategy == MissingMode {
		return Mode(c)
	}
	if !c.IsNumeric() {
		return nil
	}
	switch strategy {
	case MissingMean:
		return Mean(c.Floats())
	case MissingMedian:
		return Median(c.Floats())
	default:
		return 0.0
	}
}

func fillColumn(c *Column, fill interface{}) int {
	n := 0
	for i, v := range c.Values {
		if v == nil {
			c.Values[i] = fill
			n++
		}
	}
	return n
}

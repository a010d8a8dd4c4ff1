// Package dataset holds the tabular data model shared by every feature
// module: loading uploaded files, describing, cleaning and transforming them.
package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/agnivade/levenshtein"
)

// Column is a named sequence of cell values. A cell is nil (missing),
// float64, string or bool.
type Column struct {
	Name   string
	Values []interface{}
}

// Frame is an ordered set of equally long columns
type Frame struct {
	columns []*Column
	index   map[string]int
}

// NewFrame creates an empty frame with the given column names
func NewFrame(names ...string) *Frame {
	f := &Frame{index: make(map[string]int, len(names))}
	for _, n := range names {
		f.addColumn(&Column{Name: n})
	}
	return f
}

func (f *Frame) addColumn(c *Column) {
	f.index[c.Name] = len(f.columns)
	f.columns = append(f.columns, c)
}

// AddColumn appends a column; its length must match the frame
func (f *Frame) AddColumn(name string, values []interface{}) error {
	if _, exists := f.index[name]; exists {
		return apperrors.Invalidf("duplicate column %q", name)
	}
	if len(f.columns) > 0 && len(values) != f.Len() {
		return apperrors.Invalidf("column %q has %d values, frame has %d rows", name, len(values), f.Len())
	}
	f.addColumn(&Column{Name: name, Values: values})
	return nil
}

// AppendRow appends one row; missing keys become nil
func (f *Frame) AppendRow(row map[string]interface{}) {
	for _, c := range f.columns {
		c.Values = append(c.Values, normalizeValue(row[c.Name]))
	}
}

// FromRecords builds a frame from JSON-like records. Columns are the union of
// record keys in sorted order; nested objects are flattened with dotted keys.
func FromRecords(records []map[string]interface{}) *Frame {
	flat := make([]map[string]interface{}, len(records))
	seen := make(map[string]struct{})
	var names []string
	for i, rec := range records {
		flat[i] = make(map[string]interface{}, len(rec))
		flatten("", rec, flat[i])
		for k := range flat[i] {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)

	f := NewFrame(names...)
	for _, rec := range flat {
		f.AppendRow(rec)
	}
	return f
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// normalizeValue converts JSON-decoded or parsed values into cell values
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(t) {
			return nil
		}
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case bool:
		return t
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// ParseCell interprets raw text from CSV or spreadsheet cells
func ParseCell(raw string) interface{} {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "na", "n/a", "nan", "null", "none":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	return s
}

// Len returns the number of rows
func (f *Frame) Len() int {
	if len(f.columns) == 0 {
		return 0
	}
	return len(f.columns[0].Values)
}

// Width returns the number of columns
func (f *Frame) Width() int { return len(f.columns) }

// Size returns rows × columns
func (f *Frame) Size() int { return f.Len() * f.Width() }

// Names returns the column names in order
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order
func (f *Frame) Columns() []*Column { return f.columns }

// Column looks a column up by name
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.columns[i], true
}

// MustColumn returns the named column or an Invalid error with a suggestion
func (f *Frame) MustColumn(name string) (*Column, error) {
	if c, ok := f.Column(name); ok {
		return c, nil
	}
	return nil, f.unknownColumn(name)
}

func (f *Frame) unknownColumn(name string) error {
	msg := fmt.Sprintf("column %q not found", name)
	if s := Suggest(name, f.Names()); s != "" {
		msg += fmt.Sprintf(", did you mean %q?", s)
	}
	return apperrors.Invalidf("%s", msg).WithField("columns", msg, "exists")
}

// Suggest returns the candidate closest to name by edit distance, or "" when
// nothing is reasonably close.
func Suggest(name string, candidates []string) string {
	best, bestDist := "", math.MaxInt
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(c))
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" || bestDist > len(name)/2+1 {
		return ""
	}
	return best
}

// Select returns a frame restricted to names, sharing column storage
func (f *Frame) Select(names []string) (*Frame, error) {
	out := NewFrame()
	for _, n := range names {
		c, err := f.MustColumn(n)
		if err != nil {
			return nil, err
		}
		if _, dup := out.index[n]; dup {
			continue
		}
		out.addColumn(c)
	}
	return out, nil
}

// NumericColumns returns the columns whose non-missing values are all numbers
func (f *Frame) NumericColumns() []*Column {
	var out []*Column
	for _, c := range f.columns {
		if c.IsNumeric() {
			out = append(out, c)
		}
	}
	return out
}

// Clone deep-copies the frame
func (f *Frame) Clone() *Frame {
	out := NewFrame()
	for _, c := range f.columns {
		vals := make([]interface{}, len(c.Values))
		copy(vals, c.Values)
		out.addColumn(&Column{Name: c.Name, Values: vals})
	}
	return out
}

// Filter keeps the rows for which keep[i] is true
func (f *Frame) Filter(keep []bool) *Frame {
	out := NewFrame()
	for _, c := range f.columns {
		vals := make([]interface{}, 0, len(c.Values))
		for i, v := range c.Values {
			if keep[i] {
				vals = append(vals, v)
			}
		}
		out.addColumn(&Column{Name: c.Name, Values: vals})
	}
	return out
}

// Row returns row i as a map
func (f *Frame) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(f.columns))
	for _, c := range f.columns {
		row[c.Name] = c.Values[i]
	}
	return row
}

// Records returns up to limit rows as maps; limit <= 0 returns all rows
func (f *Frame) Records(limit int) []map[string]interface{} {
	n := f.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		out[i] = f.Row(i)
	}
	return out
}

// rowKey renders a row as a comparable string for duplicate detection
func (f *Frame) rowKey(i int) string {
	var b strings.Builder
	for _, c := range f.columns {
		fmt.Fprintf(&b, "%T:%v\x1f", c.Values[i], c.Values[i])
	}
	return b.String()
}

// DuplicateRows marks rows that repeat an earlier row
func (f *Frame) DuplicateRows() []bool {
	seen := make(map[string]struct{}, f.Len())
	dup := make([]bool, f.Len())
	for i := 0; i < f.Len(); i++ {
		k := f.rowKey(i)
		if _, ok := seen[k]; ok {
			dup[i] = true
			continue
		}
		seen[k] = struct{}{}
	}
	return dup
}

// MissingCells counts nil cells across the frame
func (f *Frame) MissingCells() int {
	n := 0
	for _, c := range f.columns {
		n += c.Missing()
	}
	return n
}

// Missing counts nil cells
func (c *Column) Missing() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// IsNumeric reports whether every non-missing value is a float64 and at
// least one value is present.
func (c *Column) IsNumeric() bool {
	present := false
	for _, v := range c.Values {
		if v == nil {
			continue
		}
		if _, ok := v.(float64); !ok {
			return false
		}
		present = true
	}
	return present
}

// Floats returns the non-missing numeric values
func (c *Column) Floats() []float64 {
	out := make([]float64, 0, len(c.Values))
	for _, v := range c.Values {
		if f, ok := v.(float64); ok {
			out = append(out, f)
		}
	}
	return out
}

// FloatAt returns the numeric value at i
func (c *Column) FloatAt(i int) (float64, bool) {
	f, ok := c.Values[i].(float64)
	return f, ok
}

// DType names the column's type the way analysts expect: int64, float64,
// bool, object or empty.
func (c *Column) DType() string {
	var hasFloat, hasInt, hasBool, hasString bool
	for _, v := range c.Values {
		switch t := v.(type) {
		case float64:
			if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
				hasInt = true
			} else {
				hasFloat = true
			}
		case bool:
			hasBool = true
		case string:
			hasString = true
		}
	}
	switch {
	case hasString || (hasBool && (hasInt || hasFloat)):
		return "object"
	case hasBool:
		return "bool"
	case hasFloat:
		return "float64"
	case hasInt:
		if c.Missing() > 0 {
			return "float64"
		}
		return "int64"
	default:
		return "empty"
	}
}

// Strings renders every non-missing value as text
func (c *Column) Strings() []string {
	out := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		if v == nil {
			continue
		}
		out = append(out, FormatValue(v))
	}
	return out
}

// FormatValue renders a cell as text
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

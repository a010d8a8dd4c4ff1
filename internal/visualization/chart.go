// Package visualization turns datasets into chart specifications, dashboards
// and rendered image exports.
package visualization

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/pkg/numfmt"
	"gonum.org/v1/gonum/stat"
)

// Chart types
const (
	Line      = "line"
	Bar       = "bar"
	Scatter   = "scatter"
	Histogram = "histogram"
	Box       = "box"
	Violin    = "violin"
	Heatmap   = "heatmap"
	Pie       = "pie"
	Area      = "area"
	Bubble    = "bubble"
	Sunburst  = "sunburst"
)

// SupportedChartTypes lists the chart types in display order
var SupportedChartTypes = []string{Line, Bar, Scatter, Histogram, Box, Violin, Heatmap, Pie, Area, Bubble, Sunburst}

const (
	defaultBins     = 20
	maxPieSegments  = 8
	defaultMaxPoint = 5000
)

// ChartConfig selects columns and styling for one chart
type ChartConfig struct {
	X         string   `json:"x,omitempty"`
	Y         string   `json:"y,omitempty"`
	Size      string   `json:"size,omitempty"`
	Group     string   `json:"group,omitempty"`
	Value     string   `json:"value,omitempty"`
	Path      []string `json:"path,omitempty"`
	Columns   []string `json:"columns,omitempty"`
	Aggregate string   `json:"aggregate,omitempty"`
	Bins      int      `json:"bins,omitempty"`
	MaxPoints int      `json:"max_points,omitempty"`

	Title           string `json:"title,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	ColorScheme     string `json:"color_scheme,omitempty"`
	ShowLegend      *bool  `json:"show_legend,omitempty"`
	ShowGrid        *bool  `json:"show_grid,omitempty"`
	EnableZoom      *bool  `json:"enable_zoom,omitempty"`
	EnableHover     *bool  `json:"enable_hover,omitempty"`
	EnableSelection *bool  `json:"enable_selection,omitempty"`
}

type Styling struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Title       string `json:"title"`
	ColorScheme string `json:"color_scheme"`
	ShowLegend  bool   `json:"show_legend"`
	ShowGrid    bool   `json:"show_grid"`
}

type InteractiveFeatures struct {
	Zoom      bool `json:"zoom"`
	Hover     bool `json:"hover"`
	Selection bool `json:"selection"`
}

// Chart is a renderable chart specification
type Chart struct {
	Type                string                 `json:"type"`
	Data                map[string]interface{} `json:"data"`
	Styling             Styling                `json:"styling"`
	InteractiveFeatures InteractiveFeatures    `json:"interactive_features"`
	points              int
	series              *series
}

type ChartMetadata struct {
	GeneratedAt time.Time   `json:"generated_at"`
	DataPoints  int         `json:"data_points"`
	ChartConfig ChartConfig `json:"chart_config"`
}

type ChartResult struct {
	ChartType string        `json:"chart_type"`
	ChartData *Chart        `json:"chart_data"`
	Metadata  ChartMetadata `json:"metadata"`
}

// Defaults for chart dimensions
type Defaults struct {
	Width  int
	Height int
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// CheckType validates a chart type, suggesting the nearest supported one
func CheckType(chartType string) error {
	for _, t := range SupportedChartTypes {
		if t == chartType {
			return nil
		}
	}
	msg := fmt.Sprintf("Unsupported chart type. Supported types: %s", strings.Join(SupportedChartTypes, ", "))
	if s := dataset.Suggest(chartType, SupportedChartTypes); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return apperrors.Invalidf("%s", msg).WithField("chart_type", msg, "oneof")
}

// Build assembles chart data from the frame's columns
func Build(f *dataset.Frame, chartType string, cfg ChartConfig, d Defaults) (*Chart, error) {
	if err := CheckType(chartType); err != nil {
		return nil, err
	}
	if f.Len() == 0 {
		return nil, apperrors.Invalidf("no rows to chart")
	}
	s, err := extract(f, chartType, cfg)
	if err != nil {
		return nil, err
	}

	width, height := cfg.Width, cfg.Height
	if width <= 0 {
		width = d.Width
	}
	if height <= 0 {
		height = d.Height
	}
	title := cfg.Title
	if title == "" {
		title = strings.ToUpper(chartType[:1]) + chartType[1:] + " Chart"
	}
	scheme := cfg.ColorScheme
	if scheme == "" {
		scheme = "default"
	}
	if _, ok := Palettes[scheme]; !ok {
		return nil, apperrors.Invalidf("unknown color_scheme %q", scheme)
	}
	return &Chart{
		Type: chartType,
		Data: s.data(),
		Styling: Styling{
			Width:       width,
			Height:      height,
			Title:       title,
			ColorScheme: scheme,
			ShowLegend:  boolOr(cfg.ShowLegend, true),
			ShowGrid:    boolOr(cfg.ShowGrid, true),
		},
		InteractiveFeatures: InteractiveFeatures{
			Zoom:      boolOr(cfg.EnableZoom, true),
			Hover:     boolOr(cfg.EnableHover, true),
			Selection: boolOr(cfg.EnableSelection, false),
		},
		points: s.points,
		series: s,
	}, nil
}

// series is the typed chart payload shared by the JSON view and the renderer
type series struct {
	kind   string
	xLabel string
	yLabel string

	x      []float64
	xNames []string
	y      []float64
	size   []float64
	labels []string

	// histogram
	values []float64
	bins   int
	edges  []float64
	counts []float64

	// box / violin
	groups      []string
	groupValues map[string][]float64

	// heatmap
	z [][]float64

	// sunburst
	nodes []sunburstNode

	points int
}

type sunburstNode struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Parent string  `json:"parent"`
	Value  float64 `json:"value"`
	Depth  int     `json:"-"`
}

func (s *series) data() map[string]interface{} {
	switch s.kind {
	case Line, Area:
		m := map[string]interface{}{"y": s.y, "labels": s.labels}
		if s.xNames != nil {
			m["x"] = s.xNames
		} else {
			m["x"] = s.x
		}
		return m
	case Bar:
		return map[string]interface{}{"x": s.xNames, "y": s.y, "labels": s.xNames}
	case Scatter, Bubble:
		m := map[string]interface{}{"x": s.x, "y": s.y}
		if s.size != nil {
			m["size"] = s.size
		}
		return m
	case Histogram:
		return map[string]interface{}{"values": s.values, "bins": s.bins, "bin_edges": s.edges, "counts": s.counts}
	case Box, Violin:
		summary := make(map[string]interface{}, len(s.groups))
		for _, g := range s.groups {
			summary[g] = boxStats(s.groupValues[g])
		}
		return map[string]interface{}{"groups": s.groups, "values": s.groupValues, "summary": summary}
	case Heatmap:
		return map[string]interface{}{"z": s.z, "x": s.xNames, "y": s.labels}
	case Pie:
		return map[string]interface{}{"labels": s.labels, "values": s.y}
	default:
		ids := make([]string, len(s.nodes))
		labels := make([]string, len(s.nodes))
		parents := make([]string, len(s.nodes))
		values := make([]float64, len(s.nodes))
		for i, n := range s.nodes {
			ids[i], labels[i], parents[i], values[i] = n.ID, n.Label, n.Parent, n.Value
		}
		return map[string]interface{}{"ids": ids, "labels": labels, "parents": parents, "values": values}
	}
}

func boxStats(xs []float64) map[string]float64 {
	if len(xs) == 0 {
		return map[string]float64{}
	}
	s := dataset.Sorted(xs)
	q1, med, q3 := dataset.Quantile(s, 0.25), dataset.Quantile(s, 0.5), dataset.Quantile(s, 0.75)
	iqr := q3 - q1
	lo, hi := s[0], s[len(s)-1]
	for _, v := range s {
		if v >= q1-1.5*iqr {
			lo = v
			break
		}
	}
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] <= q3+1.5*iqr {
			hi = s[i]
			break
		}
	}
	return map[string]float64{
		"min": s[0], "q1": numfmt.Round(q1, 4), "median": numfmt.Round(med, 4),
		"q3": numfmt.Round(q3, 4), "max": s[len(s)-1],
		"lower_whisker": lo, "upper_whisker": hi,
	}
}

func numericCol(f *dataset.Frame, name, role string) (*dataset.Column, error) {
	if name == "" {
		return nil, apperrors.Invalidf("config.%s is required for this chart", role).WithField(role, "required", "required")
	}
	c, err := f.MustColumn(name)
	if err != nil {
		return nil, err
	}
	if !c.IsNumeric() {
		return nil, apperrors.Invalidf("column %q used as %s must be numeric", name, role)
	}
	return c, nil
}

// firstNumeric picks name, or the first numeric column except skip
func firstNumeric(f *dataset.Frame, name, role, skip string) (*dataset.Column, error) {
	if name != "" {
		return numericCol(f, name, role)
	}
	for _, c := range f.NumericColumns() {
		if c.Name != skip {
			return c, nil
		}
	}
	return nil, apperrors.Invalidf("no numeric column available for %s", role)
}

func extract(f *dataset.Frame, chartType string, cfg ChartConfig) (*series, error) {
	maxPoints := cfg.MaxPoints
	if maxPoints <= 0 {
		maxPoints = defaultMaxPoint
	}
	s := &series{kind: chartType}
	switch chartType {
	case Line, Area:
		return s, lineSeries(f, cfg, s, maxPoints)
	case Bar, Pie:
		return s, categorySeries(f, cfg, s, chartType)
	case Scatter, Bubble:
		return s, xySeries(f, cfg, s, chartType, maxPoints)
	case Histogram:
		return s, histogramSeries(f, cfg, s)
	case Box, Violin:
		return s, groupSeries(f, cfg, s)
	case Heatmap:
		return s, heatmapSeries(f, cfg, s)
	default:
		return s, sunburstSeries(f, cfg, s)
	}
}

func lineSeries(f *dataset.Frame, cfg ChartConfig, s *series, maxPoints int) error {
	yc, err := firstNumeric(f, cfg.Y, "y", cfg.X)
	if err != nil {
		return err
	}
	s.yLabel = yc.Name
	var xc *dataset.Column
	if cfg.X != "" {
		if xc, err = f.MustColumn(cfg.X); err != nil {
			return err
		}
		s.xLabel = xc.Name
	}
	for i := 0; i < f.Len() && len(s.y) < maxPoints; i++ {
		y, ok := yc.FloatAt(i)
		if !ok {
			continue
		}
		label := fmt.Sprintf("Point %d", len(s.y)+1)
		switch {
		case xc == nil:
			s.x = append(s.x, float64(i))
		case xc.IsNumeric():
			x, ok := xc.FloatAt(i)
			if !ok {
				continue
			}
			s.x = append(s.x, x)
		default:
			if xc.Values[i] == nil {
				continue
			}
			label = dataset.FormatValue(xc.Values[i])
			s.xNames = append(s.xNames, label)
			s.x = append(s.x, float64(len(s.xNames)-1))
		}
		s.y = append(s.y, y)
		s.labels = append(s.labels, label)
	}
	s.points = len(s.y)
	return nil
}

// categorySeries aggregates value by category: sum (default with a value
// column), mean, or count (default without one).
func categorySeries(f *dataset.Frame, cfg ChartConfig, s *series, chartType string) error {
	catName := cfg.X
	if catName == "" {
		catName = cfg.Group
	}
	if catName == "" {
		return apperrors.Invalidf("config.x (category column) is required for %s charts", chartType).WithField("x", "required", "required")
	}
	cat, err := f.MustColumn(catName)
	if err != nil {
		return err
	}
	valName := cfg.Y
	if valName == "" {
		valName = cfg.Value
	}
	var val *dataset.Column
	if valName != "" {
		if val, err = numericCol(f, valName, "y"); err != nil {
			return err
		}
	}
	agg := cfg.Aggregate
	if agg == "" {
		agg = "sum"
		if val == nil {
			agg = "count"
		}
	}
	if agg != "sum" && agg != "mean" && agg != "count" {
		return apperrors.Invalidf("unknown aggregate %q", agg).WithField("aggregate", "must be one of sum, mean, count", "oneof")
	}
	if agg != "count" && val == nil {
		return apperrors.Invalidf("aggregate %q needs a value column", agg)
	}

	sums := map[string]float64{}
	counts := map[string]float64{}
	var order []string
	for i, v := range cat.Values {
		if v == nil {
			continue
		}
		key := dataset.FormatValue(v)
		x := 1.0
		if val != nil {
			var ok bool
			if x, ok = val.FloatAt(i); !ok {
				continue
			}
		}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		sums[key] += x
		counts[key]++
	}
	result := func(k string) float64 {
		switch agg {
		case "count":
			return counts[k]
		case "mean":
			return numfmt.Round(sums[k]/counts[k], 4)
		default:
			return numfmt.Round(sums[k], 4)
		}
	}

	s.xLabel, s.yLabel = cat.Name, agg
	if chartType == Pie {
		sort.SliceStable(order, func(i, j int) bool { return result(order[i]) > result(order[j]) })
		var other float64
		for i, k := range order {
			if i < maxPieSegments-1 || len(order) == maxPieSegments {
				s.labels = append(s.labels, k)
				s.y = append(s.y, result(k))
				continue
			}
			other += result(k)
		}
		if len(order) > maxPieSegments {
			s.labels = append(s.labels, "Other")
			s.y = append(s.y, numfmt.Round(other, 4))
		}
	} else {
		for _, k := range order {
			s.xNames = append(s.xNames, k)
			s.y = append(s.y, result(k))
		}
	}
	s.points = len(s.y)
	return nil
}

func xySeries(f *dataset.Frame, cfg ChartConfig, s *series, chartType string, maxPoints int) error {
	xc, err := numericCol(f, cfg.X, "x")
	if err != nil {
		return err
	}
	yc, err := numericCol(f, cfg.Y, "y")
	if err != nil {
		return err
	}
	var sc *dataset.Column
	if cfg.Size != "" || chartType == Bubble {
		if sc, err = numericCol(f, cfg.Size, "size"); err != nil {
			return err
		}
		s.size = []float64{}
	}
	s.xLabel, s.yLabel = xc.Name, yc.Name
	for i := 0; i < f.Len() && len(s.x) < maxPoints; i++ {
		x, okX := xc.FloatAt(i)
		y, okY := yc.FloatAt(i)
		if !okX || !okY {
			continue
		}
		if sc != nil {
			z, ok := sc.FloatAt(i)
			if !ok {
				continue
			}
			s.size = append(s.size, z)
		}
		s.x = append(s.x, x)
		s.y = append(s.y, y)
	}
	s.points = len(s.x)
	return nil
}

func histogramSeries(f *dataset.Frame, cfg ChartConfig, s *series) error {
	name := cfg.Value
	if name == "" {
		name = cfg.X
	}
	c, err := firstNumeric(f, name, "value", "")
	if err != nil {
		return err
	}
	s.xLabel, s.yLabel = c.Name, "count"
	s.values = c.Floats()
	s.bins = cfg.Bins
	if s.bins <= 0 {
		s.bins = defaultBins
	}
	lo, hi := s.values[0], s.values[0]
	for _, v := range s.values {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi == lo {
		lo, hi = lo-0.5, hi+0.5
	}
	s.edges = make([]float64, s.bins+1)
	for i := range s.edges {
		s.edges[i] = lo + (hi-lo)*float64(i)/float64(s.bins)
	}
	s.edges[s.bins] = hi
	s.counts = make([]float64, s.bins)
	// stat.Histogram wants sorted data and excludes the upper edge
	dividers := append([]float64(nil), s.edges...)
	dividers[s.bins] = math.Nextafter(hi, math.Inf(1))
	stat.Histogram(s.counts, dividers, dataset.Sorted(s.values), nil)
	s.points = len(s.values)
	return nil
}

func groupSeries(f *dataset.Frame, cfg ChartConfig, s *series) error {
	s.groupValues = map[string][]float64{}
	if cfg.Group != "" {
		g, err := f.MustColumn(cfg.Group)
		if err != nil {
			return err
		}
		v, err := firstNumeric(f, firstNonEmpty(cfg.Value, cfg.Y), "value", cfg.Group)
		if err != nil {
			return err
		}
		s.xLabel, s.yLabel = g.Name, v.Name
		for i, gv := range g.Values {
			x, ok := v.FloatAt(i)
			if gv == nil || !ok {
				continue
			}
			key := dataset.FormatValue(gv)
			if _, seen := s.groupValues[key]; !seen {
				s.groups = append(s.groups, key)
			}
			s.groupValues[key] = append(s.groupValues[key], x)
			s.points++
		}
		return nil
	}
	cols := f.NumericColumns()
	if len(cfg.Columns) > 0 {
		cols = cols[:0:0]
		for _, name := range cfg.Columns {
			c, err := numericCol(f, name, "columns")
			if err != nil {
				return err
			}
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return apperrors.Invalidf("no numeric columns to plot")
	}
	for _, c := range cols {
		s.groups = append(s.groups, c.Name)
		s.groupValues[c.Name] = c.Floats()
		s.points += len(s.groupValues[c.Name])
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// heatmapSeries pivots x/y/value (mean per cell) when all three are given,
// and shows the correlation matrix of numeric columns otherwise.
func heatmapSeries(f *dataset.Frame, cfg ChartConfig, s *series) error {
	if cfg.X != "" && cfg.Y != "" && cfg.Value != "" {
		return pivotSeries(f, cfg, s)
	}
	cols := f.NumericColumns()
	if len(cfg.Columns) > 0 {
		cols = cols[:0:0]
		for _, name := range cfg.Columns {
			c, err := numericCol(f, name, "columns")
			if err != nil {
				return err
			}
			cols = append(cols, c)
		}
	}
	if len(cols) < 2 {
		return apperrors.Invalidf("heatmap needs at least two numeric columns or x, y and value")
	}
	for _, c := range cols {
		s.xNames = append(s.xNames, c.Name)
		s.labels = append(s.labels, c.Name)
	}
	s.z = make([][]float64, len(cols))
	for i, a := range cols {
		s.z[i] = make([]float64, len(cols))
		for j, b := range cols {
			var xs, ys []float64
			for k := range a.Values {
				av, okA := a.FloatAt(k)
				bv, okB := b.FloatAt(k)
				if okA && okB {
					xs, ys = append(xs, av), append(ys, bv)
				}
			}
			r := 1.0
			if i != j {
				r = 0
				if len(xs) > 1 {
					r = numfmt.Round(numfmt.Finite(stat.Correlation(xs, ys, nil)), 4)
				}
			}
			s.z[i][j] = r
		}
	}
	s.xLabel, s.yLabel = "variable", "variable"
	s.points = len(cols) * len(cols)
	return nil
}

func pivotSeries(f *dataset.Frame, cfg ChartConfig, s *series) error {
	xc, err := f.MustColumn(cfg.X)
	if err != nil {
		return err
	}
	yc, err := f.MustColumn(cfg.Y)
	if err != nil {
		return err
	}
	vc, err := numericCol(f, cfg.Value, "value")
	if err != nil {
		return err
	}
	xi, yi := map[string]int{}, map[string]int{}
	type cell struct{ x, y int }
	sums, counts := map[cell]float64{}, map[cell]float64{}
	for i := range xc.Values {
		v, ok := vc.FloatAt(i)
		if !ok || xc.Values[i] == nil || yc.Values[i] == nil {
			continue
		}
		xk, yk := dataset.FormatValue(xc.Values[i]), dataset.FormatValue(yc.Values[i])
		if _, seen := xi[xk]; !seen {
			xi[xk] = len(s.xNames)
			s.xNames = append(s.xNames, xk)
		}
		if _, seen := yi[yk]; !seen {
			yi[yk] = len(s.labels)
			s.labels = append(s.labels, yk)
		}
		c := cell{xi[xk], yi[yk]}
		sums[c] += v
		counts[c]++
	}
	s.z = make([][]float64, len(s.labels))
	for r := range s.z {
		s.z[r] = make([]float64, len(s.xNames))
		for c := range s.z[r] {
			if n := counts[cell{c, r}]; n > 0 {
				s.z[r][c] = numfmt.Round(sums[cell{c, r}]/n, 4)
			}
		}
	}
	s.xLabel, s.yLabel = xc.Name, yc.Name
	s.points = len(counts)
	return nil
}

// sunburstSeries builds a hierarchy from the path columns; node values are
// row counts or sums of the value column.
func sunburstSeries(f *dataset.Frame, cfg ChartConfig, s *series) error {
	if len(cfg.Path) == 0 {
		return apperrors.Invalidf("config.path is required for sunburst charts").WithField("path", "required", "required")
	}
	levels := make([]*dataset.Column, len(cfg.Path))
	for i, name := range cfg.Path {
		c, err := f.MustColumn(name)
		if err != nil {
			return err
		}
		levels[i] = c
	}
	var val *dataset.Column
	if cfg.Value != "" {
		var err error
		if val, err = numericCol(f, cfg.Value, "value"); err != nil {
			return err
		}
	}
	index := map[string]int{}
rows:
	for i := 0; i < f.Len(); i++ {
		w := 1.0
		if val != nil {
			var ok bool
			if w, ok = val.FloatAt(i); !ok {
				continue
			}
		}
		for _, c := range levels {
			if c.Values[i] == nil {
				continue rows
			}
		}
		parent := ""
		for depth, c := range levels {
			label := dataset.FormatValue(c.Values[i])
			id := label
			if parent != "" {
				id = parent + "/" + label
			}
			pos, ok := index[id]
			if !ok {
				pos = len(s.nodes)
				index[id] = pos
				s.nodes = append(s.nodes, sunburstNode{ID: id, Label: label, Parent: parent, Depth: depth})
			}
			s.nodes[pos].Value += w
			parent = id
		}
		s.points++
	}
	return nil
}

package visualization

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Palettes are the color schemes charts can be drawn with
var Palettes = map[string][]string{
	"default":      {"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd"},
	"viridis":      {"#440154", "#31688e", "#35b779", "#fde725"},
	"plasma":       {"#0d0887", "#6a00a8", "#b12a90", "#e16462", "#fca636"},
	"custom_blue":  {"#08519c", "#3182bd", "#6baed6", "#9ecae1", "#c6dbef"},
	"custom_green": {"#00441b", "#238b45", "#66c2a4", "#b2e2e2", "#edf8f8"},
}

func parseHex(s string) color.RGBA {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return color.RGBA{A: 0xff}
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

type colors []color.RGBA

func schemeColors(name string) colors {
	hex, ok := Palettes[name]
	if !ok {
		hex = Palettes["default"]
	}
	out := make(colors, len(hex))
	for i, h := range hex {
		out[i] = parseHex(h)
	}
	return out
}

func (cs colors) at(i int) color.RGBA { return cs[i%len(cs)] }

func (cs colors) faded(i int, alpha uint8) color.NRGBA {
	c := cs.at(i)
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: alpha}
}

// Render draws the chart with gonum/plot
func Render(ch *Chart) (*plot.Plot, error) {
	if ch == nil || ch.series == nil {
		return nil, fmt.Errorf("chart has no data to render")
	}
	s := ch.series
	pal := schemeColors(ch.Styling.ColorScheme)

	p := plot.New()
	p.Title.Text = ch.Styling.Title
	p.X.Label.Text = s.xLabel
	p.Y.Label.Text = s.yLabel
	if ch.Styling.ShowGrid && s.kind != Pie && s.kind != Sunburst && s.kind != Heatmap {
		p.Add(plotter.NewGrid())
	}

	var err error
	switch s.kind {
	case Line, Area:
		err = renderLine(p, s, pal, ch.Styling.ShowLegend)
	case Bar:
		err = renderBar(p, s, pal)
	case Scatter, Bubble:
		err = renderScatter(p, s, pal)
	case Histogram:
		err = renderHistogram(p, s, pal)
	case Box, Violin:
		err = renderBox(p, s, pal)
	case Heatmap:
		renderHeatmap(p, s)
	case Pie:
		renderWedges(p, pieWedges(s, pal), ch.Styling.ShowLegend)
	case Sunburst:
		renderWedges(p, sunburstWedges(s, pal), false)
	default:
		err = fmt.Errorf("no renderer for chart type %q", s.kind)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func xys(xs, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X, pts[i].Y = xs[i], ys[i]
	}
	return pts
}

func renderLine(p *plot.Plot, s *series, pal colors, legend bool) error {
	line, err := plotter.NewLine(xys(s.x, s.y))
	if err != nil {
		return err
	}
	line.Color = pal.at(0)
	line.Width = vg.Points(1.5)
	if s.kind == Area {
		line.FillColor = pal.faded(0, 0x80)
	}
	p.Add(line)
	if s.xNames != nil {
		p.NominalX(s.xNames...)
	}
	if legend {
		p.Legend.Add(s.yLabel, line)
	}
	return nil
}

func renderBar(p *plot.Plot, s *series, pal colors) error {
	bars, err := plotter.NewBarChart(plotter.Values(s.y), vg.Points(20))
	if err != nil {
		return err
	}
	bars.Color = pal.at(0)
	bars.LineStyle.Width = 0
	p.Add(bars)
	if len(s.xNames) > 0 {
		p.NominalX(s.xNames...)
	}
	return nil
}

func renderScatter(p *plot.Plot, s *series, pal colors) error {
	sc, err := plotter.NewScatter(xys(s.x, s.y))
	if err != nil {
		return err
	}
	base := pal.at(0)
	sc.GlyphStyle = draw.GlyphStyle{Color: base, Radius: vg.Points(3), Shape: draw.CircleGlyph{}}
	if s.size != nil {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range s.size {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		fill := pal.faded(0, 0xa0)
		sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			r := 8.0
			if hi > lo {
				r = 3 + 17*(s.size[i]-lo)/(hi-lo)
			}
			return draw.GlyphStyle{Color: fill, Radius: vg.Points(r), Shape: draw.CircleGlyph{}}
		}
	}
	p.Add(sc)
	return nil
}

func renderHistogram(p *plot.Plot, s *series, pal colors) error {
	h, err := plotter.NewHist(plotter.Values(s.values), s.bins)
	if err != nil {
		return err
	}
	h.FillColor = pal.at(0)
	p.Add(h)
	return nil
}

// renderBox draws violin charts as box plots too; gonum/plot has no kernel
// density plotter.
func renderBox(p *plot.Plot, s *series, pal colors) error {
	var names []string
	for i, g := range s.groups {
		vals := s.groupValues[g]
		if len(vals) == 0 {
			continue
		}
		box, err := plotter.NewBoxPlot(vg.Points(24), float64(len(names)), plotter.Values(vals))
		if err != nil {
			return err
		}
		box.FillColor = pal.faded(i, 0xc0)
		p.Add(box)
		names = append(names, g)
	}
	if len(names) == 0 {
		return fmt.Errorf("no values to draw")
	}
	p.NominalX(names...)
	return nil
}

// grid adapts a row-major matrix to plotter.GridXYZ
type grid struct{ z [][]float64 }

func (g grid) Dims() (c, r int) {
	if len(g.z) == 0 {
		return 0, 0
	}
	return len(g.z[0]), len(g.z)
}
func (g grid) Z(c, r int) float64 { return g.z[r][c] }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }

func renderHeatmap(p *plot.Plot, s *series) {
	hm := plotter.NewHeatMap(grid{z: s.z}, palette.Heat(12, 1))
	// palette scaling divides by the value range
	if hm.Min == hm.Max {
		hm.Min, hm.Max = hm.Min-0.5, hm.Max+0.5
	}
	p.Add(hm)
	p.NominalX(s.xNames...)
	ticks := make(plot.ConstantTicks, len(s.labels))
	for i, l := range s.labels {
		ticks[i] = plot.Tick{Value: float64(i), Label: l}
	}
	p.Y.Tick.Marker = ticks
}

// wedge is one annular sector, angles in radians counter-clockwise from
// twelve o'clock, radii as fractions of the drawable radius.
type wedge struct {
	label      string
	start, end float64
	inner      float64
	outer      float64
	color      color.Color
}

// wedges draws pie and sunburst sectors centred in the data area
type wedges []wedge

func (ws wedges) Plot(c draw.Canvas, _ *plot.Plot) {
	center := c.Center()
	size := c.Size()
	radius := vg.Length(math.Min(float64(size.X), float64(size.Y))) * 0.45
	for _, w := range ws {
		c.FillPolygon(w.color, sectorPolygon(center, radius, w))
	}
}

func sectorPolygon(center vg.Point, radius vg.Length, w wedge) []vg.Point {
	steps := int(math.Ceil((w.end-w.start)/(math.Pi/90))) + 1
	at := func(frac, angle float64) vg.Point {
		r := radius * vg.Length(frac)
		a := math.Pi/2 - angle
		return vg.Point{X: center.X + r*vg.Length(math.Cos(a)), Y: center.Y + r*vg.Length(math.Sin(a))}
	}
	pts := make([]vg.Point, 0, 2*steps+2)
	for i := 0; i <= steps; i++ {
		pts = append(pts, at(w.outer, w.start+(w.end-w.start)*float64(i)/float64(steps)))
	}
	if w.inner == 0 {
		return append(pts, center)
	}
	for i := steps; i >= 0; i-- {
		pts = append(pts, at(w.inner, w.start+(w.end-w.start)*float64(i)/float64(steps)))
	}
	return pts
}

// swatch is a legend thumbnail filled with one color
type swatch struct{ color color.Color }

func (s swatch) Thumbnail(c *draw.Canvas) {
	c.FillPolygon(s.color, []vg.Point{
		c.Min, {X: c.Min.X, Y: c.Max.Y}, c.Max, {X: c.Max.X, Y: c.Min.Y},
	})
}

func pieWedges(s *series, pal colors) wedges {
	var total float64
	for _, v := range s.y {
		if v > 0 {
			total += v
		}
	}
	var ws wedges
	if total == 0 {
		return ws
	}
	angle := 0.0
	for i, v := range s.y {
		if v <= 0 {
			continue
		}
		span := 2 * math.Pi * v / total
		ws = append(ws, wedge{label: s.labels[i], start: angle, end: angle + span, outer: 1, color: pal.at(i)})
		angle += span
	}
	return ws
}

// sunburstWedges lays rings out by depth, splitting each parent's arc
// among its children by value.
func sunburstWedges(s *series, pal colors) wedges {
	maxDepth := 0
	children := map[string][]int{}
	for i, n := range s.nodes {
		children[n.Parent] = append(children[n.Parent], i)
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
	}
	ring := 1 / float64(maxDepth+1)
	var ws wedges
	var layout func(parent string, start, end float64, colorIdx int)
	layout = func(parent string, start, end float64, colorIdx int) {
		var total float64
		for _, i := range children[parent] {
			total += math.Max(s.nodes[i].Value, 0)
		}
		if total == 0 {
			return
		}
		angle := start
		for k, i := range children[parent] {
			n := s.nodes[i]
			span := (end - start) * math.Max(n.Value, 0) / total
			ci := colorIdx
			if parent == "" {
				ci = k
			}
			alpha := uint8(0xff - 0x30*n.Depth%0xc0)
			ws = append(ws, wedge{
				label: n.Label, start: angle, end: angle + span,
				inner: float64(n.Depth) * ring, outer: float64(n.Depth+1) * ring,
				color: pal.faded(ci, alpha),
			})
			layout(n.ID, angle, angle+span, ci)
			angle += span
		}
	}
	layout("", 0, 2*math.Pi, 0)
	return ws
}

func renderWedges(p *plot.Plot, ws wedges, legend bool) {
	p.HideAxes()
	p.Add(ws)
	if legend {
		for _, w := range ws {
			p.Legend.Add(w.label, swatch{color: w.color})
		}
	}
}

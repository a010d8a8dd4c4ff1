package visualization

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var defaults = Defaults{Width: 800, Height: 600}

func salesFrame() *dataset.Frame {
	rows := []map[string]interface{}{
		{"region": "N", "city": "A", "sales": 1.0, "units": 10.0, "price": 2.0},
		{"region": "S", "city": "C", "sales": 2.0, "units": 20.0, "price": 4.0},
		{"region": "N", "city": "B", "sales": 3.0, "units": 30.0, "price": 6.0},
		{"region": "E", "city": "D", "sales": 4.0, "units": 40.0, "price": 8.0},
	}
	return dataset.FromRecords(rows)
}

func kind(err error) apperrors.Kind { return apperrors.KindOf(err) }

func TestCheckType(t *testing.T) {
	for _, ct := range SupportedChartTypes {
		assert.NoError(t, CheckType(ct))
	}
	err := CheckType("pi")
	require.Error(t, err)
	assert.Equal(t, apperrors.Invalid, kind(err))
	assert.Contains(t, err.Error(), "Supported types: line, bar")
	assert.Contains(t, err.Error(), `"pie"`)
}

func TestBuild_BarAggregates(t *testing.T) {
	ch, err := Build(salesFrame(), Bar, ChartConfig{X: "region", Y: "sales"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, []string{"N", "S", "E"}, ch.Data["x"])
	assert.Equal(t, []float64{4, 2, 4}, ch.Data["y"])
	assert.Equal(t, 3, ch.points)

	ch, err = Build(salesFrame(), Bar, ChartConfig{X: "region"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 1}, ch.Data["y"])

	ch, err = Build(salesFrame(), Bar, ChartConfig{X: "region", Y: "sales", Aggregate: "mean"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 4}, ch.Data["y"])
}

func TestBuild_StylingDefaults(t *testing.T) {
	ch, err := Build(salesFrame(), Line, ChartConfig{Y: "sales"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, Styling{Width: 800, Height: 600, Title: "Line Chart", ColorScheme: "default", ShowLegend: true, ShowGrid: true}, ch.Styling)
	assert.Equal(t, InteractiveFeatures{Zoom: true, Hover: true, Selection: false}, ch.InteractiveFeatures)
	assert.Equal(t, []float64{0, 1, 2, 3}, ch.Data["x"])
	assert.Equal(t, []string{"Point 1", "Point 2", "Point 3", "Point 4"}, ch.Data["labels"])

	off := false
	ch, err = Build(salesFrame(), Area, ChartConfig{X: "city", Y: "sales", Width: 300, ShowGrid: &off, ColorScheme: "viridis"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, 300, ch.Styling.Width)
	assert.False(t, ch.Styling.ShowGrid)
	assert.Equal(t, []string{"A", "C", "B", "D"}, ch.Data["x"])

	_, err = Build(salesFrame(), Line, ChartConfig{Y: "sales", ColorScheme: "neon"}, defaults)
	assert.Equal(t, apperrors.Invalid, kind(err))
}

func TestBuild_PieGroupsTail(t *testing.T) {
	var rows []map[string]interface{}
	for i := 0; i < 10; i++ {
		for j := 0; j < 10-i; j++ {
			rows = append(rows, map[string]interface{}{"cat": fmt.Sprintf("c%d", i)})
		}
	}
	ch, err := Build(dataset.FromRecords(rows), Pie, ChartConfig{X: "cat"}, defaults)
	require.NoError(t, err)
	labels := ch.Data["labels"].([]string)
	values := ch.Data["values"].([]float64)
	require.Len(t, labels, maxPieSegments)
	assert.Equal(t, "c0", labels[0])
	assert.Equal(t, 10.0, values[0])
	assert.Equal(t, "Other", labels[7])
	assert.Equal(t, 6.0, values[7])
}

func TestBuild_Histogram(t *testing.T) {
	var rows []map[string]interface{}
	for i := 0; i < 10; i++ {
		rows = append(rows, map[string]interface{}{"v": float64(i)})
	}
	ch, err := Build(dataset.FromRecords(rows), Histogram, ChartConfig{Value: "v", Bins: 5}, defaults)
	require.NoError(t, err)
	assert.Equal(t, 5, ch.Data["bins"])
	assert.Equal(t, []float64{2, 2, 2, 2, 2}, ch.Data["counts"])
	edges := ch.Data["bin_edges"].([]float64)
	require.Len(t, edges, 6)
	assert.Equal(t, 0.0, edges[0])
	assert.Equal(t, 9.0, edges[5])
}

func TestBuild_ScatterAndBubble(t *testing.T) {
	ch, err := Build(salesFrame(), Scatter, ChartConfig{X: "units", Y: "sales"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40}, ch.Data["x"])
	assert.NotContains(t, ch.Data, "size")

	_, err = Build(salesFrame(), Bubble, ChartConfig{X: "units", Y: "sales"}, defaults)
	assert.Equal(t, apperrors.Invalid, kind(err))

	ch, err = Build(salesFrame(), Bubble, ChartConfig{X: "units", Y: "sales", Size: "price"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6, 8}, ch.Data["size"])

	_, err = Build(salesFrame(), Scatter, ChartConfig{X: "units", Y: "region"}, defaults)
	assert.Equal(t, apperrors.Invalid, kind(err))
}

func TestBuild_BoxGroups(t *testing.T) {
	ch, err := Build(salesFrame(), Box, ChartConfig{Group: "region", Value: "sales"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, []string{"N", "S", "E"}, ch.Data["groups"])
	values := ch.Data["values"].(map[string][]float64)
	assert.Equal(t, []float64{1, 3}, values["N"])

	ch, err = Build(salesFrame(), Violin, ChartConfig{Columns: []string{"sales", "units"}}, defaults)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales", "units"}, ch.Data["groups"])
}

func TestBuild_Heatmap(t *testing.T) {
	ch, err := Build(salesFrame(), Heatmap, ChartConfig{Columns: []string{"sales", "units"}}, defaults)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 1}, {1, 1}}, ch.Data["z"])

	ch, err = Build(salesFrame(), Heatmap, ChartConfig{X: "region", Y: "city", Value: "sales"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, []string{"N", "S", "E"}, ch.Data["x"])
	assert.Equal(t, []string{"A", "C", "B", "D"}, ch.Data["y"])
	z := ch.Data["z"].([][]float64)
	assert.Equal(t, 3.0, z[2][0])
	assert.Equal(t, 0.0, z[2][1])
}

func TestBuild_Sunburst(t *testing.T) {
	ch, err := Build(salesFrame(), Sunburst, ChartConfig{Path: []string{"region", "city"}, Value: "sales"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, []string{"N", "N/A", "S", "S/C", "N/B", "E", "E/D"}, ch.Data["ids"])
	assert.Equal(t, []string{"", "N", "", "S", "N", "", "E"}, ch.Data["parents"])
	assert.Equal(t, []float64{4, 1, 2, 2, 3, 4, 4}, ch.Data["values"])

	_, err = Build(salesFrame(), Sunburst, ChartConfig{}, defaults)
	assert.Equal(t, apperrors.Invalid, kind(err))
}

func TestBuild_UnknownColumnSuggests(t *testing.T) {
	_, err := Build(salesFrame(), Line, ChartConfig{Y: "sale"}, defaults)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sales")
}

func TestRender_AllTypes(t *testing.T) {
	configs := map[string]ChartConfig{
		Line:      {Y: "sales"},
		Area:      {X: "units", Y: "sales"},
		Bar:       {X: "region", Y: "sales"},
		Scatter:   {X: "units", Y: "sales"},
		Bubble:    {X: "units", Y: "sales", Size: "price"},
		Histogram: {Value: "sales", Bins: 3},
		Box:       {Group: "region", Value: "sales"},
		Violin:    {},
		Heatmap:   {},
		Pie:       {X: "region", Y: "sales"},
		Sunburst:  {Path: []string{"region", "city"}},
	}
	require.Len(t, configs, len(SupportedChartTypes))
	for ct, cfg := range configs {
		ch, err := Build(salesFrame(), ct, cfg, defaults)
		require.NoError(t, err, ct)
		p, err := Render(ch)
		require.NoError(t, err, ct)
		wt, err := p.WriterTo(200, 150, "svg")
		require.NoError(t, err, ct)
		var sb strings.Builder
		_, err = wt.WriteTo(&sb)
		require.NoError(t, err, ct)
		assert.Contains(t, sb.String(), "<svg", ct)
	}
}

func TestSunburstWedges_SplitParentArc(t *testing.T) {
	ch, err := Build(salesFrame(), Sunburst, ChartConfig{Path: []string{"region", "city"}, Value: "sales"}, defaults)
	require.NoError(t, err)
	ws := sunburstWedges(ch.series, schemeColors("default"))
	require.Len(t, ws, 7)
	// N holds 4 of 10 and its children split that arc 1:3
	assert.InDelta(t, 0.8*3.141592653589793, ws[0].end-ws[0].start, 1e-9)
	assert.InDelta(t, (ws[0].end-ws[0].start)/4, ws[1].end-ws[1].start, 1e-9)
	assert.Equal(t, 0.5, ws[1].inner)
	assert.Equal(t, 1.0, ws[1].outer)
}

type artifactLog struct {
	mu   sync.Mutex
	recs []*storage.ArtifactRecord
}

func (a *artifactLog) SaveArtifact(_ context.Context, rec *storage.ArtifactRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

type frameResolver struct{ f *dataset.Frame }

func (r frameResolver) Resolve(_ context.Context, ref dataset.Ref) (*dataset.Frame, error) {
	if ref.DataID == "missing" {
		return nil, apperrors.NotFoundf("dataset missing not found")
	}
	return r.f, nil
}

func newTestService(t *testing.T) (*Service, *artifactLog, string) {
	dir := t.TempDir()
	arts := &artifactLog{}
	return NewService(frameResolver{f: salesFrame()}, arts, dir, defaults, zaptest.NewLogger(t)), arts, dir
}

func TestService_ChartThenExport(t *testing.T) {
	ctx := context.Background()
	svc, arts, _ := newTestService(t)

	res, err := svc.Chart(ctx, ChartRequest{ChartType: Bar, Config: ChartConfig{X: "region", Y: "sales"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ChartID, "chart_"))
	assert.Equal(t, 3, res.Metadata.DataPoints)
	assert.False(t, res.Metadata.GeneratedAt.IsZero())

	for _, format := range []string{FormatPNG, FormatSVG, FormatPDF, FormatHTML} {
		exp, err := svc.Export(ctx, ExportRequest{ChartID: res.ChartID, Format: format, Quality: "standard"})
		require.NoError(t, err, format)
		assert.Equal(t, format, exp.ExportResult.ExportFormat)
		assert.Equal(t, "1280x720", exp.ExportResult.Resolution)
		assert.True(t, strings.HasSuffix(exp.ExportResult.FileSize, " KB"))
		assert.Equal(t, "/api/v1/visualization/download/"+res.ChartID+"."+format, exp.DownloadURL)

		path, err := svc.Path(res.ChartID + "." + format)
		require.NoError(t, err)
		st, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, st.Size())
	}
	assert.Len(t, arts.recs, 4)

	html, err := os.ReadFile(mustPath(t, svc, res.ChartID+".html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<svg")
	assert.Contains(t, string(html), "<title>Bar Chart</title>")
}

func mustPath(t *testing.T, svc *Service, name string) string {
	p, err := svc.Path(name)
	require.NoError(t, err)
	return p
}

func TestService_ExportInline(t *testing.T) {
	svc, _, _ := newTestService(t)
	exp, err := svc.Export(context.Background(), ExportRequest{ChartType: Pie, Config: ChartConfig{X: "region"}})
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, exp.ExportResult.ExportFormat)
	assert.Equal(t, "1920x1080", exp.ExportResult.Resolution)
}

func TestService_ExportErrors(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Export(ctx, ExportRequest{ChartID: "chart_gone"})
	assert.Equal(t, apperrors.NotFound, kind(err))

	_, err = svc.Export(ctx, ExportRequest{})
	assert.Equal(t, apperrors.Invalid, kind(err))

	_, err = svc.Export(ctx, ExportRequest{ChartType: Bar, Config: ChartConfig{X: "region"}, Format: "docx"})
	assert.Equal(t, apperrors.Invalid, kind(err))

	_, err = svc.Path("../secrets.png")
	assert.Equal(t, apperrors.NotFound, kind(err))
	_, err = svc.Path("nothing.png")
	assert.Equal(t, apperrors.NotFound, kind(err))
}

func TestService_Dashboard(t *testing.T) {
	svc, _, _ := newTestService(t)
	res, err := svc.Dashboard(context.Background(), DashboardRequest{
		Charts: []DashboardChart{
			{Type: Line, ChartConfig: ChartConfig{Y: "sales", Title: "Sales"}},
			{ChartConfig: ChartConfig{X: "region"}},
		},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.DashboardID, "dashboard_"))
	assert.Equal(t, 2, res.TotalCharts)
	assert.Equal(t, "chart_1", res.Charts[0].ChartID)
	assert.Equal(t, "Sales", res.Charts[0].Title)
	assert.Equal(t, "chart_2", res.Charts[1].ChartID)
	assert.Equal(t, Bar, res.Charts[1].Type)
	assert.Equal(t, "Chart 2", res.Charts[1].Title)
	assert.Equal(t, LayoutConfig{Title: "Analytics Dashboard", Theme: "light", Layout: "grid", RefreshInterval: 300}, res.LayoutConfig)

	_, err = svc.Dashboard(context.Background(), DashboardRequest{Charts: []DashboardChart{{Type: "radar"}}})
	assert.Equal(t, apperrors.Invalid, kind(err))
}

func TestService_ChartDatasetMissing(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Chart(context.Background(), ChartRequest{Ref: dataset.Ref{DataID: "missing"}, ChartType: Line})
	assert.Equal(t, apperrors.NotFound, kind(err))
}

func TestPalettes(t *testing.T) {
	svc, _, _ := newTestService(t)
	info := svc.Palettes()
	assert.Len(t, info.Palettes, 5)
	assert.Equal(t, "#1f77b4", info.Palettes["default"][0])
	info.Palettes["default"][0] = "#000000"
	assert.Equal(t, "#1f77b4", Palettes["default"][0])
}
